package chroma

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/internal/store/vector"
)

// requires a working "uvx chroma-mcp" on PATH; set CHROMA_MCP_TEST=1 to run.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("CHROMA_MCP_TEST") == "" {
		t.Skip("CHROMA_MCP_TEST not set")
	}

	c, err := NewClient(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateMulAddSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	model := "gpt_4_chroma_test"

	require.NoError(t, c.Create(ctx, model))
	require.NoError(t, c.MulAdd(ctx, []vector.Data{
		{ID: 1, Data: []float32{1, 0, 0, 0}},
		{ID: 2, Data: []float32{0, 1, 0, 0}},
	}, model))

	matches, err := c.Search(ctx, []float32{1, 0, 0, 0}, 5, model)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.Equal(t, int64(1), matches[0].ID)
}

func TestDeleteRemovesEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	model := "gpt_4_chroma_delete_test"

	require.NoError(t, c.Create(ctx, model))
	require.NoError(t, c.MulAdd(ctx, []vector.Data{{ID: 9, Data: []float32{1, 1, 1, 1}}}, model))

	n, err := c.Delete(ctx, []int64{9}, model)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
