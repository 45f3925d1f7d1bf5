package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/pkg/similarity"
)

func TestSearchReturnsClosestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore(similarity.MetricCosine)
	require.NoError(t, s.Create(ctx, "gpt_4"))

	require.NoError(t, s.MulAdd(ctx, []vector.Data{
		{ID: 1, Data: []float32{1, 0, 0}},
		{ID: 2, Data: []float32{0, 1, 0}},
		{ID: 3, Data: []float32{0.9, 0.1, 0}},
	}, "gpt_4"))

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 2, "gpt_4")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, int64(1), matches[0].ID)
	require.Equal(t, int64(3), matches[1].ID)
}

func TestSearchUnknownModelReturnsEmpty(t *testing.T) {
	s := NewStore(similarity.MetricL2)
	matches, err := s.Search(context.Background(), []float32{1, 2, 3}, -1, "no_such_model")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestDeleteAndRebuild(t *testing.T) {
	ctx := context.Background()
	s := NewStore(similarity.MetricL2)
	require.NoError(t, s.MulAdd(ctx, []vector.Data{
		{ID: 1, Data: []float32{1, 1}},
		{ID: 2, Data: []float32{2, 2}},
	}, "m"))

	n, err := s.Delete(ctx, []int64{1, 99}, "m")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	matches, err := s.Search(ctx, []float32{2, 2}, -1, "m")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, int64(2), matches[0].ID)

	require.NoError(t, s.RebuildCollection(ctx, "m"))
	matches, err = s.Search(ctx, []float32{2, 2}, -1, "m")
	require.NoError(t, err)
	require.Empty(t, matches)
}
