package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/pkg/models"
)

// requires a reachable PostgreSQL instance; set POSTGRES_TEST_DSN to run,
// e.g. "host=localhost user=postgres password=postgres dbname=semcache_test sslmode=disable".
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	s, err := NewStore(Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBatchInsertAndGetDataByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	records := []models.CacheData{
		{Question: models.Question{Content: "q1"}, Answers: []models.Answer{{Value: "a1"}}, Embedding: []float32{1, 2}},
		{Question: models.Question{Content: "q2"}, Answers: []models.Answer{{Value: "a2"}}, Embedding: []float32{3, 4}},
	}

	ids, err := s.BatchInsert(ctx, "gpt_4", records)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rec, err := s.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, "q1", rec.Question)
	require.Equal(t, "a1", rec.Answer)
	require.False(t, rec.Deleted)
}

func TestMarkDeletedTombstonesRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ids, err := s.BatchInsert(ctx, "gpt_4", []models.CacheData{
		{Question: models.Question{Content: "q"}, Answers: []models.Answer{{Value: "a"}}},
	})
	require.NoError(t, err)

	n, err := s.MarkDeleted(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := s.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestUpdateHitCountByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ids, err := s.BatchInsert(ctx, "gpt_4", []models.CacheData{
		{Question: models.Question{Content: "q"}, Answers: []models.Answer{{Value: "a"}}},
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateHitCountByID(ctx, ids[0]))

	rec, err := s.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.HitCount)
}
