package datamanager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/internal/dbcache"
	"github.com/thebtf/semcache/internal/memcache"
	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/internal/store/vector/memory"
	"github.com/thebtf/semcache/pkg/models"
	"github.com/thebtf/semcache/pkg/similarity"
)

// failingVector always fails Delete, used to exercise Manager.Delete's
// short-circuit of the scalar tombstone attempt.
type failingVector struct{ vector.Store }

func (failingVector) Delete(context.Context, []int64, string) (int, error) {
	return 0, errors.New("vector backend unavailable")
}

type fakeScalar struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*models.ScalarRecord
	deleted map[int64]bool
}

func newFakeScalar() *fakeScalar {
	return &fakeScalar{rows: make(map[int64]*models.ScalarRecord), deleted: make(map[int64]bool)}
}

func (f *fakeScalar) BatchInsert(_ context.Context, model string, records []models.CacheData) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(records))
	for i, rec := range records {
		f.nextID++
		id := f.nextID
		ids[i] = id
		f.rows[id] = &models.ScalarRecord{
			ID:       id,
			Question: rec.Question.Content,
			Answer:   rec.Answers[0].Value,
			Model:    model,
		}
	}
	return ids, nil
}

func (f *fakeScalar) InsertQueryResp(context.Context, models.QueryLogRecord) error { return nil }

func (f *fakeScalar) GetDataByID(_ context.Context, id int64) (*models.ScalarRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[id] {
		return nil, nil
	}
	return f.rows[id], nil
}

func (f *fakeScalar) UpdateHitCountByID(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.HitCount++
	}
	return nil
}

func (f *fakeScalar) MarkDeleted(_ context.Context, ids []int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := f.rows[id]; ok && !f.deleted[id] {
			f.deleted[id] = true
			n++
		}
	}
	return n, nil
}

func (f *fakeScalar) ModelDeleted(_ context.Context, model string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, r := range f.rows {
		if r.Model == model && !f.deleted[id] {
			f.deleted[id] = true
			n++
		}
	}
	return n, nil
}

func (f *fakeScalar) ClearDeletedData(context.Context) error { return nil }

func (f *fakeScalar) GetIDs(_ context.Context, model string, includeDeleted bool) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, r := range f.rows {
		if r.Model != model {
			continue
		}
		if f.deleted[id] && !includeDeleted {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeScalar) Count(_ context.Context, model string) (int, error) {
	ids, err := f.GetIDs(context.Background(), model, false)
	return len(ids), err
}

func (f *fakeScalar) Flush(context.Context) error { return nil }
func (f *fakeScalar) Close() error                { return nil }

type fakeObject struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeObject() *fakeObject { return &fakeObject{blobs: make(map[string][]byte)} }

func (f *fakeObject) Put(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := "obj:" + key
	f.blobs[handle] = append([]byte(nil), data...)
	return handle, nil
}

func (f *fakeObject) Get(_ context.Context, handle string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[handle], nil
}

func (f *fakeObject) Delete(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, handle)
	return nil
}

func (f *fakeObject) Close() error { return nil }

func newTestManager(t *testing.T, obj *fakeObject) (*Manager, *fakeScalar) {
	t.Helper()
	sc := newFakeScalar()
	vs := memory.NewStore(similarity.MetricCosine)
	db := dbcache.New(sc, vs)
	mem := memcache.New(10, memcache.PolicyARC, nil)

	cfg := Config{Scalar: sc, Vector: vs, Memory: mem, Database: db}
	if obj != nil {
		cfg.Object = obj
	}
	return New(cfg), sc
}

func TestSaveAssignsIDsAndPopulatesMemoryCache(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	records := []models.CacheData{
		{
			Question:  models.Question{Content: "what is go"},
			Answers:   []models.Answer{{Type: models.AnswerSTR, Value: "a language"}},
			Embedding: []float32{1, 0, 0},
		},
	}

	ids, err := m.Save(ctx, records, "gpt-4")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	_, hit := m.mem.Get(ids[0], "gpt-4")
	require.True(t, hit)
}

func TestSaveOffloadsBase64Answer(t *testing.T) {
	obj := newFakeObject()
	m, sc := newTestManager(t, obj)
	ctx := context.Background()

	records := []models.CacheData{
		{
			Question:  models.Question{Content: "show me a cat"},
			Answers:   []models.Answer{{Type: models.AnswerImageBase64, Value: "aGVsbG8="}},
			Embedding: []float32{0, 1, 0},
		},
	}

	ids, err := m.Save(ctx, records, "vision")
	require.NoError(t, err)

	rec, err := sc.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Contains(t, rec.Answer, "obj:")
}

func TestSaveResolvesImageURLDep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	obj := newFakeObject()
	m, _ := newTestManager(t, obj)
	ctx := context.Background()

	records := []models.CacheData{
		{
			Question: models.Question{
				Content: "what is in this picture",
				Deps:    []models.Dep{{Name: "img", Data: srv.URL, Type: models.DepImageURL}},
			},
			Answers:   []models.Answer{{Type: models.AnswerSTR, Value: "a cat"}},
			Embedding: []float32{1, 1, 0},
		},
	}

	_, err := m.Save(ctx, records, "vision")
	require.NoError(t, err)
	require.Contains(t, records[0].Question.Deps[0].Data, "obj:")
}

func TestGetScalarDataTouchesMemoryCacheThenReadsScalarStore(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	ids, err := m.Save(ctx, []models.CacheData{{
		Question:  models.Question{Content: "q"},
		Answers:   []models.Answer{{Value: "a"}},
		Embedding: []float32{1, 0, 0},
	}}, "m1")
	require.NoError(t, err)

	rec, err := m.GetScalarData(ctx, ids[0], "m1")
	require.NoError(t, err)
	require.Equal(t, "a", rec.Answer)
}

func TestUpdateHitCount(t *testing.T) {
	m, sc := newTestManager(t, nil)
	ctx := context.Background()

	ids, err := m.Save(ctx, []models.CacheData{{
		Question: models.Question{Content: "q"},
		Answers:  []models.Answer{{Value: "a"}},
	}}, "m1")
	require.NoError(t, err)

	require.NoError(t, m.UpdateHitCount(ctx, ids[0]))
	rec, err := sc.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.HitCount)
}

func TestDeleteShortCircuitsScalarOnVectorFailure(t *testing.T) {
	m, sc := newTestManager(t, nil)
	ctx := context.Background()

	ids, err := m.Save(ctx, []models.CacheData{{
		Question:  models.Question{Content: "q"},
		Answers:   []models.Answer{{Value: "a"}},
		Embedding: []float32{1, 0, 0},
	}}, "m1")
	require.NoError(t, err)

	m.vector = failingVector{Store: m.vector}

	res := m.Delete(ctx, ids, "m1")
	require.True(t, res.ScalarUnexecuted)

	rec, err := sc.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, rec) // scalar tombstone was skipped
}

func TestTruncateClearsMemoryAndDurableTiers(t *testing.T) {
	m, sc := newTestManager(t, nil)
	ctx := context.Background()

	ids, err := m.Save(ctx, []models.CacheData{{
		Question:  models.Question{Content: "q"},
		Answers:   []models.Answer{{Value: "a"}},
		Embedding: []float32{1, 0, 0},
	}}, "m1")
	require.NoError(t, err)

	require.NoError(t, m.Truncate(ctx, "m1"))

	_, hit := m.mem.Get(ids[0], "m1")
	require.False(t, hit)

	rec, err := sc.GetDataByID(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, rec)
}
