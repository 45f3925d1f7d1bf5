package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/semcache/internal/datamanager"
	"github.com/thebtf/semcache/internal/dbcache"
	"github.com/thebtf/semcache/internal/embedding"
	"github.com/thebtf/semcache/internal/memcache"
	"github.com/thebtf/semcache/internal/querylog"
	"github.com/thebtf/semcache/internal/similarity"
	"github.com/thebtf/semcache/internal/store/vector/memory"
	"github.com/thebtf/semcache/pkg/models"
	pkgsimilarity "github.com/thebtf/semcache/pkg/similarity"
)

type fakeScalar struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*models.ScalarRecord
	deleted map[int64]bool
	written []models.QueryLogRecord
}

func newFakeScalar() *fakeScalar {
	return &fakeScalar{rows: make(map[int64]*models.ScalarRecord), deleted: make(map[int64]bool)}
}

func (f *fakeScalar) auditRecords() []models.QueryLogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.QueryLogRecord, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeScalar) BatchInsert(_ context.Context, model string, records []models.CacheData) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(records))
	for i, rec := range records {
		f.nextID++
		id := f.nextID
		ids[i] = id
		f.rows[id] = &models.ScalarRecord{ID: id, Question: rec.Question.Content, Answer: rec.Answers[0].Value, Model: model}
	}
	return ids, nil
}

func (f *fakeScalar) InsertQueryResp(_ context.Context, rec models.QueryLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, rec)
	return nil
}

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

// fakeModel embeds text deterministically: identical text -> identical
// vector, so query-after-insert of the same text is an exact match.
type fakeModel struct{}

func (fakeModel) Name() string    { return "fake" }
func (fakeModel) Version() string { return "v1" }
func (fakeModel) Dimensions() int { return 4 }
func (fakeModel) Close() error    { return nil }

func (fakeModel) Embed(text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r)
	}
	if len(text) == 0 {
		vec[0] = 1
	}
	return vec, nil
}

func (m fakeModel) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = m.Embed(t)
	}
	return out, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeScalar) {
	t.Helper()
	ctx := context.Background()

	sc := newFakeScalar()
	vs := memory.NewStore(pkgsimilarity.MetricCosine)
	db := dbcache.New(sc, vs)
	mem := memcache.New(100, memcache.PolicyARC, nil)
	dm := datamanager.New(datamanager.Config{Scalar: sc, Vector: vs, Memory: mem, Database: db})

	dispatcher, err := embedding.NewDispatcher(ctx, 1, func() (embedding.EmbeddingModel, error) {
		return fakeModel{}, nil
	})
	require.NoError(t, err)

	eval, err := similarity.NewEvaluator(similarity.Config{Metric: pkgsimilarity.MetricCosine, Threshold: 0.5})
	require.NoError(t, err)

	qlog := querylog.New(ctx, sc, 2)
	t.Cleanup(func() { qlog.Close() })

	return New(Config{
		DataManager: dm,
		Vector:      vs,
		Dispatcher:  dispatcher,
		Evaluator:   eval,
		QueryLog:    qlog,
		TopK:        5,
	}), sc
}

func TestRegisterThenAlreadyExists(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	req := `{"type":"register","scope":{"model":"gpt-4.1"}}`
	var resp RegisterResponse

	raw := h.Handle(ctx, []byte(req))
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "create_success", resp.Response)

	raw = h.Handle(ctx, []byte(req))
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "already_exists", resp.Response)
}

func TestInsertThenQueryHits(t *testing.T) {
	h, sc := newTestHandler(t)
	ctx := context.Background()

	insertReq := `{"type":"insert","scope":{"model":"gpt_4_1"},"chat_info":[{"query":"hi","answer":"hello"}]}`
	raw := h.Handle(ctx, []byte(insertReq))
	var ins InsertResponse
	require.NoError(t, json.Unmarshal(raw, &ins))
	require.Equal(t, "success", ins.WriteStatus)

	queryReq := `{"type":"query","scope":{"model":"gpt_4_1"},"query":"hi"}`
	raw = h.Handle(ctx, []byte(queryReq))
	var q QueryResponse
	require.NoError(t, json.Unmarshal(raw, &q))
	require.True(t, q.CacheHit)
	require.Equal(t, "hello", q.Answer)

	// the persisted audit row for the query must carry the original query
	// text, the matched entry's question, and its answer in their own
	// fields rather than leaving query_json/answer empty.
	require.Eventually(t, func() bool { return len(sc.auditRecords()) >= 2 }, time.Second, 5*time.Millisecond)
	records := sc.auditRecords()
	queryRecord := records[len(records)-1]
	require.True(t, queryRecord.CacheHit)
	require.Equal(t, "hi", queryRecord.QueryJSON)
	require.Equal(t, "hi", queryRecord.HitQuery)
	require.Equal(t, "hello", queryRecord.Answer)
}

func TestQueryMissingTypeReturnsBadType(t *testing.T) {
	h, _ := newTestHandler(t)
	raw := h.Handle(context.Background(), []byte(`{"type":"queyr","scope":{"model":"m1"}}`))
	var q QueryResponse
	require.NoError(t, json.Unmarshal(raw, &q))
	require.Equal(t, CodeBadType, q.ErrorCode)
	require.False(t, q.CacheHit)
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	h, _ := newTestHandler(t)
	raw := h.Handle(context.Background(), []byte(`not json`))
	var q QueryResponse
	require.NoError(t, json.Unmarshal(raw, &q))
	require.Equal(t, CodeParse, q.ErrorCode)
}

func TestRemoveSingleThenQueryMisses(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	h.Handle(ctx, []byte(`{"type":"insert","scope":{"model":"m1"},"chat_info":[{"query":"q7","answer":"a7"}]}`))

	raw := h.Handle(ctx, []byte(`{"type":"remove","scope":{"model":"m1"},"remove_type":"single","id_list":[1]}`))
	var rm RemoveResponse
	require.NoError(t, json.Unmarshal(raw, &rm))
	require.Equal(t, CodeSuccess, rm.ErrorCode)

	raw = h.Handle(ctx, []byte(`{"type":"query","scope":{"model":"m1"},"query":"q7"}`))
	var q QueryResponse
	require.NoError(t, json.Unmarshal(raw, &q))
	require.False(t, q.CacheHit)
}
