// Package datamanager implements DataManager: the facade that resolves
// out-of-line payloads, applies normalization policy, and sequences the
// MemoryCache hot set against the durable DatabaseCache tier.
package datamanager

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/semcache/internal/dbcache"
	"github.com/thebtf/semcache/internal/memcache"
	"github.com/thebtf/semcache/internal/store/object"
	"github.com/thebtf/semcache/internal/store/scalar"
	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/pkg/models"
	"github.com/thebtf/semcache/pkg/similarity"
)

const depFetchTimeout = 10 * time.Second

// Manager is the DataManager facade.
type Manager struct {
	normalize bool

	object object.Store // optional; nil disables blob offload
	scalar scalar.Store
	vector vector.Store
	mem    *memcache.Cache
	db     *dbcache.Cache

	httpClient *http.Client
}

// Config wires a Manager's dependencies.
type Config struct {
	Normalize bool
	Object    object.Store // optional
	Scalar    scalar.Store
	Vector    vector.Store
	Memory    *memcache.Cache
	Database  *dbcache.Cache
}

// New constructs a DataManager over the given stores.
func New(cfg Config) *Manager {
	return &Manager{
		normalize:  cfg.Normalize,
		object:     cfg.Object,
		scalar:     cfg.Scalar,
		vector:     cfg.Vector,
		mem:        cfg.Memory,
		db:         cfg.Database,
		httpClient: &http.Client{Timeout: depFetchTimeout},
	}
}

// Save resolves object-backed answers and IMAGE_URL question deps,
// normalizes embeddings if configured, writes through DatabaseCache, and
// records the resulting (id, embedding) pairs in MemoryCache.
func (m *Manager) Save(ctx context.Context, records []models.CacheData, model string) ([]int64, error) {
	for i := range records {
		if err := m.resolveAnswers(ctx, records[i].Answers); err != nil {
			return nil, fmt.Errorf("resolve answer payload: %w", err)
		}
		if err := m.resolveQuestionDeps(ctx, &records[i].Question); err != nil {
			return nil, fmt.Errorf("resolve question deps: %w", err)
		}
		if m.normalize && len(records[i].Embedding) > 0 {
			records[i].Embedding = similarity.Normalize(records[i].Embedding)
		}
	}

	ids, err := m.db.BatchPut(ctx, records, model)
	if err != nil {
		return ids, err
	}

	var pairs []memcache.Pair
	for i, rec := range records {
		if i >= len(ids) || len(rec.Embedding) == 0 {
			continue
		}
		pairs = append(pairs, memcache.Pair{ID: ids[i], Embedding: rec.Embedding})
	}
	if len(pairs) > 0 {
		m.mem.BatchPut(pairs, model)
	}

	return ids, nil
}

// resolveAnswers offloads any base64-image answer into the object store,
// replacing its value with the returned handle. A nil object store leaves
// answers untouched (inline storage is the fallback).
func (m *Manager) resolveAnswers(ctx context.Context, answers []models.Answer) error {
	if m.object == nil {
		return nil
	}
	for i, ans := range answers {
		if ans.Type != models.AnswerImageBase64 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(ans.Value)
		if err != nil {
			return fmt.Errorf("decode base64 answer: %w", err)
		}
		handle, err := m.object.Put(ctx, objectKey(data), data)
		if err != nil {
			return fmt.Errorf("store answer blob: %w", err)
		}
		answers[i].Value = handle
	}
	return nil
}

// resolveQuestionDeps fetches IMAGE_URL deps over HTTP and offloads the
// payload into the object store, replacing the dep's data with the
// handle. A nil object store leaves deps untouched.
func (m *Manager) resolveQuestionDeps(ctx context.Context, q *models.Question) error {
	if m.object == nil {
		return nil
	}
	for i, dep := range q.Deps {
		if dep.Type != models.DepImageURL {
			continue
		}
		data, err := m.fetchURL(ctx, dep.Data)
		if err != nil {
			return fmt.Errorf("fetch image dep %q: %w", dep.Data, err)
		}
		handle, err := m.object.Put(ctx, objectKey(data), data)
		if err != nil {
			return fmt.Errorf("store dep blob: %w", err)
		}
		q.Deps[i].Data = handle
	}
	return nil
}

func (m *Manager) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func objectKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Search normalizes embedding if configured and delegates to
// DatabaseCache.
func (m *Manager) Search(ctx context.Context, embedding []float32, model string, topK int) ([]vector.Match, error) {
	if m.normalize {
		embedding = similarity.Normalize(embedding)
	}
	return m.db.Search(ctx, embedding, topK, model)
}

// GetScalarData touches MemoryCache (to refresh recency/frequency for the
// candidate) then always reads the authoritative record from ScalarStore,
// since MemoryCache's value domain is the embedding only, not the answer
// text.
func (m *Manager) GetScalarData(ctx context.Context, id int64, model string) (*models.ScalarRecord, error) {
	m.mem.Get(id, model)
	return m.scalar.GetDataByID(ctx, id)
}

// UpdateHitCount delegates to ScalarStore.
func (m *Manager) UpdateHitCount(ctx context.Context, id int64) error {
	return m.scalar.UpdateHitCountByID(ctx, id)
}

// DeleteResult mirrors dbcache.DeleteResult but adds the short-circuit
// semantics DataManager.Delete applies on top: a vector failure marks the
// scalar attempt unexecuted rather than attempting it anyway.
type DeleteResult struct {
	VectorCount      int
	VectorErr        error
	ScalarCount      int
	ScalarErr        error
	ScalarUnexecuted bool
}

// Delete pops ids from MemoryCache, then attempts a vector delete; a
// vector failure short-circuits the scalar tombstone attempt (reported as
// unexecuted) rather than masking it.
func (m *Manager) Delete(ctx context.Context, ids []int64, model string) DeleteResult {
	for _, id := range ids {
		m.mem.Pop(id, model)
	}

	var res DeleteResult

	n, err := m.vector.Delete(ctx, ids, model)
	if err != nil {
		res.VectorCount = -1
		res.VectorErr = err
		res.ScalarUnexecuted = true
		log.Warn().Err(err).Str("model", model).Msg("datamanager: vector delete failed, skipping scalar tombstone")
		return res
	}
	res.VectorCount = n

	n, err = m.scalar.MarkDeleted(ctx, ids)
	if err != nil {
		res.ScalarCount = -1
		res.ScalarErr = err
	} else {
		res.ScalarCount = n
	}
	return res
}

// Truncate clears MemoryCache for model, rebuilds the vector collection and
// tombstones the model's scalar rows.
func (m *Manager) Truncate(ctx context.Context, model string) error {
	m.mem.Clear(model)
	return m.db.Truncate(ctx, model)
}

// Flush forwards to DatabaseCache.
func (m *Manager) Flush(ctx context.Context) error { return m.db.Flush(ctx) }

// Close forwards to DatabaseCache. Callers may invoke it more than once. A
// failure is logged and also returned to the caller.
func (m *Manager) Close() error {
	if err := m.db.Close(); err != nil {
		log.Error().Err(err).Msg("datamanager: close failed")
		return err
	}
	return nil
}
