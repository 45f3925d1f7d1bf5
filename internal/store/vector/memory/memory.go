// Package memory implements vector.Store with an in-process brute-force
// scanner. It requires no external service and is the default backend for
// tests and for deployments too small to justify pgvector or Chroma.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/pkg/similarity"
)

const defaultTopK = 10

// Store is a brute-force, all-in-memory vector.Store. Safe for concurrent
// use; every operation takes a single RWMutex.
type Store struct {
	metric similarity.Metric

	mu         sync.RWMutex
	collection map[string]map[int64][]float32 // model -> id -> embedding
}

// NewStore creates an empty in-memory vector store using metric for Search
// ordering.
func NewStore(metric similarity.Metric) *Store {
	return &Store{
		metric:     metric,
		collection: make(map[string]map[int64][]float32),
	}
}

var _ vector.Store = (*Store)(nil)

// Create provisions an empty collection for model, idempotently.
func (s *Store) Create(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection[model] == nil {
		s.collection[model] = make(map[int64][]float32)
	}
	return nil
}

// MulAdd inserts or overwrites a batch of (id, embedding) pairs under model.
func (s *Store) MulAdd(ctx context.Context, data []vector.Data, model string) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.collection[model]
	if m == nil {
		m = make(map[int64][]float32)
		s.collection[model] = m
	}
	for _, d := range data {
		cp := make([]float32, len(d.Data))
		copy(cp, d.Data)
		m[d.ID] = cp
	}
	return nil
}

// Search scans every vector under model and returns the topK best matches.
func (s *Store) Search(ctx context.Context, query []float32, topK int, model string) ([]vector.Match, error) {
	if topK < 0 {
		topK = defaultTopK
	}
	if topK == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.collection[model]
	if len(m) == 0 {
		return nil, nil
	}

	matches := make([]vector.Match, 0, len(m))
	for id, vec := range m {
		var dist float64
		switch s.metric {
		case similarity.MetricCosine:
			// Store cosine as a distance (1 - similarity) so "best first"
			// sorts ascending for both metrics uniformly.
			dist = 1 - similarity.CosineSimilarity(query, vec)
		default:
			dist = similarity.L2Distance(query, vec)
		}
		matches = append(matches, vector.Match{ID: id, Distance: dist})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes ids from model's collection, returning the count removed.
func (s *Store) Delete(ctx context.Context, ids []int64, model string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.collection[model]
	if m == nil {
		return 0, nil
	}
	n := 0
	for _, id := range ids {
		if _, ok := m[id]; ok {
			delete(m, id)
			n++
		}
	}
	return n, nil
}

// RebuildCollection drops and recreates model's collection.
func (s *Store) RebuildCollection(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection[model] = make(map[int64][]float32)
	return nil
}

// Flush is a no-op: there is nothing buffered outside the map itself.
func (s *Store) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
