// Package dbcache implements DatabaseCache: a thin coordinator pairing the
// scalar (answer/question) store with the vector (embedding) store so
// callers never have to sequence the two by hand.
package dbcache

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/semcache/internal/store/scalar"
	"github.com/thebtf/semcache/internal/store/vector"
	"github.com/thebtf/semcache/pkg/models"
)

// Cache coordinates ScalarStore and VectorStore under one model scope.
type Cache struct {
	scalar scalar.Store
	vector vector.Store
}

// New creates a DatabaseCache over the given scalar and vector stores.
func New(s scalar.Store, v vector.Store) *Cache {
	return &Cache{scalar: s, vector: v}
}

// BatchPut inserts records into the scalar store first, then indexes every
// record carrying a non-empty embedding into the vector store under the
// scalar id the insert assigned. Returns the assigned scalar ids in input
// order.
func (c *Cache) BatchPut(ctx context.Context, records []models.CacheData, model string) ([]int64, error) {
	ids, err := c.scalar.BatchInsert(ctx, model, records)
	if err != nil {
		return nil, err
	}

	var vecs []vector.Data
	for i, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		vecs = append(vecs, vector.Data{ID: ids[i], Data: rec.Embedding})
	}
	if len(vecs) > 0 {
		if err := c.vector.MulAdd(ctx, vecs, model); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Search delegates to the vector tier.
func (c *Cache) Search(ctx context.Context, embedding []float32, topK int, model string) ([]vector.Match, error) {
	return c.vector.Search(ctx, embedding, topK, model)
}

// DeleteResult reports the outcome of each tier independently; -1 marks a
// tier whose operation failed rather than simply matching zero rows.
type DeleteResult struct {
	ScalarCount int
	VectorCount int
	ScalarErr   error
	VectorErr   error
}

// Delete attempts a vector delete first, then a scalar tombstone, each
// independently error-caught so a failure in one tier does not block the
// other from being attempted and reported.
func (c *Cache) Delete(ctx context.Context, ids []int64, model string) DeleteResult {
	var res DeleteResult

	n, err := c.vector.Delete(ctx, ids, model)
	if err != nil {
		res.VectorCount = -1
		res.VectorErr = err
		log.Warn().Err(err).Str("model", model).Msg("dbcache: vector delete failed")
	} else {
		res.VectorCount = n
	}

	n, err = c.scalar.MarkDeleted(ctx, ids)
	if err != nil {
		res.ScalarCount = -1
		res.ScalarErr = err
		log.Warn().Err(err).Str("model", model).Msg("dbcache: scalar mark-deleted failed")
	} else {
		res.ScalarCount = n
	}

	return res
}

// Truncate drops every row/vector for model: rebuilds the vector
// collection and tombstones every scalar row.
func (c *Cache) Truncate(ctx context.Context, model string) error {
	if err := c.vector.RebuildCollection(ctx, model); err != nil {
		return err
	}
	_, err := c.scalar.ModelDeleted(ctx, model)
	return err
}

// Flush persists any buffered writes on both tiers.
func (c *Cache) Flush(ctx context.Context) error {
	if err := c.scalar.Flush(ctx); err != nil {
		return err
	}
	return c.vector.Flush(ctx)
}

// Close releases both tiers' underlying connections.
func (c *Cache) Close() error {
	scalarErr := c.scalar.Close()
	vectorErr := c.vector.Close()
	if scalarErr != nil {
		return scalarErr
	}
	return vectorErr
}
