// Package scalar defines the durable record-of-truth store for (question,
// answer, embedding, model, hit-count, tombstone) rows.
package scalar

import (
	"context"

	"github.com/thebtf/semcache/pkg/models"
)

// Store is the capability interface every scalar backend implements.
// Implementations must be safe for concurrent callers; transactional
// batching is not required, but BatchInsert MUST return ids in input order.
type Store interface {
	// BatchInsert persists records and returns their assigned ids in the
	// same order as the input.
	BatchInsert(ctx context.Context, model string, records []models.CacheData) ([]int64, error)

	// InsertQueryResp writes a best-effort audit row.
	InsertQueryResp(ctx context.Context, rec models.QueryLogRecord) error

	// GetDataByID returns the record for id, or nil if absent or tombstoned.
	GetDataByID(ctx context.Context, id int64) (*models.ScalarRecord, error)

	// UpdateHitCountByID increments the hit counter for id.
	UpdateHitCountByID(ctx context.Context, id int64) error

	// MarkDeleted soft-deletes ids, returning the count actually tombstoned.
	MarkDeleted(ctx context.Context, ids []int64) (int, error)

	// ModelDeleted tombstones every row belonging to model.
	ModelDeleted(ctx context.Context, model string) (int, error)

	// ClearDeletedData permanently removes tombstoned rows.
	ClearDeletedData(ctx context.Context) error

	// GetIDs lists ids, optionally including tombstoned rows.
	GetIDs(ctx context.Context, model string, includeDeleted bool) ([]int64, error)

	// Count returns the number of live rows.
	Count(ctx context.Context, model string) (int, error)

	// Flush persists any buffered writes.
	Flush(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
