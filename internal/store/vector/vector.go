// Package vector defines the approximate-nearest-neighbor index interface,
// partitioned per normalized model scope.
package vector

import "context"

// Match is one (distance, id) result from Search. Distance is always a
// true distance regardless of metric — cosine backends report 1-cosine
// similarity, not raw similarity — so every backend sorts "best first" as
// ascending Distance.
type Match struct {
	ID       int64
	Distance float64
}

// Data is the (id, embedding) pair written into the index.
type Data struct {
	ID   int64
	Data []float32
}

// Store is the capability interface every vector backend implements.
// Dimension and metric are fixed at construction.
type Store interface {
	// Create idempotently provisions the collection for model.
	Create(ctx context.Context, model string) error

	// MulAdd indexes a batch of (id, embedding) pairs under model.
	MulAdd(ctx context.Context, data []Data, model string) error

	// Search returns up to topK matches for query under model, ordered
	// best-first. A topK of -1 requests the store's default. If model was
	// never Create'd, Search returns an empty result, not an error.
	Search(ctx context.Context, query []float32, topK int, model string) ([]Match, error)

	// Delete removes ids from model's collection, returning the count
	// actually removed.
	Delete(ctx context.Context, ids []int64, model string) (int, error)

	// RebuildCollection drops and recreates model's collection, atomic
	// from the caller's perspective.
	RebuildCollection(ctx context.Context, model string) error

	// Flush persists any buffered writes.
	Flush(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
