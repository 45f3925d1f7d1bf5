// Package object defines the blob-storage interface used for out-of-line
// image payloads: base64-image answers and the fetched bodies of
// DepImageURL question dependencies.
package object

import "context"

// Store is the capability interface every object backend implements. Put
// returns an opaque handle that Get/Delete accept; callers never interpret
// the handle's shape.
type Store interface {
	// Put stores data and returns a handle that can later retrieve it.
	Put(ctx context.Context, key string, data []byte) (handle string, err error)

	// Get retrieves the bytes previously stored under handle.
	Get(ctx context.Context, handle string) ([]byte, error)

	// Delete removes the blob referenced by handle. Deleting an absent
	// handle is not an error.
	Delete(ctx context.Context, handle string) error

	// Close releases the underlying connection.
	Close() error
}
