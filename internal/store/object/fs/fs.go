// Package fs implements object.Store on the local filesystem, sharding
// blobs into two-character prefix directories to keep any one directory
// small.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thebtf/semcache/internal/store/object"
)

// Store is a filesystem-backed object.Store rooted at Dir.
type Store struct {
	dir string
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create object store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

var _ object.Store = (*Store)(nil)

func (s *Store) pathFor(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.dir, shard, key)
}

// Put writes data to a sharded path under key and returns key as the
// handle.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return key, nil
}

// Get reads the bytes stored under handle. A missing file is not an error;
// it returns (nil, nil).
func (s *Store) Get(ctx context.Context, handle string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(handle))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes the file at handle. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, handle string) error {
	err := os.Remove(s.pathFor(handle))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Close is a no-op: there is no connection to release.
func (s *Store) Close() error { return nil }
