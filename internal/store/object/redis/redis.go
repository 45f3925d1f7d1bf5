// Package redis implements object.Store on top of a redigo connection pool.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/semcache/internal/store/object"
)

// Config holds configuration for the Redis object store.
type Config struct {
	Addr        string
	Password    string
	DB          int
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	KeyPrefix   string
}

// Store is an object.Store backed by Redis, using a pooled connection per
// operation in the manner of the redigo connection-pool pattern.
type Store struct {
	pool   *redis.Pool
	prefix string
}

// NewStore creates a Redis-backed object store and verifies connectivity.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 8
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialDatabase(cfg.DB)}
			if cfg.Password != "" {
				opts = append(opts, redis.DialPassword(cfg.Password))
			}
			return redis.Dial("tcp", cfg.Addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	conn := pool.Get()
	_, err := conn.Do("PING")
	conn.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{pool: pool, prefix: cfg.KeyPrefix}, nil
}

var _ object.Store = (*Store)(nil)

func (s *Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + key
}

// Put stores data under key and returns key itself as the handle.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	handle := s.fullKey(key)
	if _, err := conn.Do("SET", handle, data); err != nil {
		return "", fmt.Errorf("redis SET: %w", err)
	}
	return key, nil
}

// Get retrieves the bytes stored under handle.
func (s *Store) Get(ctx context.Context, handle string) ([]byte, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", s.fullKey(handle)))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}
	return data, nil
}

// Delete removes the blob at handle. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, handle string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("DEL", s.fullKey(handle))
	if err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error { return s.pool.Close() }
