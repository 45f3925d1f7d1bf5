// Package postgres implements the scalar.Store interface on top of GORM +
// PostgreSQL, with a warmed connection pool and gormigrate-managed schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thebtf/semcache/internal/store/scalar"
)

var _ scalar.Store = (*Store)(nil)

// Store represents the GORM database connection with PostgreSQL support.
type Store struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	metrics *poolMetrics
}

// Config holds database configuration.
type Config struct {
	DSN      string
	MaxConns int
	LogLevel logger.LogLevel
}

// NewStore opens a PostgreSQL connection and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{
		db:      db,
		sqlDB:   sqlDB,
		metrics: newPoolMetrics(100),
	}

	if err := runMigrations(db, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store.warmPool(maxConns / 2)
	return store, nil
}

// warmPool pre-creates connections to avoid cold start latency on the
// first real request.
func (s *Store) warmPool(numConns int) {
	if numConns <= 0 {
		numConns = 4
	}

	var wg sync.WaitGroup
	for i := 0; i < numConns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			conn, err := s.sqlDB.Conn(ctx)
			if err != nil {
				return
			}
			_ = conn.Close()
		}()
	}
	wg.Wait()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// poolMetrics tracks recent query latency for observability.
type poolMetrics struct {
	mu         sync.Mutex
	samples    []time.Duration
	idx, count int
}

func newPoolMetrics(windowSize int) *poolMetrics {
	return &poolMetrics{samples: make([]time.Duration, windowSize)}
}

func (m *poolMetrics) record(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.idx] = d
	m.idx = (m.idx + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}
