// Package pgvector implements vector.Store on PostgreSQL using the pgvector
// extension, partitioning entries per normalized model scope via a column
// rather than one table per model.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/semcache/internal/store/vector"
)

// vectorRow is the GORM model backing the semcache_vectors table.
type vectorRow struct {
	Model     string       `gorm:"column:model;primaryKey;type:varchar(128)"`
	Embedding pgvec.Vector `gorm:"column:embedding"`
	EntryID   int64        `gorm:"column:entry_id;primaryKey"`
}

func (vectorRow) TableName() string { return "semcache_vectors" }

const defaultTopK = 10

// Config holds configuration for the pgvector client.
type Config struct {
	DB        *gorm.DB
	Dimension int
}

// Client provides vector.Store operations via PostgreSQL+pgvector.
type Client struct {
	db        *gorm.DB
	sqlDB     *sql.DB
	dimension int
}

// NewClient creates a new pgvector client, enabling the extension and
// migrating the shared vectors table.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("DB is required")
	}

	if err := cfg.DB.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enable pgvector extension: %w", err)
	}
	if err := cfg.DB.WithContext(ctx).AutoMigrate(&vectorRow{}); err != nil {
		return nil, fmt.Errorf("migrate vectors table: %w", err)
	}

	sqlDB, err := cfg.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	return &Client{db: cfg.DB, sqlDB: sqlDB, dimension: cfg.Dimension}, nil
}

var _ vector.Store = (*Client)(nil)

// Create is a no-op: the shared table already exists and rows are
// partitioned by the model column, so provisioning a "collection" is free.
func (c *Client) Create(ctx context.Context, model string) error { return nil }

// MulAdd upserts a batch of (id, embedding) pairs under model.
func (c *Client) MulAdd(ctx context.Context, data []vector.Data, model string) error {
	if len(data) == 0 {
		return nil
	}
	rows := make([]vectorRow, len(data))
	for i, d := range data {
		rows[i] = vectorRow{Model: model, EntryID: d.ID, Embedding: pgvec.NewVector(d.Data)}
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model"}, {Name: "entry_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding"}),
		}).
		Create(&rows).Error
}

// Search returns the topK nearest matches for query under model, ordered
// by ascending cosine distance ("best first").
func (c *Client) Search(ctx context.Context, query []float32, topK int, model string) ([]vector.Match, error) {
	if topK < 0 {
		topK = defaultTopK
	}
	if topK == 0 {
		return nil, nil
	}

	rows, err := c.sqlDB.QueryContext(ctx, `
		SELECT entry_id, embedding <=> $1 AS distance
		FROM semcache_vectors
		WHERE model = $2
		ORDER BY distance
		LIMIT $3`,
		pgvec.NewVector(query), model, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var m vector.Match
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Delete removes ids from model's partition.
func (c *Client) Delete(ctx context.Context, ids []int64, model string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := c.db.WithContext(ctx).
		Where("model = ? AND entry_id IN ?", model, ids).
		Delete(&vectorRow{})
	return int(res.RowsAffected), res.Error
}

// RebuildCollection drops every row for model.
func (c *Client) RebuildCollection(ctx context.Context, model string) error {
	return c.db.WithContext(ctx).Where("model = ?", model).Delete(&vectorRow{}).Error
}

// Flush is a no-op: GORM writes commit synchronously.
func (c *Client) Flush(ctx context.Context) error { return nil }

// Close releases the underlying sql.DB connection.
func (c *Client) Close() error { return c.sqlDB.Close() }
