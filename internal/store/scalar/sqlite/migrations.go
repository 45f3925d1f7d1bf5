package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the list of all schema migrations in order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "modelcache_core_tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS modelcache_llm_answer (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				gmt_create TEXT NOT NULL,
				gmt_modified TEXT NOT NULL,
				question TEXT NOT NULL,
				answer TEXT NOT NULL,
				answer_type INTEGER NOT NULL DEFAULT 0,
				hit_count INTEGER NOT NULL DEFAULT 0,
				model TEXT NOT NULL,
				embedding_data BLOB,
				is_deleted INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_llm_answer_model ON modelcache_llm_answer(model);
			CREATE INDEX IF NOT EXISTS idx_llm_answer_deleted ON modelcache_llm_answer(is_deleted);
			CREATE INDEX IF NOT EXISTS idx_llm_answer_model_deleted ON modelcache_llm_answer(model, is_deleted);

			CREATE TABLE IF NOT EXISTS modelcache_query_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				gmt_create TEXT NOT NULL,
				gmt_modified TEXT NOT NULL,
				error_code INTEGER NOT NULL,
				error_desc TEXT,
				cache_hit INTEGER NOT NULL DEFAULT 0,
				delta_time REAL,
				model TEXT,
				query TEXT,
				hit_query TEXT,
				answer TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_query_log_model ON modelcache_query_log(model);
		`,
	},
}

// MigrationManager applies pending schema migrations in order, recording
// each applied version so restarts are idempotent.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// EnsureSchemaVersionsTable creates the schema_versions table if absent.
func (m *MigrationManager) EnsureSchemaVersionsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY,
			version INTEGER UNIQUE NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// GetAppliedVersions returns all applied migration versions.
func (m *MigrationManager) GetAppliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_versions ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// ApplyMigration applies a single migration inside a transaction.
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		migration.Version, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RunMigrations applies all pending migrations in version order.
func (m *MigrationManager) RunMigrations() error {
	if err := m.EnsureSchemaVersionsTable(); err != nil {
		return fmt.Errorf("ensure schema_versions table: %w", err)
	}

	applied, err := m.GetAppliedVersions()
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.ApplyMigration(migration); err != nil {
			return err
		}
	}

	return nil
}
