package postgres

import (
	"database/sql"
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies all pending schema migrations with gormigrate,
// mirroring the way the teacher's gorm.Store.NewStore bootstraps schema.
func runMigrations(db *gorm.DB, sqlDB *sql.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_modelcache_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&LLMAnswer{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&QueryLog{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("modelcache_llm_answer", "modelcache_query_log")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
