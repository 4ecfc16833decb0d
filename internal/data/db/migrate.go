package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
)

// postgresIndexes are created after AutoMigrate. They cover the hot paths
// of the job claim query and the per-owner character listing.
var postgresIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_job_run_claim ON job_run (status, run_after, created_at) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_character_owner_created ON character_profile (owner_user_id, created_at DESC)`,
}

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range postgresIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
