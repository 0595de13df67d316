package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/klear-compensation/internal/compensation"
	"github.com/ksred/klear-compensation/internal/database/migrations"
	"github.com/ksred/klear-compensation/internal/settlement"
)

// NewDatabase opens the sqlite database at path and runs all migrations
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddParticipantRegistry(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddCompensationRuns(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&compensation.IdempotencyRecord{},
		&settlement.ScheduleEvent{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
