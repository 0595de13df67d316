package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/compensation"
)

// AddCompensationRuns creates the run and match tables and required indexes
func AddCompensationRuns(db *gorm.DB) error {
	if err := db.AutoMigrate(&compensation.OptimizationRun{}, &compensation.MatchRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Index for the schedule processor and the participant commitment check
		`CREATE INDEX IF NOT EXISTS idx_match_records_status
		 ON match_records(status)`,

		// Composite index for listing a run in ranking order
		`CREATE INDEX IF NOT EXISTS idx_match_records_run_position
		 ON match_records(run_id, position)`,

		`CREATE INDEX IF NOT EXISTS idx_optimization_runs_created_at
		 ON optimization_runs(created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
