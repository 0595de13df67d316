package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/registry"
)

// AddParticipantRegistry creates the participant, credit and debit tables and
// the indexes used when loading holdings for a run
func AddParticipantRegistry(db *gorm.DB) error {
	if err := db.AutoMigrate(&registry.ParticipantRecord{}, &registry.CreditRecord{}, &registry.DebitRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Screening filters holdings by status and instrument
		`CREATE INDEX IF NOT EXISTS idx_credit_records_status_type
		 ON credit_records(status, type)`,

		`CREATE INDEX IF NOT EXISTS idx_debit_records_status_type
		 ON debit_records(status, type)`,

		`CREATE INDEX IF NOT EXISTS idx_participant_records_risk_tier
		 ON participant_records(risk_tier)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
