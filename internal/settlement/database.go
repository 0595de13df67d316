package settlement

import (
	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/internal/compensation"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetExecutingMatches returns the matches whose schedules are in progress.
func (d *Database) GetExecutingMatches() ([]compensation.MatchRecord, error) {
	var matches []compensation.MatchRecord
	if err := d.db.Where("status = ?", compensation.MatchExecuting).
		Order("created_at, id").
		Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

func (d *Database) GetMatch(matchID string) (*compensation.MatchRecord, error) {
	var match compensation.MatchRecord
	if err := d.db.Where("match_id = ?", matchID).First(&match).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// SaveProgress updates the match and appends its events in one transaction.
// It fails with compensation.ErrStaleMatch when the match changed after it
// was loaded; nothing is written in that case.
func (d *Database) SaveProgress(match *compensation.MatchRecord, events []ScheduleEvent) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := compensation.NewDatabase(tx).UpdateMatchState(match); err != nil {
		tx.Rollback()
		return err
	}
	for i := range events {
		if err := tx.Create(&events[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (d *Database) GetMatchEvents(matchID string) ([]ScheduleEvent, error) {
	var events []ScheduleEvent
	if err := d.db.Where("match_id = ?", matchID).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
