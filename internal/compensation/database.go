package compensation

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-compensation/pkg/response"
)

// ErrStaleMatch reports a state write against a match that changed since it
// was read.
var ErrStaleMatch = fmt.Errorf("%w: match was modified concurrently", response.ErrConflict)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateRunWithIdempotency stores a run, its matches and the idempotency
// record in one transaction. An empty key skips the idempotency record.
func (d *Database) CreateRunWithIdempotency(run *OptimizationRun, matches []*MatchRecord, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(run).Error; err != nil {
		tx.Rollback()
		return err
	}

	for _, m := range matches {
		if err := tx.Create(m).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if idempotencyKey != "" {
		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     run.RunID,
			ResourceType:   "optimization_run",
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key. A missing
// record is reported as nil without an error.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// DeleteIdempotencyRecord removes an expired key so it can be reused.
func (d *Database) DeleteIdempotencyRecord(key string) error {
	return d.db.Unscoped().Where("idempotency_key = ?", key).Delete(&IdempotencyRecord{}).Error
}

func (d *Database) GetRun(runID string) (*OptimizationRun, error) {
	var run OptimizationRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunMatches returns the matches of a run in ranking order.
func (d *Database) GetRunMatches(runID string) ([]MatchRecord, error) {
	var matches []MatchRecord
	if err := d.db.Where("run_id = ?", runID).Order("position").Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

func (d *Database) GetMatch(matchID string) (*MatchRecord, error) {
	var match MatchRecord
	if err := d.db.Where("match_id = ?", matchID).First(&match).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// GetMatchesByStatus returns matches in any of the given statuses, oldest first.
func (d *Database) GetMatchesByStatus(statuses ...string) ([]MatchRecord, error) {
	var matches []MatchRecord
	if err := d.db.Where("status IN ?", statuses).Order("created_at, id").Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

// Transaction runs fn against a Database bound to a single transaction.
func (d *Database) Transaction(fn func(tx *Database) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewDatabase(tx))
	})
}

// UpdateMatchState writes the status and schedule of a match only if the row
// still carries the version that was read, then bumps the version.
func (d *Database) UpdateMatchState(match *MatchRecord) error {
	result := d.db.Model(&MatchRecord{}).
		Where("match_id = ? AND version = ?", match.MatchID, match.Version).
		Updates(map[string]interface{}{
			"status":   match.Status,
			"schedule": match.Schedule,
			"version":  match.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleMatch
	}
	match.Version++
	return nil
}
