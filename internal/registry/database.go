package registry

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveParticipant replaces the participant and all of its credits and debits
// in a single transaction.
func (d *Database) SaveParticipant(record *ParticipantRecord) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	id := record.ParticipantID
	if err := tx.Unscoped().Where("participant_id = ?", id).Delete(&CreditRecord{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Unscoped().Where("participant_id = ?", id).Delete(&DebitRecord{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	var existing ParticipantRecord
	err := tx.Unscoped().Where("participant_id = ?", id).First(&existing).Error
	switch {
	case err == nil:
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		tx.Rollback()
		return err
	}

	if err := tx.Save(record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (d *Database) GetParticipant(participantID string) (*ParticipantRecord, error) {
	var record ParticipantRecord
	if err := d.db.Preload("Credits").Preload("Debits").
		Where("participant_id = ?", participantID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListParticipants returns the requested participants ordered by id, or all
// of them when ids is empty.
func (d *Database) ListParticipants(ids []string) ([]ParticipantRecord, error) {
	var records []ParticipantRecord
	query := d.db.Preload("Credits").Preload("Debits").Order("participant_id")
	if len(ids) > 0 {
		query = query.Where("participant_id IN ?", ids)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (d *Database) DeleteParticipant(participantID string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}

	result := tx.Unscoped().Where("participant_id = ?", participantID).Delete(&ParticipantRecord{})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return gorm.ErrRecordNotFound
	}
	if err := tx.Unscoped().Where("participant_id = ?", participantID).Delete(&CreditRecord{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Unscoped().Where("participant_id = ?", participantID).Delete(&DebitRecord{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
