package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

const defaultDLQPage = 50

// DLQRepository stores events the relay gave up on and lets an operator put
// them back.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		short := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &short
	}
	return tx.Create(&entry).Error
}

// DLQFilter narrows List. Zero values mean no filter and the default page.
type DLQFilter struct {
	EventType enums.OutboxEventType
	Reason    enums.OutboxDLQErrorReason
	Limit     int
}

// List returns the most recent failures first.
func (r *DLQRepository) List(ctx context.Context, f DLQFilter) ([]models.OutboxDLQ, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultDLQPage
	}
	q := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Reason != "" {
		q = q.Where("error_reason = ?", f.Reason)
	}
	var out []models.OutboxDLQ
	return out, q.Find(&out).Error
}

// ReplayTx gives a dead-lettered event a fresh attempt budget. The outbox row
// is reset in place, or rebuilt from the snapshot when retention already
// removed it. false means eventID was not in the DLQ.
func (r *DLQRepository) ReplayTx(tx *gorm.DB, events *Repository, eventID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var entries []models.OutboxDLQ
	if err := tx.Where("event_id = ?", eventID).Find(&entries).Error; err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	snap := entries[0]

	reset, err := events.ResetTx(tx, eventID)
	if err != nil {
		return false, fmt.Errorf("reset outbox row %s: %w", eventID, err)
	}
	if !reset {
		row := models.OutboxEvent{
			ID:            snap.EventID,
			EventType:     snap.EventType,
			AggregateType: snap.AggregateType,
			AggregateID:   snap.AggregateID,
			Payload:       snap.Payload,
		}
		if err := events.Insert(tx, row); err != nil {
			return false, fmt.Errorf("restore outbox row %s: %w", eventID, err)
		}
	}
	return true, tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
}
