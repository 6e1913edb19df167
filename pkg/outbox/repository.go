package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// InsertUnlessDuplicate reports false when the row's dedupe key is taken.
func (r *Repository) InsertUnlessDuplicate(tx *gorm.DB, event models.OutboxEvent) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
	return res.RowsAffected == 1, res.Error
}

// FetchUnpublishedForPublish locks a batch of due rows. Concurrent publishers
// skip each other's rows.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", r.now().UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at":    r.now().UTC(),
			"next_attempt_at": nil,
		}).Error
}

// MarkFailedTx records a retryable failure and defers the row until retryAt.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAt time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      truncate(err.Error()),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": retryAt.UTC(),
		}).Error
}

// MarkTerminalTx pins attempt_count at the terminal value so the row is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      truncate(err.Error()),
			"attempt_count":   terminalAttempts,
			"next_attempt_at": nil,
		}).Error
}

// ResetTx clears attempts on an unpublished row so the relay picks it up
// again. false means no such row.
func (r *Repository) ResetTx(tx *gorm.DB, id uuid.UUID) (bool, error) {
	res := tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"attempt_count":   0,
			"last_error":      nil,
			"next_attempt_at": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// DeletePublishedBefore removes published rows older than cutoff, plus
// abandoned rows that exhausted minAttemptCount attempts.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("(published_at IS NOT NULL AND published_at < ?) OR (published_at IS NULL AND attempt_count >= ? AND created_at < ?)", cutoff, minAttemptCount, cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func truncate(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}
