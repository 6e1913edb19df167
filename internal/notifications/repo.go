package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

// Repository persists in-app notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Create reports false when a row with the same dedupe key already exists.
	Create(ctx context.Context, n *models.Notification) (bool, error)
	List(ctx context.Context, filter inboxFilter) ([]models.Notification, error)
	// MarkRead reports whether the notification belongs to userID at all.
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// inboxFilter selects one page of a user's inbox.
type inboxFilter struct {
	UserID     uuid.UUID
	Limit      int
	After      *pagination.Cursor
	UnreadOnly bool
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) inbox(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

func (r *gormRepository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) List(ctx context.Context, filter inboxFilter) ([]models.Notification, error) {
	q := r.inbox(ctx, filter.UserID)
	if filter.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var rows []models.Notification
	err := q.Scopes(pagination.Keyset(filter.After, filter.Limit)).Find(&rows).Error
	return rows, err
}

func (r *gormRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (bool, error) {
	var row models.Notification
	err := r.inbox(ctx, userID).Select("id", "read_at").Where("id = ?", notificationID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row.ReadAt != nil {
		return true, nil
	}
	err = r.inbox(ctx, userID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", now).Error
	return true, err
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := r.inbox(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteOlderThan removes notifications created before cutoff, read or not.
func (r *gormRepository) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
