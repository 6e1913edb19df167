package trips

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// Repository defines persistence for trip transitions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAssignment(ctx context.Context, id uuid.UUID, lock bool) (*models.Assignment, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error)
	FindProgress(ctx context.Context, assignmentID uuid.UUID) (*models.TripProgress, error)
	SaveProgress(ctx context.Context, progress *models.TripProgress) error
	FindReceipt(ctx context.Context, requestID string) (*models.TransitionReceipt, error)
	CreateReceipt(ctx context.Context, receipt *models.TransitionReceipt) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from enums.TripStatus, update StatusUpdate) (bool, error)
	CreateObligation(ctx context.Context, obligation *models.RatingObligation) error
	CountUnfinished(ctx context.Context, orderID uuid.UUID) (int64, error)
	CompleteOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	MirrorTripStatus(ctx context.Context, orderID, driverID uuid.UUID, status enums.TripStatus, now time.Time) error
	ClearBinding(ctx context.Context, orderID, driverID uuid.UUID) error
	ListAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]models.Assignment, error)
}

// StatusUpdate carries the columns written with a status change.
type StatusUpdate struct {
	Status             enums.TripStatus
	At                 time.Time
	DeliveredPendingAt *time.Time
	Notes              *string
	Lat                *float64
	Lng                *float64
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a trips repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAssignment(ctx context.Context, id uuid.UUID, lock bool) (*models.Assignment, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var assignment models.Assignment
	if err := query.Where("id = ?", id).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error) {
	var order models.FreightOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindProgress returns nil, nil when no progress signal was ever recorded.
func (r *repository) FindProgress(ctx context.Context, assignmentID uuid.UUID) (*models.TripProgress, error) {
	var progress models.TripProgress
	err := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *repository) SaveProgress(ctx context.Context, progress *models.TripProgress) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(progress).Error
}

// FindReceipt returns nil, nil for an unknown request id.
func (r *repository) FindReceipt(ctx context.Context, requestID string) (*models.TransitionReceipt, error) {
	var receipt models.TransitionReceipt
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *repository) CreateReceipt(ctx context.Context, receipt *models.TransitionReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

// UpdateStatus moves the assignment only if it still holds from, so a
// concurrent writer makes it report false instead of overwriting.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from enums.TripStatus, update StatusUpdate) (bool, error) {
	columns := map[string]any{
		"status":            update.Status,
		"status_updated_at": update.At,
		"updated_at":        update.At,
	}
	if update.DeliveredPendingAt != nil {
		columns["delivered_pending_at"] = *update.DeliveredPendingAt
	}
	if update.Notes != nil {
		columns["last_notes"] = *update.Notes
	}
	if update.Lat != nil && update.Lng != nil {
		columns["last_lat"] = *update.Lat
		columns["last_lng"] = *update.Lng
	}
	result := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(columns)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) CreateObligation(ctx context.Context, obligation *models.RatingObligation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(obligation).Error
}

// CountUnfinished counts assignments of the order that are neither completed nor cancelled.
func (r *repository) CountUnfinished(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("freight_order_id = ? AND status NOT IN ?", orderID,
			[]enums.TripStatus{enums.TripStatusCompleted, enums.TripStatusCancelled}).
		Count(&n).Error
	return n, err
}

// CompleteOrder closes a full, in-progress order.
func (r *repository) CompleteOrder(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.FreightOrder{}).
		Where("id = ? AND status = ? AND granted_slots = required_slots", orderID, enums.FreightOrderStatusInProgress).
		UpdateColumns(map[string]any{
			"status":     enums.FreightOrderStatusCompleted,
			"updated_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

// MirrorTripStatus copies a status onto the order's legacy aggregate fields.
// Only orders bound to the driver carry a meaningful single trip status.
func (r *repository) MirrorTripStatus(ctx context.Context, orderID, driverID uuid.UUID, status enums.TripStatus, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.FreightOrder{}).
		Where("id = ? AND bound_driver_id = ?", orderID, driverID).
		UpdateColumns(map[string]any{
			"trip_status":            status,
			"trip_status_updated_at": now,
		}).Error
}

// ClearBinding frees a single-slot order whose bound driver gave the slot back.
func (r *repository) ClearBinding(ctx context.Context, orderID, driverID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.FreightOrder{}).
		Where("id = ? AND bound_driver_id = ?", orderID, driverID).
		UpdateColumns(map[string]any{
			"bound_driver_id":        nil,
			"trip_status":            nil,
			"trip_status_updated_at": nil,
		}).Error
}

func (r *repository) ListAwaitingConfirmation(ctx context.Context, cutoff time.Time, limit int) ([]models.Assignment, error) {
	var rows []models.Assignment
	err := r.db.WithContext(ctx).
		Where("status = ? AND delivered_pending_at <= ?", enums.TripStatusDeliveredPendingConfirmation, cutoff).
		Order("delivered_pending_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
