package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// ActiveTrip is an assignment whose driver should still be reporting positions.
type ActiveTrip struct {
	AssignmentID    uuid.UUID
	FreightOrderID  uuid.UUID
	DriverID        uuid.UUID
	EffectiveStatus enums.TripStatus
}

// Repository reads orders, trips and location history for tracking.
type Repository interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error)
	FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	ActiveTrips(ctx context.Context, subject Subject) ([]ActiveTrip, error)
	AllActiveTrips(ctx context.Context, limit int) ([]ActiveTrip, error)
	LatestSnapshot(ctx context.Context, subject Subject) (*models.LocationSnapshot, error)
	SaveSnapshots(ctx context.Context, rows []models.LocationSnapshot) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// trackedStatuses are stored statuses that may still be moving.
var trackedStatuses = []enums.TripStatus{
	enums.TripStatusAccepted,
	enums.TripStatusLoading,
	enums.TripStatusLoaded,
	enums.TripStatusInTransit,
	enums.TripStatusDeliveredPendingConfirmation,
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error) {
	var order models.FreightOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	var a models.Assignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ActiveTrips lists the subject's assignments whose merged status is still
// before delivery, most recently updated first.
func (r *repository) ActiveTrips(ctx context.Context, subject Subject) ([]ActiveTrip, error) {
	query := r.db.WithContext(ctx).
		Where("freight_order_id = ? AND status IN ?", subject.OrderID, trackedStatuses)
	if subject.AssignmentID != nil {
		query = query.Where("id = ?", *subject.AssignmentID)
	}
	var rows []models.Assignment
	if err := query.Order("status_updated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.merge(ctx, rows)
}

func (r *repository) AllActiveTrips(ctx context.Context, limit int) ([]ActiveTrip, error) {
	var rows []models.Assignment
	err := r.db.WithContext(ctx).
		Where("status IN ?", trackedStatuses).
		Order("status_updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.merge(ctx, rows)
}

func (r *repository) merge(ctx context.Context, rows []models.Assignment) ([]ActiveTrip, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, a := range rows {
		ids = append(ids, a.ID)
	}
	var progress []models.TripProgress
	if err := r.db.WithContext(ctx).Where("assignment_id IN ?", ids).Find(&progress).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]enums.TripStatus, len(progress))
	for _, p := range progress {
		byID[p.AssignmentID] = p.Status
	}

	out := make([]ActiveTrip, 0, len(rows))
	for _, a := range rows {
		effective := trips.Merge(a.Status, byID[a.ID])
		if effective == enums.TripStatusCancelled || effective.AtLeast(enums.TripStatusDelivered) {
			continue
		}
		out = append(out, ActiveTrip{
			AssignmentID:    a.ID,
			FreightOrderID:  a.FreightOrderID,
			DriverID:        a.DriverID,
			EffectiveStatus: effective,
		})
	}
	return out, nil
}

// LatestSnapshot returns nil, nil when no history exists for the subject.
func (r *repository) LatestSnapshot(ctx context.Context, subject Subject) (*models.LocationSnapshot, error) {
	query := r.db.WithContext(ctx).Where("freight_order_id = ?", subject.OrderID)
	if subject.AssignmentID != nil {
		query = query.Where("assignment_id = ?", *subject.AssignmentID)
	}
	var snap models.LocationSnapshot
	err := query.Order("captured_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshots inserts history rows, skipping samples already captured.
func (r *repository) SaveSnapshots(ctx context.Context, rows []models.LocationSnapshot) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return result.RowsAffected, result.Error
}

// DeleteSnapshotsBefore prunes history older than cutoff.
func DeleteSnapshotsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Where("captured_at < ?", cutoff).Delete(&models.LocationSnapshot{})
	return result.RowsAffected, result.Error
}
