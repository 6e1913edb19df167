package assignments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

var terminalStatuses = []enums.TripStatus{enums.TripStatusCompleted, enums.TripStatusCancelled}

// Repository defines persistence for assignments and the rows the allocator reads.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error)
	FindDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error)
	ListCompanyDrivers(ctx context.Context, companyID uuid.UUID, driverIDs []uuid.UUID) ([]models.Driver, error)
	ActiveDriverIDs(ctx context.Context, orderID uuid.UUID, driverIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	PendingObligations(ctx context.Context, orderID uuid.UUID, driverIDs []uuid.UUID) ([]models.RatingObligation, error)
	CountActiveForDriver(ctx context.Context, driverID uuid.UUID) (int64, error)
	CountActiveForCompany(ctx context.Context, companyID uuid.UUID) (int64, error)
	CreateAssignment(ctx context.Context, assignment *models.Assignment) error
	BindDriver(ctx context.Context, orderID, driverID uuid.UUID) (bool, error)
	FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	ListForDriver(ctx context.Context, driverID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Assignment, error)
	FindObligation(ctx context.Context, assignmentID, raterID uuid.UUID) (*models.RatingObligation, error)
	SatisfyObligation(ctx context.Context, id uuid.UUID, score int, comment *string, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an assignments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.FreightOrder, error) {
	var order models.FreightOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	var driver models.Driver
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&driver).Error; err != nil {
		return nil, err
	}
	return &driver, nil
}

// ListCompanyDrivers returns active, capacity-enabled drivers of the company.
// A non-empty driverIDs narrows the pool to those drivers.
func (r *repository) ListCompanyDrivers(ctx context.Context, companyID uuid.UUID, driverIDs []uuid.UUID) ([]models.Driver, error) {
	query := r.db.WithContext(ctx).
		Where("company_id = ? AND active = ? AND capacity_enabled = ?", companyID, true, true)
	if len(driverIDs) > 0 {
		query = query.Where("id IN ?", driverIDs)
	}
	var drivers []models.Driver
	if err := query.Order("display_name ASC, id ASC").Find(&drivers).Error; err != nil {
		return nil, err
	}
	return drivers, nil
}

func (r *repository) ActiveDriverIDs(ctx context.Context, orderID uuid.UUID, driverIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	if len(driverIDs) == 0 {
		return out, nil
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("freight_order_id = ? AND driver_id IN ? AND status NOT IN ?", orderID, driverIDs, terminalStatuses).
		Pluck("driver_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// PendingObligations lists unsatisfied ratings the drivers owe for earlier
// assignments on the same order.
func (r *repository) PendingObligations(ctx context.Context, orderID uuid.UUID, driverIDs []uuid.UUID) ([]models.RatingObligation, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}
	var rows []models.RatingObligation
	err := r.db.WithContext(ctx).
		Where("freight_order_id = ? AND rater_id IN ? AND satisfied_at IS NULL", orderID, driverIDs).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountActiveForDriver counts the driver's non-terminal assignments across all orders.
func (r *repository) CountActiveForDriver(ctx context.Context, driverID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("driver_id = ? AND status NOT IN ?", driverID, terminalStatuses).
		Count(&n).Error
	return n, err
}

func (r *repository) CountActiveForCompany(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("company_id = ? AND status NOT IN ?", companyID, terminalStatuses).
		Count(&n).Error
	return n, err
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) BindDriver(ctx context.Context, orderID, driverID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.FreightOrder{}).
		Where("id = ? AND bound_driver_id IS NULL AND required_slots = 1", orderID).
		UpdateColumn("bound_driver_id", driverID)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) FindAssignment(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repository) ListForDriver(ctx context.Context, driverID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Assignment, error) {
	var rows []models.Assignment
	err := r.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindObligation(ctx context.Context, assignmentID, raterID uuid.UUID) (*models.RatingObligation, error) {
	var row models.RatingObligation
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND rater_id = ?", assignmentID, raterID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) SatisfyObligation(ctx context.Context, id uuid.UUID, score int, comment *string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RatingObligation{}).
		Where("id = ? AND satisfied_at IS NULL", id).
		Updates(map[string]any{
			"score":        score,
			"comment":      comment,
			"satisfied_at": now,
		})
	return result.RowsAffected > 0, result.Error
}
