package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

const reserveSQL = `
UPDATE freight_orders
SET granted_slots = granted_slots + ?,
    status = CASE WHEN granted_slots + ? >= required_slots THEN 'in_progress' ELSE status END,
    updated_at = ?
WHERE id = ?
  AND status = 'open'
  AND granted_slots + ? <= required_slots`

const releaseSQL = `
UPDATE freight_orders
SET granted_slots = granted_slots - ?,
    status = CASE WHEN status = 'in_progress' AND granted_slots - ? < required_slots THEN 'open' ELSE status END,
    updated_at = ?
WHERE id = ?
  AND granted_slots >= ?`

// Reservation is the outcome of a Reserve call. AvailableSlots reflects the
// order after the call, whether or not the reservation was granted.
type Reservation struct {
	Granted        bool
	AvailableSlots int
	GrantedSlots   int
	RequiredSlots  int
	Status         enums.FreightOrderStatus
	// FirstGrant is true when the order had no granted slot before this call.
	FirstGrant bool
}

// Snapshot is a read-only view of an order's capacity.
type Snapshot struct {
	FreightOrderID uuid.UUID                `json:"freightOrderId"`
	RequiredSlots  int                      `json:"requiredSlots"`
	GrantedSlots   int                      `json:"grantedSlots"`
	AvailableSlots int                      `json:"availableSlots"`
	Status         enums.FreightOrderStatus `json:"status"`
}

// Ledger guards the granted_slots counter of freight orders.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Reserve grants count slots on the order inside tx. The order row is read
// fresh (locked on postgres) and the increment is applied with a guarded
// UPDATE, so a lost race surfaces as CONCURRENT_CONFLICT instead of an oversell.
// A rejected reservation (order not open, not enough slots) returns
// Granted=false with a nil error.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, freightOrderID uuid.UUID, count int) (Reservation, error) {
	if tx == nil {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeInternal, "capacity reservation requires a transaction")
	}
	if freightOrderID == uuid.Nil {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "freight order id required")
	}
	if count < 1 {
		return Reservation{}, pkgerrors.New(pkgerrors.CodeValidation, "slot count must be at least 1")
	}

	order, err := loadForUpdate(ctx, tx, freightOrderID)
	if err != nil {
		return Reservation{}, err
	}

	res := Reservation{
		AvailableSlots: order.AvailableSlots(),
		GrantedSlots:   order.GrantedSlots,
		RequiredSlots:  order.RequiredSlots,
		Status:         order.Status,
		FirstGrant:     order.GrantedSlots == 0,
	}
	if order.Status != enums.FreightOrderStatusOpen || res.AvailableSlots < count {
		return res, nil
	}

	if err := l.apply(ctx, tx, freightOrderID, count); err != nil {
		return res, err
	}

	res.Granted = true
	res.GrantedSlots += count
	res.AvailableSlots -= count
	if res.GrantedSlots >= res.RequiredSlots {
		res.Status = enums.FreightOrderStatusInProgress
	}
	return res, nil
}

func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, freightOrderID uuid.UUID, count int) error {
	result := tx.WithContext(ctx).Exec(reserveSQL, count, count, l.now().UTC(), freightOrderID, count)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "reserve capacity")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrentConflict, "capacity changed while reserving").
			WithDetails(map[string]any{"freightOrderId": freightOrderID})
	}
	return nil
}

// Release gives count slots back. It is the compensating step for a
// reservation whose assignments could not be persisted.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, freightOrderID uuid.UUID, count int) error {
	if tx == nil {
		tx = l.db
	}
	if count < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "slot count must be at least 1")
	}
	result := tx.WithContext(ctx).Exec(releaseSQL, count, count, l.now().UTC(), freightOrderID, count)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "release capacity")
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot release %d slots", count))
	}
	return nil
}

// Snapshot reads the current counters outside of any transaction.
func (l *Ledger) Snapshot(ctx context.Context, freightOrderID uuid.UUID) (Snapshot, error) {
	var order models.FreightOrder
	err := l.db.WithContext(ctx).
		Select("id", "required_slots", "granted_slots", "status").
		Where("id = ?", freightOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, pkgerrors.New(pkgerrors.CodeNotFound, "freight order not found")
		}
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load freight order capacity")
	}
	return Snapshot{
		FreightOrderID: order.ID,
		RequiredSlots:  order.RequiredSlots,
		GrantedSlots:   order.GrantedSlots,
		AvailableSlots: order.AvailableSlots(),
		Status:         order.Status,
	}, nil
}

func loadForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.FreightOrder, error) {
	var order models.FreightOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "freight order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load freight order")
	}
	return &order, nil
}
