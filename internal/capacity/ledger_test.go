package capacity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/internal/testdb"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

func reserve(t *testing.T, db *gorm.DB, ledger *Ledger, orderID uuid.UUID, count int) (Reservation, error) {
	t.Helper()
	var res Reservation
	err := db.Transaction(func(tx *gorm.DB) error {
		var rerr error
		res, rerr = ledger.Reserve(context.Background(), tx, orderID, count)
		return rerr
	})
	return res, err
}

func TestReserveGrantsAndFlipsStatusWhenFull(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)
	order := testdb.SeedOrder(t, db, testdb.WithSlots(3, 0))

	res, err := reserve(t, db, ledger, order.ID, 2)
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.True(t, res.FirstGrant)
	require.Equal(t, 1, res.AvailableSlots)
	require.Equal(t, enums.FreightOrderStatusOpen, res.Status)

	res, err = reserve(t, db, ledger, order.ID, 1)
	require.NoError(t, err)
	require.True(t, res.Granted)
	require.False(t, res.FirstGrant)
	require.Equal(t, 0, res.AvailableSlots)
	require.Equal(t, enums.FreightOrderStatusInProgress, res.Status)

	snap, err := ledger.Snapshot(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 3, snap.GrantedSlots)
	require.Equal(t, enums.FreightOrderStatusInProgress, snap.Status)
}

func TestReserveRejectsWhenNotOpenOrShort(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)

	full := testdb.SeedOrder(t, db, testdb.WithSlots(2, 2), testdb.WithStatus(enums.FreightOrderStatusInProgress))
	res, err := reserve(t, db, ledger, full.ID, 1)
	require.NoError(t, err)
	require.False(t, res.Granted)
	require.Equal(t, 0, res.AvailableSlots)

	short := testdb.SeedOrder(t, db, testdb.WithSlots(3, 2))
	res, err = reserve(t, db, ledger, short.ID, 2)
	require.NoError(t, err)
	require.False(t, res.Granted)
	require.Equal(t, 1, res.AvailableSlots)

	var stored models.FreightOrder
	require.NoError(t, db.First(&stored, "id = ?", short.ID).Error)
	require.Equal(t, 2, stored.GrantedSlots)
}

func TestReserveValidatesInput(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)

	_, err := ledger.Reserve(context.Background(), nil, uuid.New(), 1)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))

	_, err = reserve(t, db, ledger, uuid.New(), 0)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = reserve(t, db, ledger, uuid.New(), 1)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestGuardedUpdateReportsLostRace(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)
	order := testdb.SeedOrder(t, db, testdb.WithSlots(1, 1), testdb.WithStatus(enums.FreightOrderStatusInProgress))

	err := ledger.apply(context.Background(), db, order.ID, 1)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConcurrentConflict))

	var stored models.FreightOrder
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.Equal(t, 1, stored.GrantedSlots)
}

func TestReserveRollsBackWithCallerTransaction(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)
	order := testdb.SeedOrder(t, db, testdb.WithSlots(2, 0))

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := ledger.Reserve(context.Background(), tx, order.ID, 2); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "assignment insert failed")
	})
	require.Error(t, err)

	snap, err := ledger.Snapshot(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 0, snap.GrantedSlots)
	require.Equal(t, enums.FreightOrderStatusOpen, snap.Status)
}

func TestReleaseReopensOrder(t *testing.T) {
	db := testdb.Open(t)
	ledger := NewLedger(db)
	order := testdb.SeedOrder(t, db, testdb.WithSlots(2, 2), testdb.WithStatus(enums.FreightOrderStatusInProgress))

	require.NoError(t, ledger.Release(context.Background(), nil, order.ID, 1))

	snap, err := ledger.Snapshot(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.GrantedSlots)
	require.Equal(t, 1, snap.AvailableSlots)
	require.Equal(t, enums.FreightOrderStatusOpen, snap.Status)

	err = ledger.Release(context.Background(), nil, order.ID, 5)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}
