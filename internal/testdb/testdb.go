// Package testdb opens throwaway sqlite databases carrying the engine tables,
// shaped after the postgres migrations closely enough for repository tests.
package testdb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

const schema = `
CREATE TABLE freight_orders (
	id TEXT PRIMARY KEY,
	shipper_id TEXT NOT NULL,
	reference TEXT NOT NULL UNIQUE,
	service_class TEXT NOT NULL DEFAULT 'standard',
	required_slots INTEGER NOT NULL CHECK (required_slots >= 1),
	granted_slots INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'open',
	base_price TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'BRL',
	origin_label TEXT NOT NULL,
	destination_label TEXT NOT NULL,
	origin_point TEXT,
	destination_point TEXT,
	fallback_point TEXT,
	bound_driver_id TEXT,
	trip_status TEXT,
	trip_status_updated_at TIMESTAMP,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	CHECK (granted_slots >= 0 AND granted_slots <= required_slots)
);
CREATE TABLE drivers (
	id TEXT PRIMARY KEY,
	company_id TEXT,
	display_name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	capacity_enabled BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE assignments (
	id TEXT PRIMARY KEY,
	freight_order_id TEXT NOT NULL,
	driver_id TEXT NOT NULL,
	company_id TEXT,
	agreed_price TEXT NOT NULL,
	pricing_basis TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'accepted',
	accepted_at TIMESTAMP NOT NULL,
	status_updated_at TIMESTAMP NOT NULL,
	delivered_pending_at TIMESTAMP,
	last_notes TEXT,
	last_lat REAL,
	last_lng REAL,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE UNIQUE INDEX ux_assignments_active_order_driver
	ON assignments (freight_order_id, driver_id)
	WHERE status NOT IN ('completed', 'cancelled');
CREATE TABLE trip_progress (
	assignment_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE transition_receipts (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE,
	assignment_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	target_status TEXT NOT NULL,
	effective_status TEXT NOT NULL,
	created_at TIMESTAMP
);
CREATE TABLE rating_obligations (
	id TEXT PRIMARY KEY,
	assignment_id TEXT NOT NULL,
	freight_order_id TEXT NOT NULL,
	rater_id TEXT NOT NULL,
	ratee_id TEXT NOT NULL,
	score INTEGER,
	comment TEXT,
	satisfied_at TIMESTAMP,
	created_at TIMESTAMP,
	UNIQUE (assignment_id, rater_id)
);
CREATE TABLE location_snapshots (
	id TEXT PRIMARY KEY,
	freight_order_id TEXT NOT NULL,
	assignment_id TEXT NOT NULL,
	driver_id TEXT NOT NULL,
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	captured_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP,
	UNIQUE (assignment_id, captured_at)
);
CREATE TABLE notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	data BLOB,
	dedupe_key TEXT UNIQUE,
	read_at TIMESTAMP,
	created_at TIMESTAMP
);
CREATE TABLE outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	dedupe_key TEXT UNIQUE,
	created_at TIMESTAMP,
	published_at TIMESTAMP,
	next_attempt_at TIMESTAMP,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);
CREATE TABLE outbox_dlq (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload_json BLOB NOT NULL,
	error_reason TEXT NOT NULL,
	error_message TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failed_at TIMESTAMP,
	created_at TIMESTAMP
);`

// Open returns a private in-memory database with the engine schema applied.
// The pool is pinned to one connection so transactions serialize the way row
// locks do on postgres. Concurrent callers therefore never interleave inside a
// transaction, and a lost capacity race has to be injected with a ledger stub.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:freightlane_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.Exec(schema).Error; err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// Now is a whole-second UTC clock value, stable under sqlite round trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// OrderOption tweaks a seeded freight order.
type OrderOption func(*models.FreightOrder)

func WithSlots(required, granted int) OrderOption {
	return func(o *models.FreightOrder) {
		o.RequiredSlots = required
		o.GrantedSlots = granted
	}
}

func WithStatus(status enums.FreightOrderStatus) OrderOption {
	return func(o *models.FreightOrder) { o.Status = status }
}

func WithServiceClass(class string) OrderOption {
	return func(o *models.FreightOrder) { o.ServiceClass = class }
}

func WithBasePrice(price string) OrderOption {
	return func(o *models.FreightOrder) { o.BasePrice = decimal.RequireFromString(price) }
}

// SeedOrder inserts an open single-slot order unless options say otherwise.
func SeedOrder(t testing.TB, db *gorm.DB, opts ...OrderOption) models.FreightOrder {
	t.Helper()
	order := models.FreightOrder{
		ID:               uuid.New(),
		ShipperID:        uuid.New(),
		Reference:        "FR-" + uuid.NewString()[:8],
		ServiceClass:     "standard",
		RequiredSlots:    1,
		Status:           enums.FreightOrderStatusOpen,
		BasePrice:        decimal.RequireFromString("1000.00"),
		Currency:         "BRL",
		OriginLabel:      "Campinas, SP",
		DestinationLabel: "Curitiba, PR",
	}
	for _, opt := range opts {
		opt(&order)
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed freight order: %v", err)
	}
	return order
}

// SeedDriver inserts an active, capacity-enabled driver.
func SeedDriver(t testing.TB, db *gorm.DB, companyID *uuid.UUID) models.Driver {
	t.Helper()
	driver := models.Driver{
		ID:              uuid.New(),
		CompanyID:       companyID,
		DisplayName:     "driver " + uuid.NewString()[:6],
		Active:          true,
		CapacityEnabled: true,
	}
	if err := db.Create(&driver).Error; err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	return driver
}

// SeedAssignment inserts an assignment in the given status.
func SeedAssignment(t testing.TB, db *gorm.DB, orderID, driverID uuid.UUID, status enums.TripStatus) models.Assignment {
	t.Helper()
	now := Now()
	assignment := models.Assignment{
		ID:              uuid.New(),
		FreightOrderID:  orderID,
		DriverID:        driverID,
		AgreedPrice:     decimal.RequireFromString("1000.00"),
		PricingBasis:    enums.PricingBasisFixed,
		Status:          status,
		AcceptedAt:      now,
		StatusUpdatedAt: now,
	}
	if status == enums.TripStatusDeliveredPendingConfirmation {
		assignment.DeliveredPendingAt = &now
	}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	return assignment
}
