package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const outboxSchema = `
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

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.Exec(outboxSchema).Error)
	return conn
}

func TestEmitWritesEnvelope(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), logger.Nop())
	aggregateID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCapacityReserved,
			AggregateType: enums.AggregateFreightOrder,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{UserID: uuid.New(), Role: enums.ActorRoleDriver},
			Data:          map[string]int{"granted": 2},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, aggregateID, row.AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.JSONEq(t, `{"granted":2}`, string(envelope.Data))
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventCapacityReserved}))
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_paid"})
	})
	require.Error(t, err)
}

func TestEmitIfNotExistsDedupes(t *testing.T) {
	db := openOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	event := DomainEvent{
		EventType:     enums.EventFreightOrderCompleted,
		AggregateType: enums.AggregateFreightOrder,
		AggregateID:   uuid.New(),
		Data:          struct{}{},
		DedupeKey:     "order-completed:1",
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepositoryRetryScheduling(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)
	base := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }

	id := uuid.New()
	require.NoError(t, repo.Insert(db, models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventTripStatusChanged,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailedTx(db, id, errors.New("unavailable"), base.Add(time.Hour)))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows, "row must wait for its retry time")

	repo.now = func() time.Time { return base.Add(2 * time.Hour) }
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].AttemptCount)

	require.NoError(t, repo.MarkTerminalTx(db, id, errors.New("gave up"), 3))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func deadLetter(t *testing.T, db *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, msg string) {
	t.Helper()
	entry := row.DeadLetter(reason, errors.New(msg), time.Now())
	require.NoError(t, NewDLQRepository(db).InsertTx(db, entry))
}

func TestDLQListFiltersAndTruncates(t *testing.T) {
	db := openOutboxDB(t)
	dlq := NewDLQRepository(db)
	confirmed := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventDeliveryConfirmed, AggregateType: enums.AggregateAssignment, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	reserved := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventCapacityReserved, AggregateType: enums.AggregateFreightOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	deadLetter(t, db, confirmed, enums.OutboxDLQReasonMaxAttempts, strings.Repeat("x", 2000))
	deadLetter(t, db, reserved, enums.OutboxDLQReasonNonRetryable, "bad payload")

	rows, err := dlq.List(context.Background(), DLQFilter{EventType: enums.EventDeliveryConfirmed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, *rows[0].ErrorMessage, maxLastErrorLen)

	rows, err = dlq.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonNonRetryable, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, reserved.ID, rows[0].EventID)

	rows, err = dlq.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestReplayResetsOrRestoresOutboxRow(t *testing.T) {
	db := openOutboxDB(t)
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)

	kept := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventTripStatusChanged, AggregateType: enums.AggregateAssignment, AggregateID: uuid.New(), Payload: json.RawMessage(`{"v":1}`)}
	require.NoError(t, repo.Insert(db, kept))
	require.NoError(t, repo.MarkTerminalTx(db, kept.ID, errors.New("gave up"), 5))
	deadLetter(t, db, kept, enums.OutboxDLQReasonMaxAttempts, "gave up")

	pruned := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventDeliveryConfirmed, AggregateType: enums.AggregateAssignment, AggregateID: uuid.New(), Payload: json.RawMessage(`{"v":2}`)}
	deadLetter(t, db, pruned, enums.OutboxDLQReasonNonRetryable, "rejected")

	for _, id := range []uuid.UUID{kept.ID, pruned.ID} {
		ok, err := dlq.ReplayTx(db, repo, id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Zero(t, row.AttemptCount)
		require.Nil(t, row.LastError)
	}

	left, err := dlq.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	require.Empty(t, left)

	ok, err := dlq.ReplayTx(db, repo, uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","eventType":"trip_status_changed","data":{"to":"loading"}}`))
	require.NoError(t, err)
	require.Equal(t, enums.EventTripStatusChanged, env.EventType)
	var data struct {
		To string `json:"to"`
	}
	require.NoError(t, env.Into(&data))
	require.Equal(t, "loading", data.To)

	_, err = DecodeEnvelope([]byte(`{"version":1,"data":null}`))
	require.ErrorIs(t, err, errEmptyData)
	_, err = DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
}
