package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

// OutboxEvent is written in the same transaction as the state change it
// describes; the relay publishes it later.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	DedupeKey     *string                   `gorm:"column:dedupe_key"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt *time.Time                `gorm:"column:next_attempt_at"`
	LastError     *string                   `gorm:"column:last_error"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// DeadLetter snapshots the row for the DLQ table.
func (e OutboxEvent) DeadLetter(reason enums.OutboxDLQErrorReason, cause error, at time.Time) OutboxDLQ {
	entry := OutboxDLQ{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		ErrorReason:   reason,
		AttemptCount:  e.AttemptCount,
		FailedAt:      at.UTC(),
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}

// OutboxDLQ is an event the relay stopped retrying. Rows stay until an
// operator replays or discards them.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason_enum;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	FailedAt      time.Time                  `gorm:"column:failed_at"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
