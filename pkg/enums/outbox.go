package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateFreightOrder OutboxAggregateType = "freight_order"
	AggregateAssignment   OutboxAggregateType = "assignment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateFreightOrder,
	AggregateAssignment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool { return slices.Contains(validAggregateTypes, a) }

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseOneOf(validAggregateTypes, "aggregate type", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAssignmentCreated             OutboxEventType = "assignment_created"
	EventCapacityReserved              OutboxEventType = "capacity_reserved"
	EventTripStatusChanged             OutboxEventType = "trip_status_changed"
	EventDeliveryConfirmationRequested OutboxEventType = "delivery_confirmation_requested"
	EventDeliveryConfirmed             OutboxEventType = "delivery_confirmed"
	EventFreightOrderCompleted         OutboxEventType = "freight_order_completed"
)

var validEventTypes = []OutboxEventType{
	EventAssignmentCreated,
	EventCapacityReserved,
	EventTripStatusChanged,
	EventDeliveryConfirmationRequested,
	EventDeliveryConfirmed,
	EventFreightOrderCompleted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool { return slices.Contains(validEventTypes, e) }

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseOneOf(validEventTypes, "event type", value)
}

// OutboxDLQErrorReason explains why a row left the outbox without being published.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonUnknownEvent,
}

func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(validOutboxDLQErrorReasons, r) }

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parseOneOf(validOutboxDLQErrorReasons, "outbox dlq reason", value)
}
