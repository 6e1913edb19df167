package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry wires order-level events to the domain topic and
// assignment-level events to the trips topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	if cfg.TripsTopic == "" {
		return nil, fmt.Errorf("trips topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventAssignmentCreated,
			AggregateType:  enums.AggregateAssignment,
			Topic:          cfg.DomainTopic,
			PayloadFactory: func() any { return &payloads.AssignmentCreatedEvent{} },
		},
		{
			EventType:      enums.EventCapacityReserved,
			AggregateType:  enums.AggregateFreightOrder,
			Topic:          cfg.DomainTopic,
			PayloadFactory: func() any { return &payloads.CapacityReservedEvent{} },
		},
		{
			EventType:      enums.EventFreightOrderCompleted,
			AggregateType:  enums.AggregateFreightOrder,
			Topic:          cfg.DomainTopic,
			PayloadFactory: func() any { return &payloads.FreightOrderCompletedEvent{} },
		},
		{
			EventType:      enums.EventTripStatusChanged,
			AggregateType:  enums.AggregateAssignment,
			Topic:          cfg.TripsTopic,
			PayloadFactory: func() any { return &payloads.TripStatusChangedEvent{} },
		},
		{
			EventType:      enums.EventDeliveryConfirmationRequested,
			AggregateType:  enums.AggregateAssignment,
			Topic:          cfg.TripsTopic,
			PayloadFactory: func() any { return &payloads.DeliveryConfirmationRequestedEvent{} },
		},
		{
			EventType:      enums.EventDeliveryConfirmed,
			AggregateType:  enums.AggregateAssignment,
			Topic:          cfg.TripsTopic,
			PayloadFactory: func() any { return &payloads.DeliveryConfirmedEvent{} },
		},
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Descriptor returns the registered descriptor for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := envelope.Into(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
