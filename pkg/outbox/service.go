package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

var errNoTx = errors.New("outbox writes need the caller's transaction")

// DomainEvent is what allocation and trip code hands to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
	// DedupeKey makes EmitIfNotExists drop repeats of the same fact.
	DedupeKey string
}

type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

// Service appends events to outbox_events in the same transaction as the
// state change they describe; the publisher ships them later.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, logg: logg, now: time.Now}
}

func (s *Service) row(event DomainEvent) (models.OutboxEvent, error) {
	if !event.EventType.IsValid() {
		return models.OutboxEvent{}, fmt.Errorf("unknown event type %q", event.EventType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	version := event.Version
	if version == 0 {
		version = envelopeVersion
	}
	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:     version,
		EventID:     id.String(),
		EventType:   event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  occurred.UTC(),
		Actor:       event.Actor,
		Data:        data,
	})
	if err != nil {
		return models.OutboxEvent{}, err
	}

	row := models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}
	if event.DedupeKey != "" {
		key := event.DedupeKey
		row.DedupeKey = &key
	}
	return row, nil
}

// Emit queues event inside tx; it commits or rolls back with the caller.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errNoTx
	}
	row, err := s.row(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	s.queued(ctx, row)
	return nil
}

// EmitIfNotExists is Emit that silently drops an event whose DedupeKey was
// already queued.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errNoTx
	}
	if event.DedupeKey == "" {
		return s.Emit(ctx, tx, event)
	}
	row, err := s.row(event)
	if err != nil {
		return err
	}
	inserted, err := s.repo.InsertUnlessDuplicate(tx, row)
	if err != nil {
		return err
	}
	if inserted {
		s.queued(ctx, row)
	}
	return nil
}

func (s *Service) queued(ctx context.Context, row models.OutboxEvent) {
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
	}), "outbox event queued")
}
