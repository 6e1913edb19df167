package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
)

const envelopeVersion = 1

// ActorRef identifies who caused the event: a driver, company or shipper
// user, or uuid.Nil for the system (auto-confirmation, sweeps).
type ActorRef struct {
	UserID uuid.UUID       `json:"userId"`
	Role   enums.ActorRole `json:"role,omitempty"`
}

// PayloadEnvelope is the message body subscribers receive. It names its own
// event and aggregate so a consumer never needs the Pub/Sub attributes.
type PayloadEnvelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   enums.OutboxEventType `json:"eventType,omitempty"`
	AggregateID uuid.UUID             `json:"aggregateId,omitempty"`
	OccurredAt  time.Time             `json:"occurredAt"`
	Actor       *ActorRef             `json:"actor,omitempty"`
	Data        json.RawMessage       `json:"data"`
}

var errEmptyData = errors.New("envelope has no data")

// DecodeEnvelope parses a stored payload and insists on a data section.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, errEmptyData
	}
	return env, nil
}

// Into decodes the data section into v.
func (e PayloadEnvelope) Into(v any) error {
	return json.Unmarshal(e.Data, v)
}
