package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/registry"
)

// sink delivers one encoded event to a named topic and waits for the server
// ack.
type sink interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type publisherSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubSink sends through the shared client's per-topic publishers.
type pubsubSink struct {
	source publisherSource
}

func (s pubsubSink) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.source.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher configured for topic %s", topic))
	}
	_, err := pub.Publish(ctx, msg).Get(ctx)
	return err
}

// wireMessage carries the stored payload untouched; subscribers filter on the
// attributes without decoding the body.
func wireMessage(event models.OutboxEvent, eventID string) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
