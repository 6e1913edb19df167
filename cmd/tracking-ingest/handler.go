package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

type recorder interface {
	Record(ctx context.Context, transport string, sample tracking.Sample) (bool, error)
}

// sampleHandler turns broker messages into live location samples. The driver
// is named by the topic; a payload that claims a different driver is dropped.
type sampleHandler struct {
	filter   []string
	recorder recorder
	logg     *logger.Logger
}

func newSampleHandler(filter string, rec recorder, logg *logger.Logger) (*sampleHandler, error) {
	parts := strings.Split(filter, "/")
	wildcards := 0
	for _, p := range parts {
		switch p {
		case "+":
			wildcards++
		case "#":
			return nil, fmt.Errorf("topic filter %q: multi-level wildcard not supported", filter)
		}
	}
	if wildcards != 1 {
		return nil, fmt.Errorf("topic filter %q must carry exactly one + for the driver id", filter)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &sampleHandler{filter: parts, recorder: rec, logg: logg}, nil
}

// driverFromTopic returns the segment matched by the + in the filter.
func (h *sampleHandler) driverFromTopic(topic string) (uuid.UUID, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != len(h.filter) {
		return uuid.Nil, fmt.Errorf("topic %q does not match filter", topic)
	}
	var raw string
	for i, p := range h.filter {
		if p == "+" {
			raw = parts[i]
			continue
		}
		if parts[i] != p {
			return uuid.Nil, fmt.Errorf("topic %q does not match filter", topic)
		}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("topic %q: invalid driver id", topic)
	}
	return id, nil
}

func (h *sampleHandler) handle(ctx context.Context, topic string, payload []byte) error {
	driverID, err := h.driverFromTopic(topic)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unroutable location message")
	}
	var sample tracking.Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed location payload")
	}
	if sample.DriverID != uuid.Nil && sample.DriverID != driverID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "payload driver does not match topic").
			WithDetails(map[string]any{"topicDriverId": driverID.String(), "payloadDriverId": sample.DriverID.String()})
	}
	sample.DriverID = driverID

	accepted, err := h.recorder.Record(ctx, tracking.TransportMQTT, sample)
	if err != nil {
		return err
	}
	if !accepted {
		h.logg.Debug(h.logg.WithDriverID(ctx, driverID.String()), "stale location sample ignored")
	}
	return nil
}
