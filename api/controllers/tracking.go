package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/api/validators"
	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const streamHeartbeat = 15 * time.Second

type locationRecorder interface {
	Record(ctx context.Context, transport string, sample tracking.Sample) (bool, error)
}

type positionObserver interface {
	SubjectForAssignment(ctx context.Context, assignmentID uuid.UUID) (tracking.Subject, error)
	Current(ctx context.Context, subject tracking.Subject) (*tracking.CurrentPosition, error)
	Observe(ctx context.Context, subject tracking.Subject) (<-chan tracking.CurrentPosition, error)
}

type locationRequest struct {
	Lat        float64    `json:"lat" validate:"latitude"`
	Lng        float64    `json:"lng" validate:"longitude"`
	Heading    *float64   `json:"heading" validate:"omitempty,min=0,lt=360"`
	SpeedKPH   *float64   `json:"speedKph" validate:"omitempty,min=0"`
	AccuracyM  *float64   `json:"accuracyM" validate:"omitempty,min=0"`
	RecordedAt *time.Time `json:"recordedAt"`
}

// ReportDriverLocation accepts a position sample from the calling driver's device.
func ReportDriverLocation(ingest locationRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body locationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sample := tracking.Sample{
			DriverID:  principal.UserID,
			Lat:       body.Lat,
			Lng:       body.Lng,
			Heading:   body.Heading,
			SpeedKPH:  body.SpeedKPH,
			AccuracyM: body.AccuracyM,
		}
		if body.RecordedAt != nil {
			sample.RecordedAt = body.RecordedAt.UTC()
		}
		accepted, err := ingest.Record(r.Context(), tracking.TransportHTTP, sample)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
	}
}

// FreightOrderPosition returns the best known position of an order once.
func FreightOrderPosition(observer positionObserver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pos, err := observer.Current(r.Context(), tracking.Subject{OrderID: orderID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pos)
	}
}

// StreamFreightOrderPosition pushes position updates for a whole order as
// server-sent events until the client goes away.
func StreamFreightOrderPosition(observer positionObserver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		streamPositions(w, r, observer, tracking.Subject{OrderID: orderID}, logg)
	}
}

// StreamAssignmentPosition pushes position updates for one assignment.
func StreamAssignmentPosition(observer positionObserver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subject, err := observer.SubjectForAssignment(r.Context(), assignmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		streamPositions(w, r, observer, subject, logg)
	}
}

func streamPositions(w http.ResponseWriter, r *http.Request, observer positionObserver, subject tracking.Subject, logg *logger.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if logg != nil {
		ctx = logg.WithField(ctx, "subject", subject.String())
	}

	updates, err := observer.Observe(ctx, subject)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case pos, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(pos)
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "encode position", err)
				}
				continue
			}
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: position\ndata: %s\n\n", seq, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
