package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

type stubRecorder struct {
	transport string
	sample    tracking.Sample
	accepted  bool
}

func (s *stubRecorder) Record(_ context.Context, transport string, sample tracking.Sample) (bool, error) {
	s.transport = transport
	s.sample = sample
	return s.accepted, nil
}

type stubObserver struct {
	orderID   uuid.UUID
	positions []tracking.CurrentPosition
	observed  tracking.Subject
}

func (s *stubObserver) SubjectForAssignment(_ context.Context, assignmentID uuid.UUID) (tracking.Subject, error) {
	if s.orderID == uuid.Nil {
		return tracking.Subject{}, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
	}
	return tracking.Subject{OrderID: s.orderID, AssignmentID: &assignmentID}, nil
}

func (s *stubObserver) Current(_ context.Context, subject tracking.Subject) (*tracking.CurrentPosition, error) {
	if len(s.positions) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no position is known for this freight order yet")
	}
	pos := s.positions[len(s.positions)-1]
	return &pos, nil
}

func (s *stubObserver) Observe(_ context.Context, subject tracking.Subject) (<-chan tracking.CurrentPosition, error) {
	s.observed = subject
	out := make(chan tracking.CurrentPosition, len(s.positions))
	for _, p := range s.positions {
		out <- p
	}
	close(out)
	return out, nil
}

func TestReportDriverLocationUsesCallerIdentity(t *testing.T) {
	rec := &stubRecorder{accepted: true}
	driverID := uuid.New()
	req := asUser(post("/", `{"lat":-26.2,"lng":28.04,"heading":90,"recordedAt":"2026-05-01T10:00:00Z"}`), driverID, enums.ActorRoleDriver)
	resp := httptest.NewRecorder()
	ReportDriverLocation(rec, logger.Nop())(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, tracking.TransportHTTP, rec.transport)
	require.Equal(t, driverID, rec.sample.DriverID)
	require.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), rec.sample.RecordedAt)
	require.Contains(t, resp.Body.String(), `"accepted":true`)
}

func TestReportDriverLocationValidatesHeading(t *testing.T) {
	req := asUser(post("/", `{"lat":1,"lng":1,"heading":360}`), uuid.New(), enums.ActorRoleDriver)
	resp := httptest.NewRecorder()
	ReportDriverLocation(&stubRecorder{}, logger.Nop())(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStreamAssignmentPositionWritesEvents(t *testing.T) {
	orderID := uuid.New()
	observer := &stubObserver{
		orderID: orderID,
		positions: []tracking.CurrentPosition{
			{FreightOrderID: orderID, Lat: 1, Lng: 2, Source: enums.LocationSourceFallback},
			{FreightOrderID: orderID, Lat: 3, Lng: 4, Source: enums.LocationSourceLive, Online: true},
		},
	}
	assignmentID := uuid.New()
	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/", nil), "assignmentId", assignmentID.String())
	resp := httptest.NewRecorder()
	StreamAssignmentPosition(observer, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	body := resp.Body.String()
	require.Equal(t, 2, strings.Count(body, "event: position\n"))
	require.Contains(t, body, "id: 2\n")
	require.Contains(t, body, `"source":"live"`)
	require.Equal(t, assignmentID, *observer.observed.AssignmentID)
}

func TestStreamAssignmentPositionUnknownAssignment(t *testing.T) {
	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/", nil), "assignmentId", uuid.NewString())
	resp := httptest.NewRecorder()
	StreamAssignmentPosition(&stubObserver{}, logger.Nop())(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFreightOrderPositionSnapshot(t *testing.T) {
	orderID := uuid.New()
	observer := &stubObserver{positions: []tracking.CurrentPosition{{FreightOrderID: orderID, Lat: 5, Lng: 6, Source: enums.LocationSourceSnapshot}}}
	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", orderID.String())
	resp := httptest.NewRecorder()
	FreightOrderPosition(observer, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"source":"snapshot"`)

	resp = httptest.NewRecorder()
	FreightOrderPosition(&stubObserver{}, logger.Nop())(resp, req)
	require.Equal(t, http.StatusNotFound, resp.Code)
}
