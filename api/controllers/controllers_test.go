package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/internal/assignments"
	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

type stubTrips struct {
	view       *trips.TripView
	lastReq    trips.TransitionRequest
	progress   enums.TripStatus
	confirmArg uuid.UUID
	err        error
}

func (s *stubTrips) Transition(_ context.Context, req trips.TransitionRequest) (*trips.TransitionResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &trips.TransitionResult{OK: true, EffectiveStatus: req.Target}, nil
}

func (s *stubTrips) ConfirmDelivery(_ context.Context, _, shipperID uuid.UUID) (*trips.TransitionResult, error) {
	s.confirmArg = shipperID
	return &trips.TransitionResult{OK: true, EffectiveStatus: enums.TripStatusCompleted}, s.err
}

func (s *stubTrips) AutoConfirmDue(context.Context, time.Time, int) (int, error) { return 0, nil }

func (s *stubTrips) RecordProgress(_ context.Context, _ uuid.UUID, status enums.TripStatus, _ enums.ProgressSource) (enums.TripStatus, error) {
	s.progress = status
	return status, s.err
}

func (s *stubTrips) Get(context.Context, uuid.UUID) (*trips.TripView, error) {
	if s.view == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
	}
	return s.view, nil
}

type stubAllocator struct {
	actor  assignments.Actor
	input  assignments.AllocateInput
	rating assignments.RatingInput
	err    error
}

func (s *stubAllocator) Allocate(_ context.Context, actor assignments.Actor, _ uuid.UUID, input assignments.AllocateInput) (*assignments.AllocationResult, error) {
	s.actor = actor
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return &assignments.AllocationResult{GrantedSlots: input.Slots, OrderStatus: enums.FreightOrderStatusOpen}, nil
}

func (s *stubAllocator) SubmitRating(_ context.Context, _, _ uuid.UUID, input assignments.RatingInput) error {
	s.rating = input
	return s.err
}

func (s *stubAllocator) ListForDriver(context.Context, uuid.UUID, pagination.Params) (*assignments.ListResult, error) {
	return &assignments.ListResult{}, nil
}

type stubLedger struct{}

func (stubLedger) Snapshot(_ context.Context, id uuid.UUID) (capacity.Snapshot, error) {
	return capacity.Snapshot{FreightOrderID: id, RequiredSlots: 3, GrantedSlots: 1, AvailableSlots: 2, Status: enums.FreightOrderStatusOpen}, nil
}

func withCompany(ctx context.Context, userID, companyID uuid.UUID) context.Context {
	return middleware.WithPrincipal(ctx, userID, enums.ActorRoleCompany, &companyID)
}

func post(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestFreightOrderCapacity(t *testing.T) {
	orderID := uuid.New()
	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", orderID.String())
	resp := httptest.NewRecorder()
	FreightOrderCapacity(stubLedger{}, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data capacity.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Equal(t, 2, envelope.Data.AvailableSlots)
	require.Equal(t, orderID, envelope.Data.FreightOrderID)
}

func TestAllocateSlotsMapsCompanyActor(t *testing.T) {
	svc := &stubAllocator{}
	companyID := uuid.New()
	driverA, driverB := uuid.New(), uuid.New()

	req := post("/", `{"slots":2,"driverIds":["`+driverA.String()+`","`+driverB.String()+`"],"offeredPrice":"1800.50"}`)
	req = req.WithContext(withCompany(req.Context(), uuid.New(), companyID))
	req = addRouteParam(req, "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	AllocateSlots(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, assignments.ActorCompany, svc.actor.Kind)
	require.Equal(t, companyID, *svc.actor.CompanyID)
	require.Equal(t, []uuid.UUID{driverA, driverB}, svc.input.DriverIDs)
	require.True(t, decimal.RequireFromString("1800.5").Equal(*svc.input.OfferedPrice))
}

func TestAllocateSlotsRejectsBadBodies(t *testing.T) {
	cases := []string{
		`{"slots":0}`,
		`{"slots":1,"offeredPrice":"-5"}`,
		`{"slots":1,"bogus":true}`,
	}
	for _, body := range cases {
		req := asUser(post("/", body), uuid.New(), enums.ActorRoleDriver)
		req = addRouteParam(req, "orderId", uuid.NewString())
		resp := httptest.NewRecorder()
		AllocateSlots(&stubAllocator{}, logger.Nop())(resp, req)
		require.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
}

func TestAllocateSlotsSurfacesDomainRejection(t *testing.T) {
	svc := &stubAllocator{err: pkgerrors.New(pkgerrors.CodeNotAvailable, "not enough slots left on this freight order")}
	req := asUser(post("/", `{"slots":1}`), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	AllocateSlots(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, string(pkgerrors.CodeNotAvailable), errorCode(t, resp))
}

func TestTransitionAssignmentBuildsRequest(t *testing.T) {
	svc := &stubTrips{}
	driverID := uuid.New()
	assignmentID := uuid.New()

	req := post("/", `{"status":"loading","notes":"  dock 4  ","lat":-33.9,"lng":18.4}`)
	req.Header.Set("Idempotency-Key", "req-1")
	req = asUser(req, driverID, enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", assignmentID.String())
	resp := httptest.NewRecorder()
	TransitionAssignment(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, enums.TripStatusLoading, svc.lastReq.Target)
	require.Equal(t, "req-1", svc.lastReq.RequestID)
	require.Equal(t, driverID, svc.lastReq.ActorID)
	require.Equal(t, "dock 4", *svc.lastReq.Notes)
	require.NotNil(t, svc.lastReq.Geo)
	require.InDelta(t, 18.4, svc.lastReq.Geo.Lng, 1e-9)
}

func TestTransitionAssignmentValidation(t *testing.T) {
	cases := []string{
		`{"status":"teleported"}`,
		`{"status":"loading","lat":10}`,
		`{"status":"loading","lat":95,"lng":10}`,
		`{}`,
	}
	for _, body := range cases {
		req := asUser(post("/", body), uuid.New(), enums.ActorRoleDriver)
		req = addRouteParam(req, "assignmentId", uuid.NewString())
		resp := httptest.NewRecorder()
		TransitionAssignment(&stubTrips{}, logger.Nop())(resp, req)
		require.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
}

func TestTransitionAssignmentRejectionIsUnprocessable(t *testing.T) {
	svc := &stubTrips{err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "this trip is already delivered and awaiting confirmation")}
	req := asUser(post("/", `{"status":"in_transit"}`), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", uuid.NewString())
	resp := httptest.NewRecorder()
	TransitionAssignment(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	require.Contains(t, resp.Body.String(), "awaiting confirmation")
}

func TestGetAssignmentScopesDrivers(t *testing.T) {
	owner := uuid.New()
	svc := &stubTrips{view: &trips.TripView{AssignmentID: uuid.New(), DriverID: owner, EffectiveStatus: enums.TripStatusInTransit}}

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), owner, enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", svc.view.AssignmentID.String())
	resp := httptest.NewRecorder()
	GetAssignment(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	req = asUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", svc.view.AssignmentID.String())
	resp = httptest.NewRecorder()
	GetAssignment(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusForbidden, resp.Code)

	req = asUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), enums.ActorRoleShipper)
	req = addRouteParam(req, "assignmentId", svc.view.AssignmentID.String())
	resp = httptest.NewRecorder()
	GetAssignment(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRecordProgressOnlyFromAssignedDriver(t *testing.T) {
	owner := uuid.New()
	svc := &stubTrips{view: &trips.TripView{AssignmentID: uuid.New(), DriverID: owner}}

	req := asUser(post("/", `{"status":"in_transit","source":"telemetry"}`), owner, enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", svc.view.AssignmentID.String())
	resp := httptest.NewRecorder()
	RecordAssignmentProgress(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, enums.TripStatusInTransit, svc.progress)

	req = asUser(post("/", `{"status":"in_transit"}`), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", svc.view.AssignmentID.String())
	resp = httptest.NewRecorder()
	RecordAssignmentProgress(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestConfirmDeliveryPassesShipper(t *testing.T) {
	svc := &stubTrips{}
	shipper := uuid.New()
	req := asUser(post("/", ""), shipper, enums.ActorRoleShipper)
	req = addRouteParam(req, "assignmentId", uuid.NewString())
	resp := httptest.NewRecorder()
	ConfirmDelivery(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, shipper, svc.confirmArg)
}

func TestRateAssignmentValidatesScore(t *testing.T) {
	svc := &stubAllocator{}
	req := asUser(post("/", `{"score":6}`), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", uuid.NewString())
	resp := httptest.NewRecorder()
	RateAssignment(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	req = asUser(post("/", `{"score":4,"comment":"smooth pickup"}`), uuid.New(), enums.ActorRoleDriver)
	req = addRouteParam(req, "assignmentId", uuid.NewString())
	resp = httptest.NewRecorder()
	RateAssignment(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, 4, svc.rating.Score)
}
