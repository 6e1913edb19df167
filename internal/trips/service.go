package trips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/payloads"
)

type txRetryRunner interface {
	WithTxRetry(ctx context.Context, policy db.RetryPolicy, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type capacityReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, freightOrderID uuid.UUID, count int) error
}

// Service advances assignments through the trip lifecycle.
type Service interface {
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	ConfirmDelivery(ctx context.Context, assignmentID, shipperID uuid.UUID) (*TransitionResult, error)
	AutoConfirmDue(ctx context.Context, now time.Time, limit int) (int, error)
	RecordProgress(ctx context.Context, assignmentID uuid.UUID, status enums.TripStatus, source enums.ProgressSource) (enums.TripStatus, error)
	Get(ctx context.Context, assignmentID uuid.UUID) (*TripView, error)
}

// Geo is the optional position reported with a transition.
type Geo struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TransitionRequest asks for an assignment to move to Target.
type TransitionRequest struct {
	AssignmentID uuid.UUID
	Target       enums.TripStatus
	ActorID      uuid.UUID
	ActorRole    enums.ActorRole
	CompanyID    *uuid.UUID
	// RequestID makes retries of the same logical request idempotent.
	RequestID string
	Notes     *string
	Geo       *Geo

	system bool
}

// TransitionResult is returned for applied and replayed transitions alike.
type TransitionResult struct {
	OK              bool             `json:"ok"`
	EffectiveStatus enums.TripStatus `json:"effectiveStatus"`
	Replayed        bool             `json:"replayed"`
}

// TripView exposes both the stored status and the reconciled one.
type TripView struct {
	AssignmentID       uuid.UUID         `json:"assignmentId"`
	FreightOrderID     uuid.UUID         `json:"freightOrderId"`
	DriverID           uuid.UUID         `json:"driverId"`
	CompanyID          *uuid.UUID        `json:"companyId,omitempty"`
	StoredStatus       enums.TripStatus  `json:"storedStatus"`
	ProgressStatus     *enums.TripStatus `json:"progressStatus,omitempty"`
	EffectiveStatus    enums.TripStatus  `json:"effectiveStatus"`
	StatusUpdatedAt    time.Time         `json:"statusUpdatedAt"`
	DeliveredPendingAt *time.Time        `json:"deliveredPendingAt,omitempty"`
	AutoConfirmAt      *time.Time        `json:"autoConfirmAt,omitempty"`
}

// ServiceParams wires the state machine.
type ServiceParams struct {
	Repository         Repository
	DB                 txRetryRunner
	Ledger             capacityReleaser
	Outbox             outboxPublisher
	Notifier           notifications.Notifier
	ConfirmationWindow time.Duration
	TransitionTimeout  time.Duration
	ContentionBackoff  time.Duration
	ContentionAttempts int
	MirrorLegacyStatus bool
	Metrics            *metrics.EngineMetrics
	Logger             *logger.Logger
}

type service struct {
	repo               Repository
	db                 txRetryRunner
	ledger             capacityReleaser
	outbox             outboxPublisher
	notifier           notifications.Notifier
	confirmationWindow time.Duration
	transitionTimeout  time.Duration
	retry              db.RetryPolicy
	mirror             bool
	metrics            *metrics.EngineMetrics
	logg               *logger.Logger
	now                func() time.Time
}

// NewService builds the trip state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("trips repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("capacity ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.ConfirmationWindow <= 0 {
		params.ConfirmationWindow = 72 * time.Hour
	}
	if params.TransitionTimeout <= 0 {
		params.TransitionTimeout = 15 * time.Second
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	s := &service{
		repo:               params.Repository,
		db:                 params.DB,
		ledger:             params.Ledger,
		outbox:             params.Outbox,
		notifier:           params.Notifier,
		confirmationWindow: params.ConfirmationWindow,
		transitionTimeout:  params.TransitionTimeout,
		mirror:             params.MirrorLegacyStatus,
		metrics:            params.Metrics,
		logg:               params.Logger,
		now:                time.Now,
	}
	s.retry = db.RetryPolicy{
		MaxAttempts:    params.ContentionAttempts,
		InitialBackoff: params.ContentionBackoff,
		MaxBackoff:     time.Second,
		OnRetry: func(int, error) {
			s.metrics.ContentionRetry("transition")
		},
	}
	return s, nil
}

// applied carries what the transaction did so post-commit work can follow up.
type applied struct {
	assignment models.Assignment
	order      models.FreightOrder
	from       enums.TripStatus
	effective  enums.TripStatus
	who        party
	replayed   bool
	at         time.Time
}

func (s *service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.transitionTimeout)
	defer cancel()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"assignment_id":  req.AssignmentID.String(),
		"target_status":  string(req.Target),
		"actor_id":       req.ActorID.String(),
		"actor_role":     string(req.ActorRole),
		"transition_rid": req.RequestID,
	})

	if err := validateRequest(req); err != nil {
		s.metrics.Transition(string(req.Target), outcomeOf(err))
		return nil, err
	}

	var out applied
	err := s.db.WithTxRetry(ctx, s.retry, func(tx *gorm.DB) error {
		var err error
		out, err = s.apply(ctx, tx, req)
		return err
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			if db.IsContention(err) {
				err = pkgerrors.Wrap(pkgerrors.CodeContention, err, "trip is being updated concurrently")
			} else {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transition failed")
			}
		}
		typed := pkgerrors.As(err)
		switch pkgerrors.CategoryOf(err) {
		case pkgerrors.CategoryInternal:
			s.logg.Error(ctx, "trip transition failed", err)
		default:
			s.logg.Info(s.logg.WithField(ctx, "code", string(typed.Code())), "trip transition rejected")
		}
		s.metrics.Transition(string(req.Target), outcomeOf(err))
		return nil, err
	}

	result := &TransitionResult{OK: true, EffectiveStatus: out.effective, Replayed: out.replayed}
	if out.replayed {
		s.metrics.Transition(string(req.Target), "replayed")
		s.logg.Info(ctx, "trip transition replayed")
		return result, nil
	}

	s.notify(ctx, req, out)
	s.mirrorLegacy(ctx, req.Target, out)
	s.metrics.Transition(string(req.Target), "applied")
	s.logg.Info(s.logg.WithField(ctx, "from_status", string(out.from)), "trip transition applied")
	return result, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, req TransitionRequest) (applied, error) {
	repo := s.repo.WithTx(tx)

	if out, ok, err := s.replay(ctx, repo, req); err != nil || ok {
		return out, err
	}

	assignment, err := repo.FindAssignment(ctx, req.AssignmentID, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return applied{}, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
		}
		return applied{}, err
	}
	// a concurrent call with the same request id may have committed while this call waited on the lock
	if out, ok, err := s.replay(ctx, repo, req); err != nil || ok {
		return out, err
	}
	order, err := repo.FindOrder(ctx, assignment.FreightOrderID)
	if err != nil {
		return applied{}, err
	}
	who, err := resolveParty(req, assignment, order)
	if err != nil {
		return applied{}, err
	}

	progress, err := repo.FindProgress(ctx, assignment.ID)
	if err != nil {
		return applied{}, err
	}
	effective := assignment.Status
	if progress != nil {
		effective = Merge(assignment.Status, progress.Status)
	}
	if err := checkTransition(assignment.Status, effective, req.Target, who); err != nil {
		return applied{}, err
	}

	from := effective
	if req.Target == effective && effective.IsAfter(assignment.Status) {
		from = assignment.Status
	}

	now := s.now().UTC()
	update := StatusUpdate{Status: req.Target, At: now, Notes: req.Notes}
	if req.Geo != nil {
		update.Lat, update.Lng = &req.Geo.Lat, &req.Geo.Lng
	}
	if req.Target == enums.TripStatusDeliveredPendingConfirmation {
		update.DeliveredPendingAt = &now
	}
	ok, err := repo.UpdateStatus(ctx, assignment.ID, assignment.Status, update)
	if err != nil {
		return applied{}, err
	}
	if !ok {
		return applied{}, pkgerrors.New(pkgerrors.CodeContention, "assignment changed while transitioning")
	}

	next := req.Target
	if progress != nil {
		next = Merge(req.Target, progress.Status)
	}
	if err := repo.CreateReceipt(ctx, &models.TransitionReceipt{
		ID:              uuid.New(),
		RequestID:       req.RequestID,
		AssignmentID:    assignment.ID,
		ActorID:         req.ActorID,
		FromStatus:      from,
		TargetStatus:    req.Target,
		EffectiveStatus: next,
		CreatedAt:       now,
	}); err != nil {
		if db.IsUniqueViolation(err, "") {
			// a concurrent retry of the same request won; the next attempt replays it
			return applied{}, pkgerrors.Wrap(pkgerrors.CodeContention, err, "receipt already written")
		}
		return applied{}, err
	}

	var actorRef *outbox.ActorRef
	if !req.system {
		actorRef = &outbox.ActorRef{UserID: req.ActorID, Role: req.ActorRole}
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTripStatusChanged,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   assignment.ID,
		Actor:         actorRef,
		OccurredAt:    now,
		Data: payloads.TripStatusChangedEvent{
			AssignmentID:   assignment.ID,
			FreightOrderID: order.ID,
			DriverID:       assignment.DriverID,
			From:           assignment.Status,
			To:             req.Target,
			ChangedAt:      now,
			RequestID:      req.RequestID,
		},
	}); err != nil {
		return applied{}, err
	}

	switch req.Target {
	case enums.TripStatusDeliveredPendingConfirmation:
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryConfirmationRequested,
			AggregateType: enums.AggregateAssignment,
			AggregateID:   assignment.ID,
			Actor:         actorRef,
			OccurredAt:    now,
			Data: payloads.DeliveryConfirmationRequestedEvent{
				AssignmentID:   assignment.ID,
				FreightOrderID: order.ID,
				ShipperID:      order.ShipperID,
				AutoConfirmAt:  now.Add(s.confirmationWindow),
			},
		})
	case enums.TripStatusDelivered:
		var confirmedBy *uuid.UUID
		if !req.system {
			id := req.ActorID
			confirmedBy = &id
		}
		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryConfirmed,
			AggregateType: enums.AggregateAssignment,
			AggregateID:   assignment.ID,
			Actor:         actorRef,
			OccurredAt:    now,
			Data: payloads.DeliveryConfirmedEvent{
				AssignmentID:   assignment.ID,
				FreightOrderID: order.ID,
				ConfirmedBy:    confirmedBy,
				Automatic:      req.system,
				ConfirmedAt:    now,
			},
		})
	case enums.TripStatusCompleted:
		err = s.complete(ctx, tx, repo, assignment, order, now)
	case enums.TripStatusCancelled:
		if effective == enums.TripStatusAccepted {
			if err = s.ledger.Release(ctx, tx, order.ID, 1); err == nil {
				err = repo.ClearBinding(ctx, order.ID, assignment.DriverID)
			}
		}
	}
	if err != nil {
		return applied{}, err
	}

	assignment.Status = req.Target
	return applied{
		assignment: *assignment,
		order:      *order,
		from:       from,
		effective:  next,
		who:        who,
		at:         now,
	}, nil
}

// replay reports the recorded outcome when req.RequestID was already applied.
func (s *service) replay(ctx context.Context, repo Repository, req TransitionRequest) (applied, bool, error) {
	receipt, err := repo.FindReceipt(ctx, req.RequestID)
	if err != nil || receipt == nil {
		return applied{}, false, err
	}
	if receipt.AssignmentID != req.AssignmentID {
		return applied{}, false, pkgerrors.New(pkgerrors.CodeIdempotency, "request id already used for another assignment")
	}
	return applied{effective: receipt.EffectiveStatus, replayed: true}, true, nil
}

func (s *service) complete(ctx context.Context, tx *gorm.DB, repo Repository, assignment *models.Assignment, order *models.FreightOrder, now time.Time) error {
	if err := repo.CreateObligation(ctx, &models.RatingObligation{
		ID:             uuid.New(),
		AssignmentID:   assignment.ID,
		FreightOrderID: order.ID,
		RaterID:        assignment.DriverID,
		RateeID:        order.ShipperID,
		CreatedAt:      now,
	}); err != nil {
		return err
	}
	unfinished, err := repo.CountUnfinished(ctx, order.ID)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return nil
	}
	closed, err := repo.CompleteOrder(ctx, order.ID, now)
	if err != nil || !closed {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventFreightOrderCompleted,
		AggregateType: enums.AggregateFreightOrder,
		AggregateID:   order.ID,
		OccurredAt:    now,
		Data: payloads.FreightOrderCompletedEvent{
			FreightOrderID: order.ID,
			CompletedAt:    now,
		},
	})
}

func (s *service) notify(ctx context.Context, req TransitionRequest, out applied) {
	target := req.Target
	note := notifications.Request{
		UserID: out.order.ShipperID,
		Type:   enums.NotificationTypeTripStatus,
		Data: map[string]any{
			"assignmentId":   out.assignment.ID.String(),
			"freightOrderId": out.order.ID.String(),
			"status":         string(target),
		},
		DedupeKey: fmt.Sprintf("trip:%s:%s", out.assignment.ID, target),
	}
	switch target {
	case enums.TripStatusDeliveredPendingConfirmation:
		note.Type = enums.NotificationTypeDeliveryConfirmation
		note.Title = "Delivery awaiting your confirmation"
		note.Message = fmt.Sprintf("%s was reported delivered. Confirm within %s or it will be confirmed automatically.",
			out.order.Reference, windowLabel(s.confirmationWindow))
		note.Data["autoConfirmAt"] = out.at.Add(s.confirmationWindow)
	case enums.TripStatusDelivered:
		note.UserID = out.assignment.DriverID
		note.Type = enums.NotificationTypeDeliveryConfirmed
		note.Title = "Delivery confirmed"
		note.Message = fmt.Sprintf("Delivery of %s was confirmed.", out.order.Reference)
		if req.system {
			note.Message = fmt.Sprintf("Delivery of %s was confirmed automatically.", out.order.Reference)
		}
	case enums.TripStatusCancelled:
		note.Type = enums.NotificationTypeTripCancelled
		note.Title = "Trip cancelled"
		note.Message = fmt.Sprintf("The trip for %s was cancelled.", out.order.Reference)
		if out.who != partyCarrier {
			note.UserID = out.assignment.DriverID
		}
	default:
		note.Title = "Trip update"
		note.Message = fmt.Sprintf("%s is now %s.", out.order.Reference, humanize(target))
	}
	s.notifier.Notify(ctx, note)
}

// mirrorLegacy keeps the order-level trip status readable by older clients.
// It runs after commit and never fails the transition.
func (s *service) mirrorLegacy(ctx context.Context, target enums.TripStatus, out applied) {
	if !s.mirror {
		return
	}
	if err := s.repo.MirrorTripStatus(ctx, out.order.ID, out.assignment.DriverID, target, out.at); err != nil {
		s.logg.Error(ctx, "legacy trip status mirror failed", err)
	}
}

func (s *service) ConfirmDelivery(ctx context.Context, assignmentID, shipperID uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, TransitionRequest{
		AssignmentID: assignmentID,
		Target:       enums.TripStatusDelivered,
		ActorID:      shipperID,
		ActorRole:    enums.ActorRoleShipper,
		RequestID:    "confirm:" + assignmentID.String(),
	})
}

// AutoConfirmDue promotes deliveries whose confirmation window elapsed. It
// returns how many were promoted; rows that moved on concurrently are skipped.
func (s *service) AutoConfirmDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := now.UTC().Add(-s.confirmationWindow)
	due, err := s.repo.ListAwaitingConfirmation(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list deliveries awaiting confirmation")
	}

	var (
		confirmed int
		errs      error
	)
	for _, a := range due {
		_, err := s.Transition(ctx, TransitionRequest{
			AssignmentID: a.ID,
			Target:       enums.TripStatusDelivered,
			RequestID:    "auto-confirm:" + a.ID.String(),
			system:       true,
		})
		switch {
		case err == nil:
			confirmed++
		case pkgerrors.IsDomainRejection(err), pkgerrors.HasCode(err, pkgerrors.CodeStateConflict):
		default:
			errs = multierr.Append(errs, fmt.Errorf("auto-confirm %s: %w", a.ID, err))
		}
	}
	return confirmed, errs
}

func (s *service) RecordProgress(ctx context.Context, assignmentID uuid.UUID, status enums.TripStatus, source enums.ProgressSource) (enums.TripStatus, error) {
	if assignmentID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if !status.IsValid() || status == enums.TripStatusCancelled {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "progress status must be a lifecycle stage")
	}
	if status.AtLeast(enums.TripStatusDelivered) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "delivery confirmation and completion cannot be reported as progress").
			WithDetails(map[string]any{"status": string(status)})
	}
	if !source.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown progress source")
	}

	var effective enums.TripStatus
	err := s.db.WithTxRetry(ctx, s.retry, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		assignment, err := repo.FindAssignment(ctx, assignmentID, true)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
			}
			return err
		}
		current, err := repo.FindProgress(ctx, assignmentID)
		if err != nil {
			return err
		}
		merged := status
		if current != nil {
			merged = enums.MaxTripStatus(current.Status, status)
		}
		if current == nil || merged != current.Status {
			if err := repo.SaveProgress(ctx, &models.TripProgress{
				AssignmentID: assignmentID,
				Status:       merged,
				Source:       source,
				UpdatedAt:    s.now().UTC(),
			}); err != nil {
				return err
			}
		}
		effective = Merge(assignment.Status, merged)
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record trip progress")
		}
		return "", err
	}
	return effective, nil
}

func (s *service) Get(ctx context.Context, assignmentID uuid.UUID) (*TripView, error) {
	assignment, err := s.repo.FindAssignment(ctx, assignmentID, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load assignment")
	}
	progress, err := s.repo.FindProgress(ctx, assignmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load trip progress")
	}

	view := &TripView{
		AssignmentID:       assignment.ID,
		FreightOrderID:     assignment.FreightOrderID,
		DriverID:           assignment.DriverID,
		CompanyID:          assignment.CompanyID,
		StoredStatus:       assignment.Status,
		EffectiveStatus:    assignment.Status,
		StatusUpdatedAt:    assignment.StatusUpdatedAt,
		DeliveredPendingAt: assignment.DeliveredPendingAt,
	}
	if progress != nil {
		status := progress.Status
		view.ProgressStatus = &status
		view.EffectiveStatus = Merge(assignment.Status, progress.Status)
	}
	if assignment.Status == enums.TripStatusDeliveredPendingConfirmation && assignment.DeliveredPendingAt != nil {
		at := assignment.DeliveredPendingAt.Add(s.confirmationWindow)
		view.AutoConfirmAt = &at
	}
	return view, nil
}

func validateRequest(req TransitionRequest) error {
	if req.AssignmentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if !req.Target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown trip status").
			WithDetails(map[string]any{"requestedStatus": string(req.Target)})
	}
	if req.system {
		return nil
	}
	if req.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(req.RequestID) > 128 {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id too long")
	}
	return nil
}

func resolveParty(req TransitionRequest, assignment *models.Assignment, order *models.FreightOrder) (party, error) {
	if req.system {
		return partySystem, nil
	}
	switch req.ActorRole {
	case enums.ActorRoleAdmin:
		return partyAdmin, nil
	case enums.ActorRoleDriver:
		if req.ActorID == assignment.DriverID {
			return partyCarrier, nil
		}
	case enums.ActorRoleCompany:
		if req.CompanyID != nil && assignment.CompanyID != nil && *req.CompanyID == *assignment.CompanyID {
			return partyCarrier, nil
		}
	case enums.ActorRoleShipper:
		if req.ActorID == order.ShipperID {
			return partyShipper, nil
		}
	}
	return 0, pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a party to this trip")
}

func outcomeOf(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "internal_error"
}

func windowLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
