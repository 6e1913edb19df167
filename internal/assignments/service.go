package assignments

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	"github.com/angelmondragon/freightlane-backend/pkg/db"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type capacityLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, freightOrderID uuid.UUID, count int) (capacity.Reservation, error)
}

// Service allocates slots and serves assignment reads.
type Service interface {
	Allocate(ctx context.Context, actor Actor, freightOrderID uuid.UUID, input AllocateInput) (*AllocationResult, error)
	SubmitRating(ctx context.Context, raterID, assignmentID uuid.UUID, input RatingInput) error
	ListForDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*ListResult, error)
}

// AllocateInput is the body of an allocation request.
type AllocateInput struct {
	Slots int
	// DriverIDs narrows a company's pool. Ignored for individual drivers.
	DriverIDs []uuid.UUID
	// OfferedPrice replaces the order's base price when set.
	OfferedPrice *decimal.Decimal
}

// AllocationResult summarises a successful allocation.
type AllocationResult struct {
	Assignments      []models.Assignment      `json:"assignments"`
	GrantedSlots     int                      `json:"grantedSlots"`
	RemainingSlots   int                      `json:"remainingSlots"`
	OrderStatus      enums.FreightOrderStatus `json:"orderStatus"`
	RepeatAcceptance bool                     `json:"repeatAcceptance"`
}

// RatingInput is the feedback a driver leaves on a finished trip.
type RatingInput struct {
	Score   int
	Comment *string
}

// ListResult pages a driver's assignments.
type ListResult struct {
	Items  []models.Assignment `json:"items"`
	Cursor string              `json:"cursor"`
}

// ServiceParams wires the allocator.
type ServiceParams struct {
	Repository      Repository
	DB              txRunner
	Ledger          capacityLedger
	Outbox          outboxPublisher
	Notifier        notifications.Notifier
	Eligibility     Eligibility
	Rules           []AdmissionRule
	Capability      CapabilityFunc
	MaxCompanySlots int
	Metrics         *metrics.EngineMetrics
	Logger          *logger.Logger
}

type service struct {
	repo            Repository
	db              txRunner
	ledger          capacityLedger
	outbox          outboxPublisher
	notifier        notifications.Notifier
	eligibility     Eligibility
	rules           []AdmissionRule
	capability      CapabilityFunc
	maxCompanySlots int
	metrics         *metrics.EngineMetrics
	logg            *logger.Logger
	now             func() time.Time
}

// NewService builds the allocator with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("assignments repository required")
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
	if params.Eligibility == nil {
		params.Eligibility = NewDriverEligibility()
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &service{
		repo:            params.Repository,
		db:              params.DB,
		ledger:          params.Ledger,
		outbox:          params.Outbox,
		notifier:        params.Notifier,
		eligibility:     params.Eligibility,
		rules:           params.Rules,
		capability:      params.Capability,
		maxCompanySlots: params.MaxCompanySlots,
		metrics:         params.Metrics,
		logg:            params.Logger,
		now:             time.Now,
	}, nil
}

func (s *service) Allocate(ctx context.Context, actor Actor, freightOrderID uuid.UUID, input AllocateInput) (*AllocationResult, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"freight_order_id": freightOrderID.String(),
		"actor_id":         actor.UserID.String(),
		"actor_kind":       string(actor.Kind),
		"slots":            input.Slots,
	})

	result, err := s.allocate(ctx, actor, freightOrderID, input)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed == nil {
			typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocation failed")
			err = typed
		}
		if typed.Code() == pkgerrors.CodeInternal {
			s.logg.Error(ctx, "allocation failed", err)
		} else {
			s.logg.Info(s.logg.WithField(ctx, "code", string(typed.Code())), "allocation rejected")
		}
		s.metrics.Allocation(strings.ToLower(string(typed.Code())))
		return nil, err
	}
	s.metrics.Allocation("granted")
	s.logg.Info(ctx, "allocation granted")
	return result, nil
}

func (s *service) allocate(ctx context.Context, actor Actor, freightOrderID uuid.UUID, input AllocateInput) (*AllocationResult, error) {
	if err := s.validate(actor, freightOrderID, input); err != nil {
		return nil, err
	}

	order, err := s.repo.FindOrder(ctx, freightOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "freight order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load freight order")
	}
	if order.Status != enums.FreightOrderStatusOpen || order.AvailableSlots() < input.Slots {
		return nil, notAvailable(order.Status, order.AvailableSlots())
	}

	price, basis := order.BasePrice, enums.PricingBasisFixed
	if input.OfferedPrice != nil {
		price, basis = *input.OfferedPrice, enums.PricingBasisDerived
	}
	for _, rule := range s.rules {
		if err := rule.Admit(ctx, order, price); err != nil {
			return nil, err
		}
	}

	drivers, err := s.pickDrivers(ctx, actor, order, input)
	if err != nil {
		return nil, err
	}

	driverIDs := make([]uuid.UUID, 0, len(drivers))
	for _, d := range drivers {
		driverIDs = append(driverIDs, d.ID)
	}
	pending, err := s.repo.PendingObligations(ctx, order.ID, driverIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rating obligations")
	}
	if len(pending) > 0 {
		owed := make([]string, 0, len(pending))
		for _, p := range pending {
			owed = append(owed, p.AssignmentID.String())
		}
		return nil, pkgerrors.New(pkgerrors.CodePendingObligation, "previous trip on this order has not been rated").
			WithDetails(map[string]any{"assignmentIds": owed})
	}

	if s.capability != nil {
		allowed, err := s.capability(ctx, actor, input.Slots)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "capability check")
		}
		if !allowed {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "actor may not hold more active assignments").
				WithDetails(map[string]any{"requested": input.Slots})
		}
	}

	var (
		reservation capacity.Reservation
		created     []models.Assignment
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		created = created[:0]
		repo := s.repo.WithTx(tx)

		var err error
		reservation, err = s.ledger.Reserve(ctx, tx, order.ID, input.Slots)
		if err != nil {
			return err
		}
		if !reservation.Granted {
			return notAvailable(reservation.Status, reservation.AvailableSlots)
		}

		now := s.now().UTC()
		for i, driver := range drivers {
			assignment := models.Assignment{
				ID:              uuid.New(),
				FreightOrderID:  order.ID,
				DriverID:        driver.ID,
				CompanyID:       driver.CompanyID,
				AgreedPrice:     price,
				PricingBasis:    basis,
				Status:          enums.TripStatusAccepted,
				AcceptedAt:      now,
				StatusUpdatedAt: now,
			}
			if actor.Kind == ActorCompany {
				assignment.CompanyID = actor.CompanyID
			}
			if err := repo.CreateAssignment(ctx, &assignment); err != nil {
				if db.IsUniqueViolation(err, "") {
					return pkgerrors.New(pkgerrors.CodeDuplicateActiveAssignment, "driver already holds an active assignment on this order").
						WithDetails(map[string]any{"driverId": driver.ID.String()})
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("create assignment %d of %d", i+1, len(drivers)))
			}
			created = append(created, assignment)

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventAssignmentCreated,
				AggregateType: enums.AggregateAssignment,
				AggregateID:   assignment.ID,
				Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
				OccurredAt:    now,
				Data: payloads.AssignmentCreatedEvent{
					AssignmentID:     assignment.ID,
					FreightOrderID:   order.ID,
					DriverID:         assignment.DriverID,
					CompanyID:        assignment.CompanyID,
					AgreedPrice:      assignment.AgreedPrice,
					PricingBasis:     assignment.PricingBasis,
					RepeatAcceptance: !reservation.FirstGrant,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit assignment_created")
			}
		}

		if order.RequiredSlots == 1 && order.BoundDriverID == nil && len(created) == 1 {
			if _, err := repo.BindDriver(ctx, order.ID, created[0].DriverID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "bind driver on order")
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCapacityReserved,
			AggregateType: enums.AggregateFreightOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
			OccurredAt:    now,
			Data: payloads.CapacityReservedEvent{
				FreightOrderID: order.ID,
				Granted:        input.Slots,
				GrantedSlots:   reservation.GrantedSlots,
				RequiredSlots:  reservation.RequiredSlots,
				OrderStatus:    reservation.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	result := &AllocationResult{
		Assignments:      created,
		GrantedSlots:     reservation.GrantedSlots,
		RemainingSlots:   reservation.AvailableSlots,
		OrderStatus:      reservation.Status,
		RepeatAcceptance: !reservation.FirstGrant,
	}
	s.notifyShipper(ctx, order, result)
	return result, nil
}

func (s *service) validate(actor Actor, freightOrderID uuid.UUID, input AllocateInput) error {
	if freightOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "freight order id required")
	}
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Slots < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one slot must be requested")
	}
	if input.OfferedPrice != nil && !input.OfferedPrice.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "offered price must be positive")
	}
	switch actor.Kind {
	case ActorIndividual:
		if input.Slots > 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "individual drivers may request a single slot")
		}
	case ActorCompany:
		if actor.CompanyID == nil || *actor.CompanyID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeForbidden, "company context missing")
		}
		if s.maxCompanySlots > 0 && input.Slots > s.maxCompanySlots {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("a company may request at most %d slots at once", s.maxCompanySlots))
		}
		seen := make(map[uuid.UUID]struct{}, len(input.DriverIDs))
		for _, id := range input.DriverIDs {
			if _, dup := seen[id]; dup {
				return pkgerrors.New(pkgerrors.CodeValidation, "driver ids must be distinct")
			}
			seen[id] = struct{}{}
		}
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "unknown actor kind")
	}
	return nil
}

func (s *service) pickDrivers(ctx context.Context, actor Actor, order *models.FreightOrder, input AllocateInput) ([]models.Driver, error) {
	if actor.Kind == ActorIndividual {
		active, err := s.repo.ActiveDriverIDs(ctx, order.ID, []uuid.UUID{actor.UserID})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check active assignments")
		}
		if active[actor.UserID] {
			return nil, pkgerrors.New(pkgerrors.CodeDuplicateActiveAssignment, "driver already holds an active assignment on this order")
		}
	}

	var requested []uuid.UUID
	if actor.Kind == ActorCompany {
		requested = input.DriverIDs
	}
	eligible, err := s.eligibility.EligibleDrivers(ctx, s.repo, actor, order, requested)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve eligible drivers")
	}

	if actor.Kind == ActorIndividual {
		if len(eligible) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "driver profile is not eligible to accept freight")
		}
		return eligible[:1], nil
	}
	// named drivers are taken as asked and face the obligation check later
	if len(requested) == 0 {
		if eligible, err = s.dropOwing(ctx, order.ID, eligible); err != nil {
			return nil, err
		}
	}
	if len(eligible) < input.Slots {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientEligibleDrivers, "not enough eligible drivers").
			WithDetails(map[string]any{"requested": input.Slots, "eligible": len(eligible)})
	}
	return eligible[:input.Slots], nil
}

// dropOwing removes drivers that still owe a rating on this order.
func (s *service) dropOwing(ctx context.Context, orderID uuid.UUID, pool []models.Driver) ([]models.Driver, error) {
	ids := make([]uuid.UUID, 0, len(pool))
	for _, d := range pool {
		ids = append(ids, d.ID)
	}
	pending, err := s.repo.PendingObligations(ctx, orderID, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rating obligations")
	}
	if len(pending) == 0 {
		return pool, nil
	}
	owing := make(map[uuid.UUID]struct{}, len(pending))
	for _, p := range pending {
		owing[p.RaterID] = struct{}{}
	}
	return slices.DeleteFunc(pool, func(d models.Driver) bool {
		_, ok := owing[d.ID]
		return ok
	}), nil
}

func (s *service) notifyShipper(ctx context.Context, order *models.FreightOrder, result *AllocationResult) {
	if len(result.Assignments) == 0 {
		return
	}
	title := "Your freight was accepted"
	message := fmt.Sprintf("%d of %d slots granted on %s.", result.GrantedSlots, order.RequiredSlots, order.Reference)
	if result.RepeatAcceptance {
		title = "More slots accepted on your freight"
		message = fmt.Sprintf("%d more slot(s) granted on %s, %d remaining.", len(result.Assignments), order.Reference, result.RemainingSlots)
	}
	ids := make([]string, 0, len(result.Assignments))
	for _, a := range result.Assignments {
		ids = append(ids, a.ID.String())
	}
	s.notifier.Notify(ctx, notifications.Request{
		UserID:  order.ShipperID,
		Title:   title,
		Message: message,
		Type:    enums.NotificationTypeAssignmentAccepted,
		Data: map[string]any{
			"freightOrderId":   order.ID.String(),
			"assignmentIds":    ids,
			"grantedSlots":     result.GrantedSlots,
			"remainingSlots":   result.RemainingSlots,
			"repeatAcceptance": result.RepeatAcceptance,
		},
		DedupeKey: "allocation:" + result.Assignments[0].ID.String(),
	})
}

func (s *service) SubmitRating(ctx context.Context, raterID, assignmentID uuid.UUID, input RatingInput) error {
	if raterID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Score < 1 || input.Score > 5 {
		return pkgerrors.New(pkgerrors.CodeValidation, "score must be between 1 and 5")
	}
	obligation, err := s.repo.FindObligation(ctx, assignmentID, raterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no rating is owed for this assignment")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load rating obligation")
	}
	updated, err := s.repo.SatisfyObligation(ctx, obligation.ID, input.Score, input.Comment, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save rating")
	}
	if !updated {
		return pkgerrors.New(pkgerrors.CodeConflict, "assignment already rated")
	}
	return nil
}

func (s *service) ListForDriver(ctx context.Context, driverID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListForDriver(ctx, driverID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list assignments")
	}
	items, next := pagination.Page(rows, params.Limit, func(a models.Assignment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return &ListResult{Items: items, Cursor: next}, nil
}

func notAvailable(status enums.FreightOrderStatus, available int) error {
	return pkgerrors.New(pkgerrors.CodeNotAvailable, "freight order has no capacity for this request").
		WithDetails(map[string]any{"status": string(status), "availableSlots": available})
}
