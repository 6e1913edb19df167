package assignments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// CapabilityFunc answers whether the actor may hold slots more active
// assignments. It is owned by the identity layer; nil allows everything.
type CapabilityFunc func(ctx context.Context, actor Actor, slots int) (bool, error)

// ActiveLimit caps the active assignments an individual driver or a company
// may hold across all orders. A limit of zero leaves that kind unbounded, and
// nil is returned when both are.
func ActiveLimit(repo Repository, perDriver, perCompany int) CapabilityFunc {
	if perDriver <= 0 && perCompany <= 0 {
		return nil
	}
	return func(ctx context.Context, actor Actor, slots int) (bool, error) {
		var (
			limit int
			held  int64
			err   error
		)
		switch actor.Kind {
		case ActorIndividual:
			limit = perDriver
			if limit > 0 {
				held, err = repo.CountActiveForDriver(ctx, actor.UserID)
			}
		case ActorCompany:
			limit = perCompany
			if limit > 0 && actor.CompanyID != nil {
				held, err = repo.CountActiveForCompany(ctx, *actor.CompanyID)
			}
		}
		if err != nil {
			return false, err
		}
		return limit <= 0 || held+int64(slots) <= int64(limit), nil
	}
}

// Eligibility resolves which drivers may take slots on an order.
type Eligibility interface {
	EligibleDrivers(ctx context.Context, repo Repository, actor Actor, order *models.FreightOrder, requested []uuid.UUID) ([]models.Driver, error)
}

type driverEligibility struct{}

// NewDriverEligibility checks the drivers table: active, capacity enabled,
// belonging to the company for company actors, and not already holding an
// active assignment on the order.
func NewDriverEligibility() Eligibility {
	return driverEligibility{}
}

func (driverEligibility) EligibleDrivers(ctx context.Context, repo Repository, actor Actor, order *models.FreightOrder, requested []uuid.UUID) ([]models.Driver, error) {
	var pool []models.Driver
	switch actor.Kind {
	case ActorIndividual:
		driver, err := repo.FindDriver(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if driver.Active && driver.CapacityEnabled {
			pool = append(pool, *driver)
		}
	case ActorCompany:
		drivers, err := repo.ListCompanyDrivers(ctx, *actor.CompanyID, requested)
		if err != nil {
			return nil, err
		}
		pool = drivers
	}
	if len(pool) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(pool))
	for _, d := range pool {
		ids = append(ids, d.ID)
	}
	active, err := repo.ActiveDriverIDs(ctx, order.ID, ids)
	if err != nil {
		return nil, err
	}
	eligible := pool[:0]
	for _, d := range pool {
		if !active[d.ID] {
			eligible = append(eligible, d)
		}
	}
	return eligible, nil
}

// AdmissionRule is a domain check applied before capacity is reserved.
type AdmissionRule interface {
	Admit(ctx context.Context, order *models.FreightOrder, price decimal.Decimal) error
}

// PriceFloorRule rejects prices under the configured floor for the order's service class.
type PriceFloorRule struct {
	floors map[string]decimal.Decimal
}

func NewPriceFloorRule(floors map[string]decimal.Decimal) PriceFloorRule {
	normalized := make(map[string]decimal.Decimal, len(floors))
	for class, floor := range floors {
		normalized[strings.ToLower(strings.TrimSpace(class))] = floor
	}
	return PriceFloorRule{floors: normalized}
}

func (r PriceFloorRule) Admit(_ context.Context, order *models.FreightOrder, price decimal.Decimal) error {
	class := strings.ToLower(strings.TrimSpace(order.ServiceClass))
	floor, ok := r.floors[class]
	if !ok || !price.LessThan(floor) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePriceBelowFloor, "offered price is below the service class floor").
		WithDetails(map[string]any{
			"serviceClass": class,
			"floor":        floor.StringFixed(2),
			"offered":      price.StringFixed(2),
		})
}
