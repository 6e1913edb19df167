package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/api/validators"
	"github.com/angelmondragon/freightlane-backend/internal/assignments"
	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

type capacityReader interface {
	Snapshot(ctx context.Context, freightOrderID uuid.UUID) (capacity.Snapshot, error)
}

// FreightOrderCapacity returns the slot counters of an order.
func FreightOrderCapacity(ledger capacityReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := ledger.Snapshot(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

type allocateRequest struct {
	Slots        int              `json:"slots" validate:"required,min=1"`
	DriverIDs    []uuid.UUID      `json:"driverIds"`
	OfferedPrice *decimal.Decimal `json:"offeredPrice"`
}

// AllocateSlots requests slots on a freight order for the caller (a driver) or
// for a company's driver pool.
func AllocateSlots(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body allocateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.OfferedPrice != nil && !body.OfferedPrice.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "offeredPrice must be positive"))
			return
		}

		actor, err := assignments.ActorFromClaims(principal.UserID, principal.Role, principal.CompanyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		result, err := svc.Allocate(ctx, actor, orderID, assignments.AllocateInput{
			Slots:        body.Slots,
			DriverIDs:    body.DriverIDs,
			OfferedPrice: body.OfferedPrice,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
