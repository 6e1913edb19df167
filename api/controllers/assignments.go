package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/api/validators"
	"github.com/angelmondragon/freightlane-backend/internal/assignments"
	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const maxNotesLength = 1000

// ListAssignments pages the calling driver's assignments, newest first.
func ListAssignments(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return authed(logg, func(r *http.Request, p middleware.Principal) (any, error) {
		page, err := validators.ParsePage(r)
		if err != nil {
			return nil, err
		}
		return svc.ListForDriver(r.Context(), p.UserID, page)
	})
}

// GetAssignment returns the stored and effective trip status.
func GetAssignment(svc trips.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, view, ok := loadTrip(w, r, svc, logg)
		if !ok {
			return
		}
		if err := canView(principal, view); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type transitionRequest struct {
	Status    string   `json:"status" validate:"required,trip_status"`
	RequestID string   `json:"requestId" validate:"max=128"`
	Notes     *string  `json:"notes"`
	Lat       *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng       *float64 `json:"lng" validate:"omitempty,longitude"`
}

// TransitionAssignment moves an assignment to the requested status. Retries
// carrying the same requestId (or Idempotency-Key) replay the first outcome.
func TransitionAssignment(svc trips.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseTripStatus(strings.TrimSpace(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown trip status"))
			return
		}
		if (body.Lat == nil) != (body.Lng == nil) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "lat and lng must be sent together"))
			return
		}

		req := trips.TransitionRequest{
			AssignmentID: assignmentID,
			Target:       target,
			ActorID:      principal.UserID,
			ActorRole:    principal.Role,
			CompanyID:    principal.CompanyID,
			RequestID:    strings.TrimSpace(body.RequestID),
		}
		if req.RequestID == "" {
			req.RequestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}
		if body.Notes != nil {
			notes := validators.SanitizeString(*body.Notes, maxNotesLength)
			req.Notes = &notes
		}
		if body.Lat != nil {
			req.Geo = &trips.Geo{Lat: *body.Lat, Lng: *body.Lng}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithAssignmentID(ctx, assignmentID.String())
		}
		result, err := svc.Transition(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type progressRequest struct {
	Status string `json:"status" validate:"required,trip_status"`
	Source string `json:"source"`
}

// RecordAssignmentProgress stores an out-of-band progress signal from the
// assigned driver's device.
func RecordAssignmentProgress(svc trips.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, view, ok := loadTrip(w, r, svc, logg)
		if !ok {
			return
		}
		if view.DriverID != principal.UserID && principal.Role != enums.ActorRoleAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned driver can report progress"))
			return
		}

		var body progressRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseTripStatus(strings.TrimSpace(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown trip status"))
			return
		}
		source := enums.ProgressSourceDriverApp
		if body.Source != "" {
			source = enums.ProgressSource(body.Source)
		}

		effective, err := svc.RecordProgress(r.Context(), view.AssignmentID, status, source)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]enums.TripStatus{"effectiveStatus": effective})
	}
}

// ConfirmDelivery lets the shipper close a delivered trip before the window lapses.
func ConfirmDelivery(svc trips.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ConfirmDelivery(r.Context(), assignmentID, principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type ratingRequest struct {
	Score   int     `json:"score" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// RateAssignment records the driver's feedback on a completed trip.
func RateAssignment(svc assignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body ratingRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SubmitRating(r.Context(), principal.UserID, assignmentID, assignments.RatingInput{
			Score:   body.Score,
			Comment: body.Comment,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]bool{"rated": true})
	}
}

func loadTrip(w http.ResponseWriter, r *http.Request, svc trips.Service, logg *logger.Logger) (middleware.Principal, *trips.TripView, bool) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return middleware.Principal{}, nil, false
	}
	assignmentID, err := validators.ParseUUIDParam(r, "assignmentId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return middleware.Principal{}, nil, false
	}
	view, err := svc.Get(r.Context(), assignmentID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return middleware.Principal{}, nil, false
	}
	return principal, view, true
}

// canView keeps drivers and companies to their own trips. Shippers and admins
// see any trip.
func canView(p middleware.Principal, view *trips.TripView) error {
	switch p.Role {
	case enums.ActorRoleDriver:
		if view.DriverID != p.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "assignment belongs to another driver")
		}
	case enums.ActorRoleCompany:
		if p.CompanyID == nil || view.CompanyID == nil || *view.CompanyID != *p.CompanyID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "assignment belongs to another company")
		}
	}
	return nil
}
