package controllers

import (
	"net/http"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// principalHandler serves one authenticated request and returns the body for
// a 200, or an error for the envelope.
type principalHandler func(r *http.Request, p middleware.Principal) (any, error)

// authed adapts fn into an http.HandlerFunc. Requests without a principal are
// rejected before fn runs.
func authed(logg *logger.Logger, fn principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := middleware.PrincipalFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body, err := fn(r, p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, body)
	}
}
