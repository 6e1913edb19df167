package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// RequireRole admits callers whose token carries one of roles. Admins always pass.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role != enums.ActorRoleAdmin && !slices.Contains(roles, role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted for this action").
					WithDetails(map[string]any{"role": role}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
