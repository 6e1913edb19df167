package middleware

import (
	"net/http"

	"github.com/angelmondragon/freightlane-backend/api/responses"
	pkgAuth "github.com/angelmondragon/freightlane-backend/pkg/auth"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := pkgAuth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithPrincipal(r.Context(), claims.UserID, claims.Role, claims.CompanyID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				if claims.CompanyID != nil {
					ctx = logg.WithField(ctx, "company_id", claims.CompanyID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
