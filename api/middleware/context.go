package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

type principalKey struct{}

// Principal is the caller identity controllers act on behalf of.
type Principal struct {
	UserID    uuid.UUID
	Role      enums.ActorRole
	CompanyID *uuid.UUID
}

// WithPrincipal seeds ctx with the authenticated identity.
func WithPrincipal(ctx context.Context, userID uuid.UUID, role enums.ActorRole, companyID *uuid.UUID) context.Context {
	return context.WithValue(ctx, principalKey{}, Principal{UserID: userID, Role: role, CompanyID: companyID})
}

func principal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

// PrincipalFromContext fails with CodeUnauthorized when Auth did not run.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	p, ok := principal(ctx)
	if !ok {
		return Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return p, nil
}

func UserIDFromContext(ctx context.Context) string {
	if p, ok := principal(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	p, _ := principal(ctx)
	return p.Role
}

func CompanyIDFromContext(ctx context.Context) string {
	if p, ok := principal(ctx); ok && p.CompanyID != nil {
		return p.CompanyID.String()
	}
	return ""
}
