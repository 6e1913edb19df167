package assignments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// ActorKind separates self-employed drivers from companies allocating for a driver pool.
type ActorKind string

const (
	ActorIndividual ActorKind = "individual"
	ActorCompany    ActorKind = "company"
)

// Actor is who asks for slots.
type Actor struct {
	Kind      ActorKind
	UserID    uuid.UUID
	CompanyID *uuid.UUID
	Role      enums.ActorRole
}

// ActorFromClaims maps an authenticated principal to an allocation actor.
func ActorFromClaims(userID uuid.UUID, role enums.ActorRole, companyID *uuid.UUID) (Actor, error) {
	if userID == uuid.Nil {
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	switch role {
	case enums.ActorRoleDriver:
		return Actor{Kind: ActorIndividual, UserID: userID, CompanyID: companyID, Role: role}, nil
	case enums.ActorRoleCompany:
		if companyID == nil || *companyID == uuid.Nil {
			return Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing")
		}
		return Actor{Kind: ActorCompany, UserID: userID, CompanyID: companyID, Role: role}, nil
	default:
		return Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot accept freight")
	}
}
