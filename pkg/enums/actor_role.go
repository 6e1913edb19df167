package enums

import "slices"

// ActorRole is the role carried in access tokens.
type ActorRole string

const (
	ActorRoleDriver  ActorRole = "driver"
	ActorRoleCompany ActorRole = "company"
	ActorRoleShipper ActorRole = "shipper"
	ActorRoleAdmin   ActorRole = "admin"
)

var validActorRoles = []ActorRole{
	ActorRoleDriver,
	ActorRoleCompany,
	ActorRoleShipper,
	ActorRoleAdmin,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool { return slices.Contains(validActorRoles, r) }

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	return parseOneOf(validActorRoles, "actor role", value)
}
