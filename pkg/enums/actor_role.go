package enums

import "fmt"

// ActorRole represents the permission level an authenticated actor carries.
type ActorRole string

const (
	ActorRoleAdmin      ActorRole = "admin"
	ActorRoleManager    ActorRole = "manager"
	ActorRoleTechnician ActorRole = "technician"
	ActorRoleReception  ActorRole = "reception"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleManager,
	ActorRoleTechnician,
	ActorRoleReception,
}

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActorRole.
func (a ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}

// CanApprove reports whether the role may approve, reject or complete
// stock documents.
func (a ActorRole) CanApprove() bool {
	return a == ActorRoleAdmin || a == ActorRoleManager
}
