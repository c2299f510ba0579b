package rbac

// Role is the closed set of roles a principal can hold. Exactly one role is
// active per user; admin overrides every role-gated view.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// ParseRole maps a raw role string onto the closed union. Unknown values
// collapse to RoleUser so a corrupt role row can never grant privilege.
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleAgent:
		return RoleAgent
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// IsValid reports whether the role is one of the three known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}

// PermissionSnapshot is the derived, non-persisted set of action permissions
// recomputed on every resolution. Each field fails closed to false.
type PermissionSnapshot struct {
	CanManageUsers     bool
	CanViewDashboard   bool
	CanCreateRequest   bool
	CanManageRequest   bool
	CanViewAllRequests bool
	CanManagePayments  bool
}

// RoleFlags bundles the three role predicates evaluated together for the
// dashboard gate.
type RoleFlags struct {
	IsAdmin bool
	IsAgent bool
	IsUser  bool
}
