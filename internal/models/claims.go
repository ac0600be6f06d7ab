package models

// Role is the role claim issued by the hosted identity provider.
type Role string

const (
	RoleAuthenticated Role = "authenticated"
	RoleServiceRole   Role = "service_role"
	RoleAnon          Role = "anon"
)

// Dashboard actions checked by HasPermission.
const (
	ActionViewFleet   = "view_fleet"
	ActionManageFleet = "manage_fleet"
)

// Claims represents the verified JWT claims of a dashboard caller
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAuthenticated, RoleServiceRole, RoleAnon:
		return true
	default:
		return false
	}
}

// HasPermission checks if the caller may perform a dashboard action.
// Anonymous tokens carry the public API key role and get nothing.
func (c *Claims) HasPermission(action string) bool {
	switch c.Role {
	case RoleServiceRole, RoleAuthenticated:
		return action == ActionViewFleet || action == ActionManageFleet
	default:
		return false
	}
}
