package model

import "time"

// AdminRoleName is the protected built-in role. Only admins may create or
// modify it.
const AdminRoleName = "admin"

// User is a gateway account. Password holds the bcrypt hash and must never
// leave the process on read paths.
type User struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"password,omitempty"`
	Role      string    `json:"role"`
	Groups    []string  `json:"groups"`
	UIAccess  bool      `json:"ui_access"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Public returns a copy with credentials stripped for read responses.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Role carries the boolean permission flags checked by the platform routes.
type Role struct {
	RoleName            string    `json:"role_name"`
	RoleDescription     string    `json:"role_description,omitempty"`
	ManageUsers         bool      `json:"manage_users"`
	ManageAPIs          bool      `json:"manage_apis"`
	ManageEndpoints     bool      `json:"manage_endpoints"`
	ManageGroups        bool      `json:"manage_groups"`
	ManageRoles         bool      `json:"manage_roles"`
	ManageRoutings      bool      `json:"manage_routings"`
	ManageGateway       bool      `json:"manage_gateway"`
	ManageSubscriptions bool      `json:"manage_subscriptions"`
	ManageSecurity      bool      `json:"manage_security"`
	ManageCredits       bool      `json:"manage_credits"`
	ManageAuth          bool      `json:"manage_auth"`
	ManageTokens        bool      `json:"manage_tokens"`
	ManageTiers         bool      `json:"manage_tiers"`
	ManageRateLimits    bool      `json:"manage_rate_limits"`
	ViewAnalytics       bool      `json:"view_analytics"`
	ViewLogs            bool      `json:"view_logs"`
	ExportLogs          bool      `json:"export_logs"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// Permission flag names, matching the Role JSON fields.
const (
	PermManageUsers         = "manage_users"
	PermManageAPIs          = "manage_apis"
	PermManageEndpoints     = "manage_endpoints"
	PermManageGroups        = "manage_groups"
	PermManageRoles         = "manage_roles"
	PermManageRoutings      = "manage_routings"
	PermManageGateway       = "manage_gateway"
	PermManageSubscriptions = "manage_subscriptions"
	PermManageSecurity      = "manage_security"
	PermManageCredits       = "manage_credits"
	PermManageAuth          = "manage_auth"
	PermManageTokens        = "manage_tokens"
	PermManageTiers         = "manage_tiers"
	PermManageRateLimits    = "manage_rate_limits"
	PermViewAnalytics       = "view_analytics"
	PermViewLogs            = "view_logs"
	PermExportLogs          = "export_logs"
)

// PermissionFlags lists every flag a role document carries.
var PermissionFlags = []string{
	PermManageUsers, PermManageAPIs, PermManageEndpoints, PermManageGroups,
	PermManageRoles, PermManageRoutings, PermManageGateway,
	PermManageSubscriptions, PermManageSecurity, PermManageCredits,
	PermManageAuth, PermManageTokens, PermManageTiers, PermManageRateLimits,
	PermViewAnalytics, PermViewLogs, PermExportLogs,
}

// Has reports whether the role grants the named permission flag. Unknown
// flags are denied.
func (r *Role) Has(flag string) bool {
	switch flag {
	case PermManageUsers:
		return r.ManageUsers
	case PermManageAPIs:
		return r.ManageAPIs
	case PermManageEndpoints:
		return r.ManageEndpoints
	case PermManageGroups:
		return r.ManageGroups
	case PermManageRoles:
		return r.ManageRoles
	case PermManageRoutings:
		return r.ManageRoutings
	case PermManageGateway:
		return r.ManageGateway
	case PermManageSubscriptions:
		return r.ManageSubscriptions
	case PermManageSecurity:
		return r.ManageSecurity
	case PermManageCredits:
		return r.ManageCredits
	case PermManageAuth:
		return r.ManageAuth
	case PermManageTokens:
		return r.ManageTokens
	case PermManageTiers:
		return r.ManageTiers
	case PermManageRateLimits:
		return r.ManageRateLimits
	case PermViewAnalytics:
		return r.ViewAnalytics
	case PermViewLogs:
		return r.ViewLogs
	case PermExportLogs:
		return r.ExportLogs
	}
	return false
}

// AdminRole returns the built-in admin role with every flag granted.
func AdminRole() *Role {
	return &Role{
		RoleName:            AdminRoleName,
		RoleDescription:     "Full gateway administration",
		ManageUsers:         true,
		ManageAPIs:          true,
		ManageEndpoints:     true,
		ManageGroups:        true,
		ManageRoles:         true,
		ManageRoutings:      true,
		ManageGateway:       true,
		ManageSubscriptions: true,
		ManageSecurity:      true,
		ManageCredits:       true,
		ManageAuth:          true,
		ManageTokens:        true,
		ManageTiers:         true,
		ManageRateLimits:    true,
		ViewAnalytics:       true,
		ViewLogs:            true,
		ExportLogs:          true,
	}
}

// Group names a set of users and optionally grants API access beyond what
// subscriptions provide via "api_name/api_version" tokens.
type Group struct {
	GroupName        string    `json:"group_name"`
	GroupDescription string    `json:"group_description,omitempty"`
	APIAccess        []string  `json:"api_access,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// GrantsAccess reports whether the group's api_access list contains the
// given "api_name/api_version" token.
func (g *Group) GrantsAccess(apiKey string) bool {
	for _, grant := range g.APIAccess {
		if grant == apiKey {
			return true
		}
	}
	return false
}

// Subscription grants a user access to one API version.
type Subscription struct {
	Username   string    `json:"username"`
	APIName    string    `json:"api_name"`
	APIVersion string    `json:"api_version"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}
