// Package identity persists the global principals: users, tenants, and the
// memberships binding them. Users are global; everything else in the system
// is tenant-owned.
package identity

import (
	"time"
)

// Tenant statuses.
const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
	TenantStatusInactive  = "inactive"
)

// Membership roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Tenant is a unit of data isolation.
type Tenant struct {
	ID        string            `bson:"id" json:"id"`
	Slug      string            `bson:"slug" json:"slug"`
	Name      string            `bson:"name" json:"name"`
	Status    string            `bson:"status" json:"status"`
	Quotas    map[string]int64  `bson:"quotas,omitempty" json:"quotas,omitempty"`
	Settings  map[string]string `bson:"settings,omitempty" json:"settings,omitempty"`
	CreatedAt time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// User is a global principal. PlatformRole "platform_admin" grants implicit
// membership to every active tenant.
type User struct {
	ID           string    `bson:"id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name,omitempty" json:"name,omitempty"`
	PasswordHash string    `bson:"passwordHash" json:"-"`
	PlatformRole string    `bson:"platformRole,omitempty" json:"platformRole,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Membership binds a user to a tenant with a role. Memberships are
// create-only; a role change is a delete plus a create.
type Membership struct {
	ID        string    `bson:"id" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	TenantID  string    `bson:"tenantId" json:"tenantId"`
	Role      string    `bson:"role" json:"role"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Permissions granted per membership role. Kept coarse: the document layer
// enforces tenant scope, roles gate the verbs.
var rolePermissions = map[string][]string{
	RoleAdmin:  {"documents:read", "documents:write", "documents:delete", "workflows:execute", "tenant:manage"},
	RoleEditor: {"documents:read", "documents:write", "workflows:execute"},
	RoleViewer: {"documents:read"},
}

// PermissionsForRole returns the permission strings a role grants.
func PermissionsForRole(role string) []string {
	return rolePermissions[role]
}
