// Package tenancy carries per-request identity and tenant scoping through
// the handler stack. Contexts are immutable values constructed once by the
// HTTP layer and passed explicitly into repositories and services.
package tenancy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iamkash/intellispec/internal/logger"
)

// AllTenants is the sentinel tenant id carried by platform-admin contexts.
// Repositories interpret it by omitting the automatic tenant filter.
const AllTenants = "*"

// Platform roles.
const (
	PlatformRoleAdmin = "platform_admin"
	PlatformRoleUser  = "user"
)

// TenantContext identifies the principal and the tenant scope of a request.
type TenantContext struct {
	TenantID        string
	UserID          string
	PlatformRole    string
	IsPlatformAdmin bool
}

// NewTenantContext builds a scoped context for a regular principal.
func NewTenantContext(tenantID, userID, platformRole string) TenantContext {
	return TenantContext{
		TenantID:        tenantID,
		UserID:          userID,
		PlatformRole:    platformRole,
		IsPlatformAdmin: platformRole == PlatformRoleAdmin,
	}
}

// NewPlatformContext builds an all-tenants context for a platform admin.
func NewPlatformContext(userID string) TenantContext {
	return TenantContext{
		TenantID:        AllTenants,
		UserID:          userID,
		PlatformRole:    PlatformRoleAdmin,
		IsPlatformAdmin: true,
	}
}

// ScopesAllTenants reports whether the automatic tenant filter is omitted.
func (t TenantContext) ScopesAllTenants() bool {
	return t.IsPlatformAdmin && t.TenantID == AllTenants
}

// RequestContext is the immutable per-request state.
type RequestContext struct {
	CorrelationID string
	StartedAt     time.Time
	Logger        zerolog.Logger
	Tenant        TenantContext
}

// NewRequestContext builds the request state with a child logger carrying the
// correlation and identity fields.
func NewRequestContext(root zerolog.Logger, tenant TenantContext) *RequestContext {
	correlationID := uuid.NewString()
	tenantID := tenant.TenantID
	if tenantID == AllTenants {
		// The sentinel is not a real tenant; keep it out of the log fields.
		tenantID = ""
	}
	return &RequestContext{
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
		Logger:        logger.ForRequest(root, correlationID, tenantID, tenant.UserID),
		Tenant:        tenant,
	}
}

type contextKey struct{}

// Into stashes the request context for the middleware boundary. Handlers
// retrieve it once and pass it explicitly from there on.
func Into(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From retrieves the request context installed by the middleware. The second
// return is false on unauthenticated paths that skipped the middleware.
func From(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}
