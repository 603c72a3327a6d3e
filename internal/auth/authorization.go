package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iamkash/intellispec/internal/identity"
	"github.com/iamkash/intellispec/internal/tenancy"
)

// Authorizer answers permission and membership questions. Membership
// lookups are cached in Redis for a short TTL and invalidated on membership
// change.
type Authorizer struct {
	store IdentityReader
	cache *redis.Client
	ttl   time.Duration
}

// NewAuthorizer builds the authorizer. cache may be nil, which disables
// caching without changing semantics.
func NewAuthorizer(store IdentityReader, cache *redis.Client, ttl time.Duration) *Authorizer {
	return &Authorizer{store: store, cache: cache, ttl: ttl}
}

// IsPlatformAdmin reports whether the user holds the platform role.
func (a *Authorizer) IsPlatformAdmin(user *identity.User) bool {
	return user != nil && user.PlatformRole == tenancy.PlatformRoleAdmin
}

// HasPermission reports whether the user holds the permission within the
// tenant. Platform admins hold every permission in every active tenant.
func (a *Authorizer) HasPermission(ctx context.Context, user *identity.User, tenantID, permission string) (bool, error) {
	if a.IsPlatformAdmin(user) {
		return true, nil
	}
	role, err := a.membershipRole(ctx, user.ID, tenantID)
	if err != nil {
		return false, err
	}
	for _, p := range identity.PermissionsForRole(role) {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user's membership role in the tenant is one
// of the given roles.
func (a *Authorizer) HasAnyRole(ctx context.Context, user *identity.User, tenantID string, roles ...string) (bool, error) {
	if a.IsPlatformAdmin(user) {
		return true, nil
	}
	role, err := a.membershipRole(ctx, user.ID, tenantID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// GetUserTenants returns the tenant ids the user belongs to.
func (a *Authorizer) GetUserTenants(ctx context.Context, userID string) ([]string, error) {
	memberships, err := a.store.FindMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memberships))
	seen := map[string]bool{}
	for _, m := range memberships {
		if !seen[m.TenantID] {
			seen[m.TenantID] = true
			ids = append(ids, m.TenantID)
		}
	}
	return ids, nil
}

// HasAccessToTenant reports whether the user may act within the tenant:
// true for platform admins, membership-backed otherwise.
func (a *Authorizer) HasAccessToTenant(ctx context.Context, user *identity.User, tenantID string) (bool, error) {
	if a.IsPlatformAdmin(user) {
		return true, nil
	}
	role, err := a.membershipRole(ctx, user.ID, tenantID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// InvalidateMembership drops the cached role after a membership change.
func (a *Authorizer) InvalidateMembership(ctx context.Context, userID, tenantID string) {
	if a.cache == nil {
		return
	}
	a.cache.Del(ctx, membershipKey(userID, tenantID))
}

type cachedRole struct {
	Role string `json:"role"`
}

// membershipRole resolves the user's role in the tenant, consulting the
// cache first. An empty role means no membership.
func (a *Authorizer) membershipRole(ctx context.Context, userID, tenantID string) (string, error) {
	key := membershipKey(userID, tenantID)
	if a.cache != nil {
		if raw, err := a.cache.Get(ctx, key).Result(); err == nil {
			var cached cachedRole
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return cached.Role, nil
			}
		}
	}

	membership, err := a.store.FindMembership(ctx, userID, tenantID)
	if err != nil {
		return "", err
	}
	role := ""
	if membership != nil {
		role = membership.Role
	}

	if a.cache != nil {
		if raw, err := json.Marshal(cachedRole{Role: role}); err == nil {
			a.cache.Set(ctx, key, raw, a.ttl)
		}
	}
	return role, nil
}

func membershipKey(userID, tenantID string) string {
	return "perm:" + userID + ":" + tenantID
}
