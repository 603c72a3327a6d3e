package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/identity"
	"github.com/iamkash/intellispec/internal/tenancy"
)

// IdentityReader is the slice of the identity store the auth services need.
type IdentityReader interface {
	FindUserByID(ctx context.Context, id string) (*identity.User, error)
	FindUserByEmail(ctx context.Context, email string) (*identity.User, error)
	FindTenantByID(ctx context.Context, id string) (*identity.Tenant, error)
	FindTenantBySlug(ctx context.Context, slug string) (*identity.Tenant, error)
	ListTenants(ctx context.Context, status string) ([]*identity.Tenant, error)
	FindMemberships(ctx context.Context, userID string) ([]*identity.Membership, error)
	FindMembership(ctx context.Context, userID, tenantID string) (*identity.Membership, error)
	UpdateUserProfile(ctx context.Context, userID, name string) (*identity.User, error)
}

// Service verifies tokens and hydrates principals. It never checks
// permissions; that is the Authorizer's job.
type Service struct {
	issuer *TokenIssuer
	store  IdentityReader
	trail  audit.Recorder
}

// NewService builds the auth service.
func NewService(issuer *TokenIssuer, store IdentityReader, trail audit.Recorder) *Service {
	return &Service{issuer: issuer, store: store, trail: trail}
}

// Principal is a verified identity plus its resolved tenant scope.
type Principal struct {
	User     *identity.User
	TenantID string
	Tenant   tenancy.TenantContext
}

// VerifyToken validates the bearer token and hydrates the user record.
func (s *Service) VerifyToken(ctx context.Context, raw string) (*Principal, error) {
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.ErrUnauthenticated("token subject no longer exists")
	}

	var tctx tenancy.TenantContext
	if user.PlatformRole == tenancy.PlatformRoleAdmin && claims.TenantID == "" {
		tctx = tenancy.NewPlatformContext(user.ID)
	} else {
		tctx = tenancy.NewTenantContext(claims.TenantID, user.ID, user.PlatformRole)
	}
	return &Principal{User: user, TenantID: claims.TenantID, Tenant: tctx}, nil
}

// LoginResult is the successful login payload.
type LoginResult struct {
	Token  string            `json:"token"`
	User   *identity.User    `json:"user"`
	Tenant *identity.Tenant  `json:"tenant,omitempty"`
}

// Login verifies credentials, resolves the tenant, and issues a token.
// tenantSlug may be empty when the user belongs to exactly one tenant.
func (s *Service) Login(ctx context.Context, email, password, tenantSlug string) (*LoginResult, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		// One failure path for unknown email and bad password.
		s.trail.Record(ctx, audit.Event{
			EventType:    audit.EventLoginFail,
			ResourceType: "user",
			After:        map[string]interface{}{"email": email},
		})
		return nil, apperror.ErrUnauthenticated("invalid credentials")
	}

	tenant, err := s.resolveLoginTenant(ctx, user, tenantSlug)
	if err != nil {
		return nil, err
	}

	tenantID := ""
	if tenant != nil {
		tenantID = tenant.ID
	}
	token, err := s.issuer.Issue(user.ID, tenantID, user.PlatformRole)
	if err != nil {
		return nil, err
	}

	s.trail.Record(ctx, audit.Event{
		EventType:    audit.EventLogin,
		ActorUserID:  user.ID,
		TenantID:     tenantID,
		ResourceType: "user",
		ResourceID:   user.ID,
	})
	return &LoginResult{Token: token, User: user, Tenant: tenant}, nil
}

// resolveLoginTenant applies the login tenant-resolution contract: explicit
// slug wins; otherwise a single candidate auto-selects; platform admins may
// log in without a tenant; anyone else with zero candidates is rejected.
func (s *Service) resolveLoginTenant(ctx context.Context, user *identity.User, tenantSlug string) (*identity.Tenant, error) {
	if tenantSlug != "" {
		tenant, err := s.store.FindTenantBySlug(ctx, tenantSlug)
		if err != nil {
			return nil, err
		}
		if tenant == nil || tenant.Status != identity.TenantStatusActive {
			return nil, apperror.ErrUnauthenticated("tenant is not available")
		}
		if user.PlatformRole != tenancy.PlatformRoleAdmin {
			m, err := s.store.FindMembership(ctx, user.ID, tenant.ID)
			if err != nil {
				return nil, err
			}
			if m == nil {
				return nil, apperror.ErrForbidden("no membership in this tenant")
			}
		}
		return tenant, nil
	}

	candidates, err := s.DiscoverTenants(ctx, user)
	if err != nil {
		return nil, err
	}
	switch {
	case len(candidates) == 1:
		return candidates[0], nil
	case len(candidates) > 1 && user.PlatformRole == tenancy.PlatformRoleAdmin:
		// Platform admins default to the all-tenants scope.
		return nil, nil
	case len(candidates) > 1:
		return nil, apperror.ErrValidation("tenantSlug is required: user belongs to several tenants", map[string]interface{}{
			"tenants": len(candidates),
		})
	default:
		return nil, apperror.ErrForbidden("user has no tenant membership")
	}
}

// DiscoverTenants returns the tenants the user may enter: all active tenants
// for platform admins, membership tenants otherwise.
func (s *Service) DiscoverTenants(ctx context.Context, user *identity.User) ([]*identity.Tenant, error) {
	if user.PlatformRole == tenancy.PlatformRoleAdmin {
		return s.store.ListTenants(ctx, identity.TenantStatusActive)
	}

	memberships, err := s.store.FindMemberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	tenants := make([]*identity.Tenant, 0, len(memberships))
	seen := map[string]bool{}
	for _, m := range memberships {
		if seen[m.TenantID] {
			continue
		}
		seen[m.TenantID] = true
		tenant, err := s.store.FindTenantByID(ctx, m.TenantID)
		if err != nil {
			return nil, err
		}
		if tenant != nil && tenant.Status == identity.TenantStatusActive {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// DiscoverTenantsByEmail resolves candidates for the pre-login discovery
// endpoint. An unknown email yields an empty list, not an error: the
// endpoint must not be an account oracle.
func (s *Service) DiscoverTenantsByEmail(ctx context.Context, email string) ([]*identity.Tenant, error) {
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return []*identity.Tenant{}, nil
	}
	return s.DiscoverTenants(ctx, user)
}

// Refresh issues a new token for an already-verified principal.
func (s *Service) Refresh(ctx context.Context, principal *Principal) (string, error) {
	return s.issuer.Issue(principal.User.ID, principal.TenantID, principal.User.PlatformRole)
}

// UpdateProfile patches the caller's mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, principal *Principal, name string) (*identity.User, error) {
	user, err := s.store.UpdateUserProfile(ctx, principal.User.ID, name)
	if err != nil {
		return nil, err
	}
	s.trail.Record(ctx, audit.Event{
		EventType:    audit.EventUpdate,
		ActorUserID:  principal.User.ID,
		TenantID:     principal.TenantID,
		ResourceType: "user",
		ResourceID:   principal.User.ID,
		Before:       map[string]interface{}{"name": principal.User.Name},
		After:        map[string]interface{}{"name": name},
	})
	return user, nil
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperror.ErrInternal("failed to hash password", err)
	}
	return string(hash), nil
}
