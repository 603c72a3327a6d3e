package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/auth"
	"github.com/iamkash/intellispec/internal/database"
	"github.com/iamkash/intellispec/internal/identity"
)

func (s *Server) registerPlatformRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/platform/tenants", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformListTenants})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/platform/tenants", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformCreateTenant})
	s.registry.Add(Route{Method: http.MethodPut, Pattern: "/api/platform/tenants/{id}", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformUpdateTenant})
	s.registry.Add(Route{Method: http.MethodDelete, Pattern: "/api/platform/tenants/{id}", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformDeleteTenant})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/platform/users", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformCreateUser})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/platform/memberships", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformCreateMembership})
	s.registry.Add(Route{Method: http.MethodDelete, Pattern: "/api/platform/memberships", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformDeleteMembership})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/platform/stats", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformStats})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/platform/audit", Policy: PolicyRequirePlatformAdmin, Handler: s.handlePlatformAudit})
}

func (s *Server) handlePlatformListTenants(w http.ResponseWriter, r *http.Request) error {
	tenants, err := s.identity.ListTenants(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants})
}

type createTenantRequest struct {
	Slug     string            `json:"slug" validate:"required,lowercase,alphanum|containsrune=-,max=64"`
	Name     string            `json:"name" validate:"required,max=200"`
	Quotas   map[string]int64  `json:"quotas"`
	Settings map[string]string `json:"settings"`
}

func (s *Server) handlePlatformCreateTenant(w http.ResponseWriter, r *http.Request) error {
	var body createTenantRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("slug and name are required", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	tenant := &identity.Tenant{Slug: body.Slug, Name: body.Name, Quotas: body.Quotas, Settings: body.Settings}
	if err := s.identity.CreateTenant(r.Context(), tenant); err != nil {
		return err
	}

	s.platformAudit(r, audit.EventCreate, "tenant", tenant.ID, nil, map[string]interface{}{
		"slug": tenant.Slug, "name": tenant.Name,
	})
	return writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handlePlatformUpdateTenant(w http.ResponseWriter, r *http.Request) error {
	var patch bson.M
	if err := decodeJSON(r, &patch); err != nil {
		return err
	}

	id := chi.URLParam(r, "id")
	before, err := s.identity.FindTenantByID(r.Context(), id)
	if err != nil {
		return err
	}
	if before == nil {
		return apperror.ErrNotFound("tenant", id)
	}

	tenant, err := s.identity.UpdateTenant(r.Context(), id, patch)
	if err != nil {
		return err
	}

	s.platformAudit(r, audit.EventUpdate, "tenant", id,
		map[string]interface{}{"name": before.Name, "status": before.Status},
		map[string]interface{}{"name": tenant.Name, "status": tenant.Status})
	return writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handlePlatformDeleteTenant(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := s.identity.DeleteTenant(r.Context(), id); err != nil {
		return err
	}

	s.platformAudit(r, audit.EventDelete, "tenant", id, nil, nil)
	return writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type createUserRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Name         string `json:"name" validate:"max=200"`
	Password     string `json:"password" validate:"required,min=8"`
	PlatformRole string `json:"platformRole" validate:"omitempty,oneof=user platform_admin"`
}

func (s *Server) handlePlatformCreateUser(w http.ResponseWriter, r *http.Request) error {
	var body createUserRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("email and password are required", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		return err
	}
	user := &identity.User{Email: body.Email, Name: body.Name, PasswordHash: hash, PlatformRole: body.PlatformRole}
	if err := s.identity.CreateUser(r.Context(), user); err != nil {
		return err
	}

	s.platformAudit(r, audit.EventCreate, "user", user.ID, nil, map[string]interface{}{"email": user.Email})
	return writeJSON(w, http.StatusCreated, user)
}

type membershipRequest struct {
	UserID   string `json:"userId" validate:"required"`
	TenantID string `json:"tenantId" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin editor viewer"`
}

func (s *Server) handlePlatformCreateMembership(w http.ResponseWriter, r *http.Request) error {
	var body membershipRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("userId, tenantId, and a valid role are required", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	m := &identity.Membership{UserID: body.UserID, TenantID: body.TenantID, Role: body.Role}
	if err := s.identity.CreateMembership(r.Context(), m); err != nil {
		return err
	}
	s.authorizer.InvalidateMembership(r.Context(), body.UserID, body.TenantID)

	s.platformAudit(r, audit.EventCreate, "membership", m.ID, nil, map[string]interface{}{
		"userId": m.UserID, "tenantId": m.TenantID, "role": m.Role,
	})
	return writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handlePlatformDeleteMembership(w http.ResponseWriter, r *http.Request) error {
	var body membershipRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("userId, tenantId, and a valid role are required", nil)
	}

	if err := s.identity.DeleteMembership(r.Context(), body.UserID, body.TenantID, body.Role); err != nil {
		return err
	}
	s.authorizer.InvalidateMembership(r.Context(), body.UserID, body.TenantID)

	s.platformAudit(r, audit.EventDelete, "membership", body.UserID+"/"+body.TenantID, map[string]interface{}{
		"userId": body.UserID, "tenantId": body.TenantID, "role": body.Role,
	}, nil)
	return writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	tenants, err := s.identity.CountTenants(ctx)
	if err != nil {
		return err
	}
	users, err := s.identity.CountUsers(ctx)
	if err != nil {
		return err
	}
	documents, err := s.db.CountCollection(ctx, database.CollDocuments)
	if err != nil {
		return err
	}
	executions, err := s.db.CountCollection(ctx, database.CollExecutions)
	if err != nil {
		return err
	}
	vectors, err := s.vectorStore.Count(ctx, "")
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenants":          tenants,
		"users":            users,
		"documents":        documents,
		"executions":       executions,
		"vectors":          vectors,
		"activeExecutions": s.engine.ActiveCount(),
	})
}

func (s *Server) handlePlatformAudit(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	filter := audit.Filter{
		TenantID:     q.Get("tenantId"),
		ActorUserID:  q.Get("actorUserId"),
		EventType:    q.Get("eventType"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
	}
	if limit, err := strconv.ParseInt(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}
	if skip, err := strconv.ParseInt(q.Get("skip"), 10, 64); err == nil {
		filter.Skip = skip
	}
	if since, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		filter.Since = &since
	}
	if until, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		filter.Until = &until
	}

	events, total, err := s.trail.List(r.Context(), filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

func (s *Server) platformAudit(r *http.Request, eventType, resourceType, resourceID string, before, after map[string]interface{}) {
	rc := requestContext(r)
	s.trail.Record(r.Context(), audit.Event{
		EventType:    eventType,
		ActorUserID:  rc.Tenant.UserID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       before,
		After:        after,
	})
}
