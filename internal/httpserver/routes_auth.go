package httpserver

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

var validate = validator.New()

func (s *Server) registerAuthRoutes() {
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/auth/login", Policy: PolicyPublic, Handler: s.handleLogin})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/auth/me", Policy: PolicyRequireAuth, Handler: s.handleMe})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/auth/refresh", Policy: PolicyRequireAuth, Handler: s.handleRefresh})
	s.registry.Add(Route{Method: http.MethodPut, Pattern: "/api/auth/profile", Policy: PolicyRequireAuth, Handler: s.handleUpdateProfile})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/tenants/discover", Policy: PolicyPublic, Handler: s.handleDiscoverTenants})
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	TenantSlug string `json:"tenantSlug"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var body loginRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("email and password are required", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	result, err := s.auth.Login(r.Context(), body.Email, body.Password, body.TenantSlug)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) error {
	principal := principalFrom(r.Context())

	response := map[string]interface{}{"user": principal.User}
	if principal.TenantID != "" && principal.TenantID != tenancy.AllTenants {
		tenant, err := s.identity.FindTenantByID(r.Context(), principal.TenantID)
		if err != nil {
			return err
		}
		response["tenant"] = tenant
	}
	return writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) error {
	token, err := s.auth.Refresh(r.Context(), principalFrom(r.Context()))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Name string `json:"name" validate:"required,max=200"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if err := validate.Struct(body); err != nil {
		return apperror.ErrValidation("name is required", nil)
	}

	user, err := s.auth.UpdateProfile(r.Context(), principalFrom(r.Context()), body.Name)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDiscoverTenants(w http.ResponseWriter, r *http.Request) error {
	email := r.URL.Query().Get("email")
	if email == "" {
		return apperror.ErrValidation("email query parameter is required", nil)
	}

	tenants, err := s.auth.DiscoverTenantsByEmail(r.Context(), email)
	if err != nil {
		return err
	}

	// A single match short-circuits the client's tenant picker.
	if len(tenants) == 1 {
		return writeJSON(w, http.StatusOK, map[string]string{
			"tenantSlug": tenants[0].Slug,
			"tenantName": tenants[0].Name,
		})
	}

	summaries := make([]map[string]string, 0, len(tenants))
	for _, t := range tenants {
		summaries = append(summaries, map[string]string{"slug": t.Slug, "name": t.Name})
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": summaries})
}
