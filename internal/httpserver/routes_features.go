package httpserver

import (
	"net/http"

	"github.com/iamkash/intellispec/internal/tenancy"
)

func (s *Server) registerFeatureRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/features", Policy: PolicyRequireAuth, Handler: s.handleListFeatures})
}

// handleListFeatures returns the tenant's feature flags. Platform-scoped
// principals have no single tenant, so they see an empty set.
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	if rc.Tenant.TenantID == tenancy.AllTenants {
		return writeJSON(w, http.StatusOK, map[string]interface{}{"features": map[string]bool{}})
	}

	flags, err := s.flags.Flags(r.Context(), rc.Tenant.TenantID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"features": flags})
}
