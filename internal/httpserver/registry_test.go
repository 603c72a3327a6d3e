package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(w http.ResponseWriter, r *http.Request) error { return nil }

func TestValidateAcceptsWellFormedSurface(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/health", Policy: PolicyPublic, Handler: noopHandler})
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: noopHandler})
	reg.Add(Route{Method: http.MethodPost, Pattern: "/api/documents/{type}", Policy: PolicyRequirePermission, Permission: "documents:write", Handler: noopHandler})

	require.NoError(t, reg.Validate())
}

func TestValidateRejectsMissingPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Handler: noopHandler})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authentication policy")
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: Policy("requireMagic"), Handler: noopHandler})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestValidateRejectsPermissionPolicyWithoutPermission(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: PolicyRequirePermission, Handler: noopHandler})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "names none")
}

func TestValidateRejectsStrayPermission(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: PolicyRequireAuth, Permission: "documents:read", Handler: noopHandler})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not use requirePermission")
}

func TestValidateRejectsDuplicateRoute(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: PolicyPublic, Handler: noopHandler})
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: PolicyRequireAuth, Handler: noopHandler})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
}

func TestValidateRejectsIncompleteRegistration(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/api/things", Policy: PolicyPublic})

	err := reg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestSummaryCountsPerPolicy(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Route{Method: http.MethodGet, Pattern: "/a", Policy: PolicyPublic, Handler: noopHandler})
	reg.Add(Route{Method: http.MethodGet, Pattern: "/b", Policy: PolicyPublic, Handler: noopHandler})
	reg.Add(Route{Method: http.MethodGet, Pattern: "/c", Policy: PolicyRequireAuth, Handler: noopHandler})

	summary := reg.Summary()
	assert.Equal(t, 2, summary[PolicyPublic])
	assert.Equal(t, 1, summary[PolicyRequireAuth])
}
