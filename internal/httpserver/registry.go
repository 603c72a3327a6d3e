// Package httpserver assembles the HTTP surface: the route registry with
// per-route authentication policies, the middleware stack, and the central
// error mapper. Handlers return errors; only the mapper writes error JSON.
package httpserver

import (
	"fmt"
	"net/http"
)

// Policy is a route's declared authentication requirement. Every route must
// declare exactly one; startup fails otherwise.
type Policy string

const (
	PolicyPublic               Policy = "public"
	PolicyOptionalAuth         Policy = "optionalAuth"
	PolicyRequireAuth          Policy = "requireAuth"
	PolicyRequireTenantAdmin   Policy = "requireTenantAdmin"
	PolicyRequirePlatformAdmin Policy = "requirePlatformAdmin"
	PolicyRequirePermission    Policy = "requirePermission"
)

var knownPolicies = map[Policy]bool{
	PolicyPublic:               true,
	PolicyOptionalAuth:         true,
	PolicyRequireAuth:          true,
	PolicyRequireTenantAdmin:   true,
	PolicyRequirePlatformAdmin: true,
	PolicyRequirePermission:    true,
}

// HandlerFunc is a handler that reports failures as errors instead of
// writing them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Route is one registered endpoint.
type Route struct {
	Method     string
	Pattern    string
	Policy     Policy
	Permission string
	Handler    HandlerFunc
}

// Registry collects routes before mounting so the whole surface can be
// validated at startup.
type Registry struct {
	routes []Route
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records a route.
func (reg *Registry) Add(route Route) {
	reg.routes = append(reg.routes, route)
}

// Routes returns the registered routes in registration order.
func (reg *Registry) Routes() []Route {
	return reg.routes
}

// Validate refuses a surface with an undeclared or malformed policy on any
// route. Called once before the server starts listening.
func (reg *Registry) Validate() error {
	seen := map[string]bool{}
	for _, route := range reg.routes {
		name := route.Method + " " + route.Pattern
		if route.Method == "" || route.Pattern == "" || route.Handler == nil {
			return fmt.Errorf("incomplete route registration %q", name)
		}
		if route.Policy == "" {
			return fmt.Errorf("route %q has no authentication policy", name)
		}
		if !knownPolicies[route.Policy] {
			return fmt.Errorf("route %q declares unknown policy %q", name, route.Policy)
		}
		if route.Policy == PolicyRequirePermission && route.Permission == "" {
			return fmt.Errorf("route %q requires a permission but names none", name)
		}
		if route.Policy != PolicyRequirePermission && route.Permission != "" {
			return fmt.Errorf("route %q names a permission but does not use requirePermission", name)
		}
		if seen[name] {
			return fmt.Errorf("route %q registered twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Summary counts routes per policy for the registration log line.
func (reg *Registry) Summary() map[Policy]int {
	summary := map[Policy]int{}
	for _, route := range reg.routes {
		summary[route.Policy]++
	}
	return summary
}
