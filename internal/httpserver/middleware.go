package httpserver

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/auth"
	"github.com/iamkash/intellispec/internal/identity"
	"github.com/iamkash/intellispec/internal/telemetry"
	"github.com/iamkash/intellispec/internal/tenancy"
)

type principalKey struct{}

// principalFrom returns the authenticated principal, nil on public and
// anonymous optional-auth requests.
func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// requestContext returns the request context the policy middleware
// installed. It exists on every request that reached a handler.
func requestContext(r *http.Request) *tenancy.RequestContext {
	rc, _ := tenancy.From(r.Context())
	return rc
}

// endpoint wraps a registered route: policy first, then the handler, with
// every error funneled through the central mapper.
func (s *Server) endpoint(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, rc, err := s.applyPolicy(r, route)
		if err != nil {
			// Policy failures carry no request context yet; attach one so
			// the envelope still has a correlation id.
			anon := tenancy.NewRequestContext(s.logger, tenancy.TenantContext{})
			s.writeError(w, r.WithContext(tenancy.Into(r.Context(), anon)), err)
			return
		}
		w.Header().Set("X-Correlation-ID", rc.CorrelationID)
		if err := route.Handler(w, req); err != nil {
			s.writeError(w, req, err)
		}
	}
}

// applyPolicy authenticates per the route's declared policy and installs
// the request context.
func (s *Server) applyPolicy(r *http.Request, route Route) (*http.Request, *tenancy.RequestContext, error) {
	ctx := r.Context()
	token := bearerToken(r)

	var principal *auth.Principal
	switch route.Policy {
	case PolicyPublic:
	case PolicyOptionalAuth:
		if token != "" {
			if p, err := s.auth.VerifyToken(ctx, token); err == nil {
				principal = p
			}
		}
	default:
		if token == "" {
			if !s.cfg.Server.EnforceAuth {
				// Development escape hatch, gated by configuration.
				principal = &auth.Principal{
					User:   &identity.User{ID: "dev", PlatformRole: tenancy.PlatformRoleAdmin},
					Tenant: tenancy.NewPlatformContext("dev"),
				}
				break
			}
			return nil, nil, apperror.ErrUnauthenticated("missing bearer token")
		}
		p, err := s.auth.VerifyToken(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		principal = p
	}

	if err := s.authorize(ctx, route, principal); err != nil {
		return nil, nil, err
	}

	tenant := tenancy.TenantContext{}
	if principal != nil {
		tenant = principal.Tenant
	}
	rc := tenancy.NewRequestContext(s.logger, tenant)
	ctx = tenancy.Into(ctx, rc)
	if principal != nil {
		ctx = context.WithValue(ctx, principalKey{}, principal)
	}
	return r.WithContext(ctx), rc, nil
}

func (s *Server) authorize(ctx context.Context, route Route, principal *auth.Principal) error {
	switch route.Policy {
	case PolicyRequirePlatformAdmin:
		if !s.authorizer.IsPlatformAdmin(principal.User) {
			return apperror.ErrForbidden("platform administrator role required")
		}
	case PolicyRequireTenantAdmin:
		ok, err := s.authorizer.HasAnyRole(ctx, principal.User, principal.TenantID, identity.RoleAdmin)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ErrForbidden("tenant administrator role required")
		}
	case PolicyRequirePermission:
		ok, err := s.authorizer.HasPermission(ctx, principal.User, principal.TenantID, route.Permission)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ErrForbidden("missing permission " + route.Permission)
		}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// ============================================================================
// Server-wide middleware
// ============================================================================

// instrument records the access log line, request counters, and latency,
// and opens a span per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx, span := telemetry.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
		next.ServeHTTP(ww, r.WithContext(ctx))

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unmatched"
		}
		status := ww.Status()
		duration := time.Since(start)

		span.SetAttributes(
			attribute.String("http.route", routePattern),
			attribute.Int("http.status_code", status),
		)
		span.End()

		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(r.Method, routePattern, strconv.Itoa(status)).Inc()
			s.metrics.RequestDuration.WithLabelValues(r.Method, routePattern).Observe(duration.Seconds())
		}
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	})
}

// recoverer turns handler panics into Internal errors instead of dropping
// the connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				s.writeError(w, r, apperror.ErrInternal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-client token bucket, keyed by bearer token when
// present and remote address otherwise.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}
		if !s.limiter.Allow(key) {
			s.writeError(w, r, apperror.ErrRateLimited("request rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// timeout bounds each request's context. Long-running work is deliberately
// not done in request tasks, so a generous bound catches only stuck calls.
func (s *Server) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
