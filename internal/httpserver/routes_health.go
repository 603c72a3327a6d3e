package httpserver

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) registerHealthRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/health", Policy: PolicyPublic, Handler: s.handleHealth})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/metrics", Policy: PolicyPublic, Handler: s.handleMetrics})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	mongoStatus := "ok"
	if err := s.db.Ping(ctx); err != nil {
		status = "degraded"
		mongoStatus = err.Error()
	}

	vectorHealth := s.vector.Health()
	if vectorHealth.Enabled && !vectorHealth.Running {
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"mongo":            mongoStatus,
		"pool":             s.db.Stats(),
		"vector":           vectorHealth,
		"activeExecutions": s.engine.ActiveCount(),
		"timestamp":        time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) error {
	s.metrics.Handler().ServeHTTP(w, r)
	return nil
}
