package httpserver

import (
	"net/http"
)

func (s *Server) registerVectorRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/vector-service/health", Policy: PolicyPublic, Handler: s.handleVectorHealth})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/vector-service/metrics", Policy: PolicyPublic, Handler: s.handleVectorMetrics})
}

func (s *Server) handleVectorHealth(w http.ResponseWriter, r *http.Request) error {
	health := s.vector.Health()
	status := http.StatusOK
	if health.Enabled && !health.Running {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(w, status, health)
}

func (s *Server) handleVectorMetrics(w http.ResponseWriter, r *http.Request) error {
	health := s.vector.Health()
	stored, err := s.vectorStore.Count(r.Context(), "")
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"queueDepth":    health.QueueDepth,
		"inFlight":      health.InFlight,
		"embedded":      health.Embedded,
		"errors":        health.Errors,
		"paused":        health.Paused,
		"storedVectors": stored,
	})
}
