package httpserver

import (
	"net/http"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/repository"
)

func (s *Server) registerAggregationRoutes() {
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/aggregation", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleAggregation})
}

type aggregationRequest struct {
	Type     string                      `json:"type"`
	Pipeline []bson.M                    `json:"pipeline,omitempty"`
	Config   *repository.AggregateConfig `json:"config,omitempty"`
}

// handleAggregation accepts either a raw pipeline or the declarative
// config; both run behind the repository's mandatory filters.
func (s *Server) handleAggregation(w http.ResponseWriter, r *http.Request) error {
	var body aggregationRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Type == "" {
		return apperror.ErrValidation("type is required", nil)
	}
	if len(body.Pipeline) > 0 && body.Config != nil {
		return apperror.ErrValidation("provide either pipeline or config, not both", nil)
	}

	repo, _ := s.repo(r, body.Type)

	var (
		results []bson.M
		err     error
	)
	switch {
	case len(body.Pipeline) > 0:
		results, err = repo.Aggregate(r.Context(), body.Pipeline)
	case body.Config != nil:
		results, err = repo.AggregateWithConfig(r.Context(), *body.Config)
	default:
		return apperror.ErrValidation("pipeline or config is required", nil)
	}
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
