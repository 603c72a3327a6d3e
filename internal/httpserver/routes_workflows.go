package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/workflow"
)

func (s *Server) registerWorkflowRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/workflows", Policy: PolicyRequireAuth, Handler: s.handleListWorkflows})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/workflows/{workflowId}", Policy: PolicyRequireAuth, Handler: s.handleGetWorkflow})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/workflows/{workflowId}/execute", Policy: PolicyRequirePermission, Permission: "workflows:execute", Handler: s.handleExecuteWorkflow})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/executions", Policy: PolicyRequireAuth, Handler: s.handleListExecutions})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/executions/stats", Policy: PolicyRequireAuth, Handler: s.handleExecutionStats})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/executions/{executionId}", Policy: PolicyRequireAuth, Handler: s.handleGetExecution})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/executions/{executionId}/cancel", Policy: PolicyRequireAuth, Handler: s.handleCancelExecution})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	workflows, err := s.workflows.ListWorkflows(r.Context(), rc.Tenant, r.URL.Query().Get("status"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	wf, err := s.workflows.FindWorkflow(r.Context(), rc.Tenant, chi.URLParam(r, "workflowId"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		Inputs map[string]interface{} `json:"inputs"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			return err
		}
	}

	rc := requestContext(r)
	workflowID := chi.URLParam(r, "workflowId")
	result, err := s.engine.ExecuteWorkflow(r.Context(), rc, workflowID, body.Inputs)
	if err != nil {
		return err
	}

	s.trail.Record(r.Context(), audit.Event{
		EventType:    audit.EventExecute,
		ActorUserID:  rc.Tenant.UserID,
		TenantID:     rc.Tenant.TenantID,
		ResourceType: "workflow",
		ResourceID:   workflowID,
		After: map[string]interface{}{
			"executionId": result.ExecutionID,
			"status":      result.Status,
		},
	})
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	q := r.URL.Query()

	filter := workflow.ExecutionFilter{
		WorkflowID: q.Get("workflowId"),
		Status:     q.Get("status"),
	}
	if page, err := strconv.ParseInt(q.Get("page"), 10, 64); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.ParseInt(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}

	executions, total, err := s.engine.List(r.Context(), rc.Tenant, filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"total":      total,
	})
}

func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	filter := workflow.ExecutionFilter{WorkflowID: r.URL.Query().Get("workflowId")}

	stats, err := s.engine.Stats(r.Context(), rc.Tenant, filter)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	status, err := s.engine.Status(r.Context(), rc.Tenant, chi.URLParam(r, "executionId"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) error {
	rc := requestContext(r)
	executionID := chi.URLParam(r, "executionId")
	if err := s.engine.Cancel(r.Context(), rc.Tenant, executionID); err != nil {
		return err
	}

	s.trail.Record(r.Context(), audit.Event{
		EventType:    audit.EventCancel,
		ActorUserID:  rc.Tenant.UserID,
		TenantID:     rc.Tenant.TenantID,
		ResourceType: "execution",
		ResourceID:   executionID,
	})
	return writeJSON(w, http.StatusOK, map[string]string{
		"executionId": executionID,
		"status":      "cancelling",
	})
}
