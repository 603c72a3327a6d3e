package workflow

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/database"
	"github.com/iamkash/intellispec/internal/tenancy"
)

// ============================================================================
// Models
// ============================================================================

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusPaused    = "paused"
)

// Workflow statuses.
const (
	WorkflowActive     = "active"
	WorkflowInactive   = "inactive"
	WorkflowDeprecated = "deprecated"
)

// Checkpoint is a state snapshot written after each node.
type Checkpoint struct {
	AgentID   string                 `bson:"agentId" json:"agentId"`
	Message   string                 `bson:"message" json:"message"`
	State     map[string]interface{} `bson:"state" json:"state"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
}

// ExecutionMetrics accumulates per-run counters.
type ExecutionMetrics struct {
	AgentCalls     int   `bson:"agentCalls" json:"agentCalls"`
	DurationMillis int64 `bson:"durationMillis" json:"durationMillis"`
}

// Execution is one run of a workflow.
type Execution struct {
	ID          string                 `bson:"executionId" json:"executionId"`
	WorkflowID  string                 `bson:"workflowId" json:"workflowId"`
	TenantID    string                 `bson:"tenantId" json:"tenantId"`
	UserID      string                 `bson:"userId" json:"userId"`
	Status      string                 `bson:"status" json:"status"`
	Inputs      map[string]interface{} `bson:"inputs,omitempty" json:"inputs,omitempty"`
	Result      map[string]interface{} `bson:"result,omitempty" json:"result,omitempty"`
	Error       string                 `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt   *time.Time             `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time             `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CreatedAt   time.Time              `bson:"createdAt" json:"createdAt"`
	Checkpoints []Checkpoint           `bson:"checkpoints" json:"checkpoints"`
	Metrics     ExecutionMetrics       `bson:"metrics" json:"metrics"`
}

// WorkflowStats are the aggregate counters kept on a workflow record.
type WorkflowStats struct {
	ExecutionCount int64   `bson:"executionCount" json:"executionCount"`
	AvgDuration    float64 `bson:"avgDurationMillis" json:"avgDurationMillis"`
	SuccessRate    float64 `bson:"successRate" json:"successRate"`
}

// Workflow is a tenant-owned workflow definition. Metadata holds the raw
// graph declaration; it is compiled on every execute.
type Workflow struct {
	ID        string                 `bson:"id" json:"id"`
	TenantID  string                 `bson:"tenantId" json:"tenantId"`
	Name      string                 `bson:"name" json:"name"`
	Status    string                 `bson:"status" json:"status"`
	Metadata  map[string]interface{} `bson:"metadata" json:"metadata"`
	Stats     WorkflowStats          `bson:"stats" json:"stats"`
	CreatedAt time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// ExecutionFilter narrows execution queries.
type ExecutionFilter struct {
	WorkflowID string
	Status     string
	Page       int64
	Limit      int64
}

// ExecutionStats summarizes executions matching a filter.
type ExecutionStats struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Cancelled   int64   `json:"cancelled"`
	Running     int64   `json:"running"`
	SuccessRate float64 `json:"successRate"`
}

// ============================================================================
// Store
// ============================================================================

// ExecutionStore persists executions. The engine never touches the database
// except through this interface.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	FindExecution(ctx context.Context, tenant tenancy.TenantContext, id string) (*Execution, error)
	ListExecutions(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) ([]*Execution, int64, error)
	ExecutionStats(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) (*ExecutionStats, error)
}

// WorkflowStore reads workflow definitions and maintains their aggregate
// stats.
type WorkflowStore interface {
	FindWorkflow(ctx context.Context, tenant tenancy.TenantContext, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, tenant tenancy.TenantContext, status string) ([]*Workflow, error)
	RecordOutcome(ctx context.Context, workflowID string, status string, duration time.Duration) error
}

// Store is the Mongo-backed implementation of both store interfaces.
type Store struct {
	workflows  *mongo.Collection
	executions *mongo.Collection
}

// NewStore builds the store over the workflow collections.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		workflows:  db.Collection(database.CollWorkflows),
		executions: db.Collection(database.CollExecutions),
	}
}

func scoped(tenant tenancy.TenantContext, filter bson.M) bson.M {
	if !tenant.ScopesAllTenants() {
		filter["tenantId"] = tenant.TenantID
	}
	return filter
}

// InsertExecution persists a new execution record.
func (s *Store) InsertExecution(ctx context.Context, exec *Execution) error {
	if _, err := s.executions.InsertOne(ctx, exec); err != nil {
		return apperror.ErrDatabase("failed to insert execution", err)
	}
	return nil
}

// UpdateExecution replaces the execution record.
func (s *Store) UpdateExecution(ctx context.Context, exec *Execution) error {
	res, err := s.executions.ReplaceOne(ctx, bson.M{"executionId": exec.ID}, exec)
	if err != nil {
		return apperror.ErrDatabase("failed to update execution", err)
	}
	if res.MatchedCount == 0 {
		return apperror.ErrNotFound("execution", exec.ID)
	}
	return nil
}

// FindExecution returns the tenant's execution or a NotFound error.
func (s *Store) FindExecution(ctx context.Context, tenant tenancy.TenantContext, id string) (*Execution, error) {
	var exec Execution
	err := s.executions.FindOne(ctx, scoped(tenant, bson.M{"executionId": id})).Decode(&exec)
	if err == mongo.ErrNoDocuments {
		return nil, apperror.ErrNotFound("execution", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query execution", err)
	}
	return &exec, nil
}

// ListExecutions returns a page of executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) ([]*Execution, int64, error) {
	query := scoped(tenant, bson.M{})
	if filter.WorkflowID != "" {
		query["workflowId"] = filter.WorkflowID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	total, err := s.executions.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, apperror.ErrDatabase("failed to count executions", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	cursor, err := s.executions.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, apperror.ErrDatabase("failed to list executions", err)
	}
	defer cursor.Close(ctx)

	executions := []*Execution{}
	if err := cursor.All(ctx, &executions); err != nil {
		return nil, 0, apperror.ErrDatabase("failed to decode executions", err)
	}
	return executions, total, nil
}

// ExecutionStats aggregates status counts and the success rate for the
// matching executions.
func (s *Store) ExecutionStats(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) (*ExecutionStats, error) {
	query := scoped(tenant, bson.M{})
	if filter.WorkflowID != "" {
		query["workflowId"] = filter.WorkflowID
	}

	pipeline := []bson.M{
		{"$match": query},
		{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}},
	}
	cursor, err := s.executions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperror.ErrDatabase("failed to aggregate execution stats", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperror.ErrDatabase("failed to decode execution stats", err)
	}

	stats := &ExecutionStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case StatusCompleted:
			stats.Completed = row.Count
		case StatusFailed:
			stats.Failed = row.Count
		case StatusCancelled:
			stats.Cancelled = row.Count
		case StatusRunning:
			stats.Running = row.Count
		}
	}
	stats.SuccessRate = SuccessRate(stats.Completed, stats.Failed, stats.Cancelled)
	return stats, nil
}

// SuccessRate is completed over all terminal executions, 0 when none ended.
func SuccessRate(completed, failed, cancelled int64) float64 {
	terminal := completed + failed + cancelled
	if terminal == 0 {
		return 0
	}
	return float64(completed) / float64(terminal)
}

// FindWorkflow returns the tenant's workflow or a NotFound error.
func (s *Store) FindWorkflow(ctx context.Context, tenant tenancy.TenantContext, id string) (*Workflow, error) {
	var wf Workflow
	err := s.workflows.FindOne(ctx, scoped(tenant, bson.M{"id": id})).Decode(&wf)
	if err == mongo.ErrNoDocuments {
		return nil, apperror.ErrNotFound("workflow", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase("failed to query workflow", err)
	}
	return &wf, nil
}

// ListWorkflows returns the tenant's workflows, optionally by status.
func (s *Store) ListWorkflows(ctx context.Context, tenant tenancy.TenantContext, status string) ([]*Workflow, error) {
	query := scoped(tenant, bson.M{})
	if status != "" {
		query["status"] = status
	}
	cursor, err := s.workflows.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, apperror.ErrDatabase("failed to list workflows", err)
	}
	defer cursor.Close(ctx)

	workflows := []*Workflow{}
	if err := cursor.All(ctx, &workflows); err != nil {
		return nil, apperror.ErrDatabase("failed to decode workflows", err)
	}
	return workflows, nil
}

// RecordOutcome folds one finished execution into the workflow's aggregate
// stats with an incremental average.
func (s *Store) RecordOutcome(ctx context.Context, workflowID string, status string, duration time.Duration) error {
	var wf Workflow
	err := s.workflows.FindOne(ctx, bson.M{"id": workflowID}).Decode(&wf)
	if err == mongo.ErrNoDocuments {
		return apperror.ErrNotFound("workflow", workflowID)
	}
	if err != nil {
		return apperror.ErrDatabase("failed to query workflow", err)
	}

	n := wf.Stats.ExecutionCount
	millis := float64(duration.Milliseconds())
	avg := (wf.Stats.AvgDuration*float64(n) + millis) / float64(n+1)

	completed := wf.Stats.SuccessRate * float64(n)
	if status == StatusCompleted {
		completed++
	}
	rate := completed / float64(n+1)

	update := bson.M{"$set": bson.M{
		"stats.executionCount":    n + 1,
		"stats.avgDurationMillis": avg,
		"stats.successRate":       rate,
		"updatedAt":               time.Now().UTC(),
	}}
	if _, err := s.workflows.UpdateOne(ctx, bson.M{"id": workflowID}, update); err != nil {
		return apperror.ErrDatabase("failed to update workflow stats", err)
	}
	return nil
}
