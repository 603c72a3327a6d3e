package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/tenancy"
)

// Observer receives execution lifecycle notifications, typically to drive
// gauges and counters. A nil observer is valid.
type Observer interface {
	ExecutionStarted()
	ExecutionFinished(status string)
}

// Engine owns the lifecycle of workflow executions: start, progress,
// persistence, cancellation, query. Executions run in the calling task;
// the engine tracks them in an active map so they can be cancelled and
// counted from other requests.
type Engine struct {
	store          ExecutionStore
	workflows      WorkflowStore
	rt             *Runtime
	logger         zerolog.Logger
	observer       Observer
	maxCheckpoints int
	sem            chan struct{}

	mu      sync.Mutex
	active  map[string]*activeExecution
	wg      sync.WaitGroup
	stopped atomic.Bool
}

type activeExecution struct {
	cancelled atomic.Bool
	reason    atomic.Value
	startedAt time.Time
}

func (a *activeExecution) cancel(reason string) {
	a.reason.Store(reason)
	a.cancelled.Store(true)
}

func (a *activeExecution) cancelReason() string {
	if r, ok := a.reason.Load().(string); ok {
		return r
	}
	return "cancelled"
}

// NewEngine builds the engine. maxConcurrent bounds simultaneous
// executions; maxCheckpoints bounds the FIFO checkpoint history per
// execution.
func NewEngine(store ExecutionStore, workflows WorkflowStore, rt *Runtime, logger zerolog.Logger, observer Observer, maxConcurrent, maxCheckpoints int) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxCheckpoints < 1 {
		maxCheckpoints = 50
	}
	return &Engine{
		store:          store,
		workflows:      workflows,
		rt:             rt,
		logger:         logger.With().Str("component", "workflow-engine").Logger(),
		observer:       observer,
		maxCheckpoints: maxCheckpoints,
		sem:            make(chan struct{}, maxConcurrent),
		active:         map[string]*activeExecution{},
	}
}

// ExecuteResult is the synchronous outcome of an execution.
type ExecuteResult struct {
	ExecutionID    string                 `json:"executionId"`
	Status         string                 `json:"status"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	DurationMillis int64                  `json:"duration"`
	Metrics        ExecutionMetrics       `json:"metrics"`
}

// ExecuteWorkflow loads a stored workflow, compiles its metadata, and runs
// it to completion in the calling task.
func (e *Engine) ExecuteWorkflow(ctx context.Context, req *tenancy.RequestContext, workflowID string, inputs map[string]interface{}) (*ExecuteResult, error) {
	wf, err := e.workflows.FindWorkflow(ctx, req.Tenant, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != WorkflowActive {
		return nil, apperror.ErrConflict(fmt.Sprintf("workflow is %s, not active", wf.Status))
	}
	return e.ExecuteMetadata(ctx, req, wf.ID, wf.TenantID, wf.Metadata, inputs)
}

// ExecuteMetadata compiles and runs a graph declaration directly.
func (e *Engine) ExecuteMetadata(ctx context.Context, req *tenancy.RequestContext, workflowID, tenantID string, metadata, inputs map[string]interface{}) (*ExecuteResult, error) {
	spec, err := ParseGraphSpec(metadata)
	if err != nil {
		return nil, err
	}
	graph, err := Compile(spec, e.rt)
	if err != nil {
		return nil, err
	}

	if e.stopped.Load() {
		return nil, apperror.ErrConflict("engine is shutting down")
	}
	select {
	case e.sem <- struct{}{}:
	default:
		return nil, apperror.ErrRateLimited("too many concurrent workflow executions")
	}
	defer func() { <-e.sem }()

	exec := &Execution{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		TenantID:    tenantID,
		UserID:      req.Tenant.UserID,
		Status:      StatusPending,
		Inputs:      inputs,
		CreatedAt:   time.Now().UTC(),
		Checkpoints: []Checkpoint{},
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return nil, err
	}

	handle := &activeExecution{startedAt: time.Now().UTC()}
	e.mu.Lock()
	e.active[exec.ID] = handle
	e.mu.Unlock()
	e.wg.Add(1)
	if e.observer != nil {
		e.observer.ExecutionStarted()
	}

	defer func() {
		e.mu.Lock()
		delete(e.active, exec.ID)
		e.mu.Unlock()
		e.wg.Done()
		if e.observer != nil {
			e.observer.ExecutionFinished(exec.Status)
		}
	}()

	e.run(ctx, exec, graph, handle, req.Logger)
	e.recordOutcome(ctx, exec)

	return &ExecuteResult{
		ExecutionID:    exec.ID,
		Status:         exec.Status,
		Result:         exec.Result,
		Error:          exec.Error,
		DurationMillis: exec.Metrics.DurationMillis,
		Metrics:        exec.Metrics,
	}, nil
}

// run walks the compiled graph until a terminal state. Persistence failures
// inside the walk are engine failures, fatal to this execution only.
func (e *Engine) run(ctx context.Context, exec *Execution, graph *Graph, handle *activeExecution, log zerolog.Logger) {
	started := time.Now().UTC()
	exec.Status = StatusRunning
	exec.StartedAt = &started
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.finish(ctx, exec, started, StatusFailed, "failed to persist running state: "+err.Error())
		return
	}

	state := map[string]interface{}{}
	for k, v := range exec.Inputs {
		state[k] = v
	}

	visits := map[string]int{}
	node := graph.entry
	var lastOutputs map[string]interface{}

	for node != "" {
		// Cancellation is cooperative: the flag is honored before each
		// node, never mid-call.
		if handle.cancelled.Load() {
			e.finish(ctx, exec, started, StatusCancelled, handle.cancelReason())
			return
		}

		visits[node]++
		if limit := graph.maxIter[node]; limit > 0 && visits[node] > limit {
			e.finish(ctx, exec, started, StatusFailed, fmt.Sprintf("agent %q exceeded its iteration limit of %d", node, limit))
			return
		}

		agent := graph.agents[node]
		outputs, err := agent.Invoke(ctx, state)
		if err != nil {
			log.Error().Err(err).Str("executionId", exec.ID).Str("agent", node).Msg("agent failed")
			e.finish(ctx, exec, started, StatusFailed, err.Error())
			return
		}
		exec.Metrics.AgentCalls++
		lastOutputs = outputs

		state[node] = outputs
		for k, v := range outputs {
			state[k] = v
		}

		e.checkpoint(exec, node, "agent completed", state)
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.finish(ctx, exec, started, StatusFailed, "failed to persist checkpoint: "+err.Error())
			return
		}

		next, ok, err := graph.nextNode(node, state)
		if err != nil {
			e.finish(ctx, exec, started, StatusFailed, err.Error())
			return
		}
		if !ok {
			break
		}
		node = next
	}

	exec.Result = lastOutputs
	e.finish(ctx, exec, started, StatusCompleted, "")
}

// checkpoint appends a state snapshot, dropping the oldest once the FIFO
// bound is reached.
func (e *Engine) checkpoint(exec *Execution, agentID, message string, state map[string]interface{}) {
	cp := Checkpoint{
		AgentID:   agentID,
		Message:   message,
		State:     copyState(state),
		Timestamp: time.Now().UTC(),
	}
	exec.Checkpoints = append(exec.Checkpoints, cp)
	if len(exec.Checkpoints) > e.maxCheckpoints {
		exec.Checkpoints = exec.Checkpoints[len(exec.Checkpoints)-e.maxCheckpoints:]
	}
}

func (e *Engine) finish(ctx context.Context, exec *Execution, started time.Time, status, errMsg string) {
	now := time.Now().UTC()
	exec.Status = status
	exec.Error = errMsg
	exec.CompletedAt = &now
	exec.Metrics.DurationMillis = now.Sub(started).Milliseconds()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error().Err(err).Str("executionId", exec.ID).Msg("failed to persist terminal state")
	}
}

func (e *Engine) recordOutcome(ctx context.Context, exec *Execution) {
	if exec.WorkflowID == "" {
		return
	}
	if err := e.workflows.RecordOutcome(ctx, exec.WorkflowID, exec.Status, time.Duration(exec.Metrics.DurationMillis)*time.Millisecond); err != nil {
		e.logger.Warn().Err(err).Str("workflowId", exec.WorkflowID).Msg("failed to update workflow stats")
	}
}

// ExecutionStatus is the full status of an execution including live data
// for active ones.
type ExecutionStatus struct {
	*Execution
	IsActive          bool  `json:"isActive"`
	RunningTimeMillis int64 `json:"runningTime"`
}

// Status returns the execution with its live running time.
func (e *Engine) Status(ctx context.Context, tenant tenancy.TenantContext, executionID string) (*ExecutionStatus, error) {
	exec, err := e.store.FindExecution(ctx, tenant, executionID)
	if err != nil {
		return nil, err
	}
	status := &ExecutionStatus{Execution: exec}

	e.mu.Lock()
	handle, active := e.active[executionID]
	e.mu.Unlock()
	if active {
		status.IsActive = true
		status.RunningTimeMillis = time.Since(handle.startedAt).Milliseconds()
	} else if exec.StartedAt != nil && exec.CompletedAt != nil {
		status.RunningTimeMillis = exec.CompletedAt.Sub(*exec.StartedAt).Milliseconds()
	}
	return status, nil
}

// Cancel requests cooperative cancellation. The final state is reflected
// once the execution observes the flag before its next node.
func (e *Engine) Cancel(ctx context.Context, tenant tenancy.TenantContext, executionID string) error {
	exec, err := e.store.FindExecution(ctx, tenant, executionID)
	if err != nil {
		return err
	}
	switch exec.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return apperror.ErrConflict("execution already finished")
	}

	e.mu.Lock()
	handle, active := e.active[executionID]
	e.mu.Unlock()
	if active {
		handle.cancel("cancelled by user")
		return nil
	}

	// Not in the active map: the record is stale (crash mid-run). Settle it.
	now := time.Now().UTC()
	exec.Status = StatusCancelled
	exec.Error = "cancelled by user"
	exec.CompletedAt = &now
	return e.store.UpdateExecution(ctx, exec)
}

// List returns a page of the tenant's executions.
func (e *Engine) List(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) ([]*Execution, int64, error) {
	return e.store.ListExecutions(ctx, tenant, filter)
}

// Stats aggregates execution outcomes for the tenant.
func (e *Engine) Stats(ctx context.Context, tenant tenancy.TenantContext, filter ExecutionFilter) (*ExecutionStats, error) {
	return e.store.ExecutionStats(ctx, tenant, filter)
}

// ActiveCount reports how many executions are currently running in this
// process.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown flags every active execution as cancelled with reason
// "server shutdown" and waits for them to settle, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)

	e.mu.Lock()
	for _, handle := range e.active {
		handle.cancel("server shutdown")
	}
	remaining := len(e.active)
	e.mu.Unlock()
	e.logger.Info().Int("active", remaining).Msg("workflow engine stopping")

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apperror.ErrTimeout("workflow engine shutdown timed out", ctx.Err())
	}
}
