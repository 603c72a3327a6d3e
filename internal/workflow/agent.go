// Package workflow compiles metadata-declared agent graphs into runnable
// state machines and manages their execution lifecycle. Agents are the only
// runnable units; new behavior is expressed as new metadata, not new code.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Built-in agent types. These are the only two; the factory rejects anything
// else.
const (
	AgentTypeDynamic    = "dynamic"
	AgentTypeAggregator = "data_aggregator"
)

// Agent is a runnable graph node. Invoke receives the live execution state
// and returns the node's outputs, which the engine folds back into the state.
type Agent interface {
	ID() string
	Invoke(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error)
}

// AgentSpec is one agent declaration inside workflow metadata.
type AgentSpec struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Config        map[string]interface{} `json:"config"`
	MaxIterations int                    `json:"maxIterations"`
}

// Runtime carries the shared dependencies agents need. The breaker guards
// the external model service; CallTimeout bounds a single model call.
type Runtime struct {
	LLM         llms.Model
	Breaker     *gobreaker.CircuitBreaker
	Logger      zerolog.Logger
	CallTimeout time.Duration
}

// NewRuntime builds the agent runtime around a model client.
func NewRuntime(llm llms.Model, logger zerolog.Logger, callTimeout time.Duration) *Runtime {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-model",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Runtime{LLM: llm, Breaker: breaker, Logger: logger, CallTimeout: callTimeout}
}

// NewAgent is the registry's single factory. Unknown types are a validation
// error so a bad workflow definition fails at compile, not mid-run.
func NewAgent(spec AgentSpec, rt *Runtime) (Agent, error) {
	switch spec.Type {
	case AgentTypeDynamic:
		return newDynamicAgent(spec, rt)
	case AgentTypeAggregator:
		return newAggregatorAgent(spec)
	default:
		return nil, apperror.ErrValidation(fmt.Sprintf("unknown agent type %q", spec.Type), map[string]interface{}{
			"agentId": spec.ID,
		})
	}
}
