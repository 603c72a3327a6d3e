package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/iamkash/intellispec/internal/apperror"
)

// dynamicAgent delegates a node to the external model service. Its prompt,
// model, and sampling parameters come entirely from metadata.
type dynamicAgent struct {
	id          string
	prompt      string
	model       string
	temperature float64
	maxTokens   int
	rt          *Runtime
}

func newDynamicAgent(spec AgentSpec, rt *Runtime) (Agent, error) {
	prompt, _ := spec.Config["prompt"].(string)
	if prompt == "" {
		return nil, apperror.ErrValidation("dynamic agent requires a prompt", map[string]interface{}{
			"agentId": spec.ID,
		})
	}
	agent := &dynamicAgent{id: spec.ID, prompt: prompt, rt: rt}
	if model, ok := spec.Config["model"].(string); ok {
		agent.model = model
	}
	if temp, ok := toFloat(spec.Config["temperature"]); ok {
		agent.temperature = temp
	}
	if max, ok := toFloat(spec.Config["maxTokens"]); ok {
		agent.maxTokens = int(max)
	}
	return agent, nil
}

func (a *dynamicAgent) ID() string { return a.id }

// Invoke renders the prompt against the state, calls the model behind the
// breaker, and parses the reply. Replies must be a single JSON object; the
// engine never scrapes structure out of free text.
func (a *dynamicAgent) Invoke(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, apperror.ErrInternal("failed to encode execution state", err)
	}
	prompt := a.prompt + "\n\nCurrent state:\n" + string(stateJSON) +
		"\n\nRespond with a single JSON object and nothing else."

	callCtx := ctx
	if a.rt.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.rt.CallTimeout)
		defer cancel()
	}

	opts := []llms.CallOption{llms.WithJSONMode()}
	if a.model != "" {
		opts = append(opts, llms.WithModel(a.model))
	}
	if a.temperature > 0 {
		opts = append(opts, llms.WithTemperature(a.temperature))
	}
	if a.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(a.maxTokens))
	}

	reply, err := a.rt.Breaker.Execute(func() (interface{}, error) {
		return llms.GenerateFromSinglePrompt(callCtx, a.rt.LLM, prompt, opts...)
	})
	if err != nil {
		return nil, apperror.ErrExternal("agent model call failed", err)
	}

	text, _ := reply.(string)
	outputs, err := parseAgentReply(text)
	if err != nil {
		a.rt.Logger.Warn().Str("agent", a.id).Msg("agent reply was not a JSON object")
		return nil, err
	}
	return outputs, nil
}

// parseAgentReply extracts the JSON object from a model reply, tolerating
// markdown code fences but nothing else.
func parseAgentReply(text string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var outputs map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &outputs); err != nil {
		return nil, apperror.ErrExternal("agent reply is not a JSON object", err)
	}
	return outputs, nil
}
