package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/eval"
)

// aggregation is one declarative reduction over an array in the state.
type aggregation struct {
	Target string `json:"target"`
	Op     string `json:"op"`
	Source string `json:"source"`
	Field  string `json:"field"`
}

// aggregatorAgent reduces prior agent outputs per a declarative spec and
// optionally derives values through formulas run by the safe evaluator.
type aggregatorAgent struct {
	id           string
	aggregations []aggregation
	formulas     map[string]string
}

var aggregationOps = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true,
}

func newAggregatorAgent(spec AgentSpec) (Agent, error) {
	raw, err := json.Marshal(spec.Config)
	if err != nil {
		return nil, apperror.ErrValidation("invalid aggregator config", map[string]interface{}{"agentId": spec.ID})
	}
	var cfg struct {
		Aggregations []aggregation     `json:"aggregations"`
		Formulas     map[string]string `json:"formulas"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, apperror.ErrValidation("invalid aggregator config", map[string]interface{}{
			"agentId": spec.ID,
			"reason":  err.Error(),
		})
	}
	if len(cfg.Aggregations) == 0 && len(cfg.Formulas) == 0 {
		return nil, apperror.ErrValidation("aggregator declares no aggregations or formulas", map[string]interface{}{
			"agentId": spec.ID,
		})
	}
	for _, agg := range cfg.Aggregations {
		if agg.Target == "" || agg.Source == "" || !aggregationOps[agg.Op] {
			return nil, apperror.ErrValidation("invalid aggregation declaration", map[string]interface{}{
				"agentId": spec.ID,
				"target":  agg.Target,
				"op":      agg.Op,
			})
		}
	}
	return &aggregatorAgent{id: spec.ID, aggregations: cfg.Aggregations, formulas: cfg.Formulas}, nil
}

func (a *aggregatorAgent) ID() string { return a.id }

func (a *aggregatorAgent) Invoke(_ context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	outputs := map[string]interface{}{}

	for _, agg := range a.aggregations {
		value, err := a.reduce(agg, state)
		if err != nil {
			return nil, err
		}
		outputs[agg.Target] = value
	}

	// Formulas see both the state and the aggregation results just computed.
	scope := map[string]interface{}{}
	for k, v := range state {
		scope[k] = v
	}
	for k, v := range outputs {
		scope[k] = v
	}
	for target, formula := range a.formulas {
		value, err := evalFormula(formula, scope)
		if err != nil {
			return nil, err
		}
		outputs[target] = value
		scope[target] = value
	}
	return outputs, nil
}

// reduce resolves the source array from the state and applies the operation.
func (a *aggregatorAgent) reduce(agg aggregation, state map[string]interface{}) (float64, error) {
	source, ok := lookupPath(state, agg.Source)
	if !ok {
		return 0, apperror.ErrValidation(fmt.Sprintf("aggregation source %q not found in state", agg.Source), map[string]interface{}{
			"agentId": a.id,
			"target":  agg.Target,
		})
	}
	items, ok := source.([]interface{})
	if !ok {
		return 0, apperror.ErrValidation(fmt.Sprintf("aggregation source %q is not an array", agg.Source), map[string]interface{}{
			"agentId": a.id,
		})
	}

	numbers := make([]float64, 0, len(items))
	for _, item := range items {
		v := item
		if agg.Field != "" {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			v = m[agg.Field]
		}
		if n, ok := toFloat(v); ok {
			numbers = append(numbers, n)
		}
	}

	switch agg.Op {
	case "count":
		return float64(len(numbers)), nil
	case "sum", "avg":
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		if agg.Op == "avg" {
			if len(numbers) == 0 {
				return 0, nil
			}
			return sum / float64(len(numbers)), nil
		}
		return sum, nil
	case "min", "max":
		if len(numbers) == 0 {
			return 0, nil
		}
		best := numbers[0]
		for _, n := range numbers[1:] {
			if (agg.Op == "min" && n < best) || (agg.Op == "max" && n > best) {
				best = n
			}
		}
		return best, nil
	default:
		return 0, apperror.ErrValidation("unknown aggregation op "+agg.Op, nil)
	}
}

var formulaRef = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// evalFormula substitutes ${name} references with numeric values from the
// scope and runs the result through the safe evaluator. Non-numeric
// references are a validation error; nothing else ever reaches the
// evaluator's grammar.
func evalFormula(formula string, scope map[string]interface{}) (float64, error) {
	var refErr error
	expr := formulaRef.ReplaceAllStringFunc(formula, func(ref string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(ref, "${"), "}")
		value, ok := lookupPath(scope, path)
		if !ok {
			refErr = apperror.ErrValidation(fmt.Sprintf("formula reference %q not found", path), nil)
			return "0"
		}
		n, ok := toFloat(value)
		if !ok {
			refErr = apperror.ErrValidation(fmt.Sprintf("formula reference %q is not numeric", path), nil)
			return "0"
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	})
	if refErr != nil {
		return 0, refErr
	}
	return eval.Evaluate(expr)
}
