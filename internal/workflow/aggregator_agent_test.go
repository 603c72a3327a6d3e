package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamkash/intellispec/internal/apperror"
)

func buildAggregator(t *testing.T, config map[string]interface{}) Agent {
	t.Helper()
	agent, err := newAggregatorAgent(AgentSpec{ID: "agg", Type: AgentTypeAggregator, Config: config})
	require.NoError(t, err)
	return agent
}

func TestAggregatorOperations(t *testing.T) {
	state := map[string]interface{}{
		"values": []interface{}{
			map[string]interface{}{"amount": 10.0},
			map[string]interface{}{"amount": 20.0},
			map[string]interface{}{"amount": 6.0},
		},
	}

	tests := []struct {
		op   string
		want float64
	}{
		{"sum", 36},
		{"avg", 12},
		{"min", 6},
		{"max", 20},
		{"count", 3},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			agent := buildAggregator(t, map[string]interface{}{
				"aggregations": []interface{}{
					map[string]interface{}{"target": "out", "op": tt.op, "source": "values", "field": "amount"},
				},
			})

			outputs, err := agent.Invoke(context.Background(), state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outputs["out"])
		})
	}
}

func TestAggregatorReducesBareNumbers(t *testing.T) {
	agent := buildAggregator(t, map[string]interface{}{
		"aggregations": []interface{}{
			map[string]interface{}{"target": "total", "op": "sum", "source": "scores"},
		},
	})

	outputs, err := agent.Invoke(context.Background(), map[string]interface{}{
		"scores": []interface{}{1.0, 2.0, 3.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.5, outputs["total"])
}

func TestAggregatorFormulasSeeAggregationResults(t *testing.T) {
	agent := buildAggregator(t, map[string]interface{}{
		"aggregations": []interface{}{
			map[string]interface{}{"target": "total", "op": "sum", "source": "values", "field": "amount"},
		},
		"formulas": map[string]interface{}{
			"withTax": "${total} * 2",
		},
	})

	outputs, err := agent.Invoke(context.Background(), map[string]interface{}{
		"values": []interface{}{
			map[string]interface{}{"amount": 10.0},
			map[string]interface{}{"amount": 5.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 15.0, outputs["total"])
	assert.Equal(t, 30.0, outputs["withTax"])
}

func TestAggregatorMissingSourceIsValidationError(t *testing.T) {
	agent := buildAggregator(t, map[string]interface{}{
		"aggregations": []interface{}{
			map[string]interface{}{"target": "out", "op": "sum", "source": "absent"},
		},
	})

	_, err := agent.Invoke(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestAggregatorRejectsEmptyConfig(t *testing.T) {
	_, err := newAggregatorAgent(AgentSpec{ID: "agg", Type: AgentTypeAggregator, Config: map[string]interface{}{}})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestAggregatorRejectsUnknownOp(t *testing.T) {
	_, err := newAggregatorAgent(AgentSpec{ID: "agg", Type: AgentTypeAggregator, Config: map[string]interface{}{
		"aggregations": []interface{}{
			map[string]interface{}{"target": "out", "op": "median", "source": "values"},
		},
	}})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestFormulaRejectsNonNumericReference(t *testing.T) {
	_, err := evalFormula("${name} + 1", map[string]interface{}{"name": "widget"})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestParseAgentReply(t *testing.T) {
	outputs, err := parseAgentReply(`{"score": 0.8}`)
	require.NoError(t, err)
	assert.Equal(t, 0.8, outputs["score"])

	outputs, err = parseAgentReply("```json\n{\"score\": 0.8}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.8, outputs["score"])

	_, err = parseAgentReply("The score is probably around 0.8.")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindExternal))
}
