package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamkash/intellispec/internal/apperror"
)

func aggSpec(id string) AgentSpec {
	return AgentSpec{
		ID:   id,
		Type: AgentTypeAggregator,
		Config: map[string]interface{}{
			"aggregations": []interface{}{
				map[string]interface{}{"target": "n", "op": "count", "source": "values"},
			},
		},
	}
}

func TestCompileValidGraph(t *testing.T) {
	spec := GraphSpec{
		Agents:      []AgentSpec{aggSpec("a"), aggSpec("b")},
		Connections: []Connection{{From: "a", To: "b"}},
		EntryPoint:  "a",
	}

	graph, err := Compile(spec, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", graph.entry)
	assert.Len(t, graph.agents, 2)
}

func TestCompileRejectsDuplicateAgentIDs(t *testing.T) {
	spec := GraphSpec{
		Agents:     []AgentSpec{aggSpec("a"), aggSpec("a")},
		EntryPoint: "a",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestCompileRejectsUnknownEdgeEndpoint(t *testing.T) {
	spec := GraphSpec{
		Agents:      []AgentSpec{aggSpec("a")},
		Connections: []Connection{{From: "a", To: "ghost"}},
		EntryPoint:  "a",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestCompileRejectsUnreachableAgent(t *testing.T) {
	spec := GraphSpec{
		Agents:     []AgentSpec{aggSpec("a"), aggSpec("island")},
		EntryPoint: "a",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestCompileRejectsUnknownEntryPoint(t *testing.T) {
	spec := GraphSpec{
		Agents:     []AgentSpec{aggSpec("a")},
		EntryPoint: "nope",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestCompileRejectsUnknownAgentType(t *testing.T) {
	spec := GraphSpec{
		Agents:     []AgentSpec{{ID: "a", Type: "shell_command"}},
		EntryPoint: "a",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent type")
}

func TestCompileRejectsUnboundedCycle(t *testing.T) {
	spec := GraphSpec{
		Agents: []AgentSpec{aggSpec("a"), aggSpec("b")},
		Connections: []Connection{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
		EntryPoint: "a",
	}

	_, err := Compile(spec, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxIterations")
}

func TestCompileAcceptsBoundedCycle(t *testing.T) {
	bounded := aggSpec("b")
	bounded.MaxIterations = 3
	spec := GraphSpec{
		Agents: []AgentSpec{aggSpec("a"), bounded},
		Connections: []Connection{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
		EntryPoint: "a",
	}

	_, err := Compile(spec, nil)
	require.NoError(t, err)
}

func TestParseGraphSpecFromMetadata(t *testing.T) {
	metadata := map[string]interface{}{
		"agents": []interface{}{
			map[string]interface{}{"id": "a", "type": "dynamic", "config": map[string]interface{}{"prompt": "p"}},
		},
		"connections": []interface{}{},
		"entryPoint":  "a",
	}

	spec, err := ParseGraphSpec(metadata)
	require.NoError(t, err)
	require.Len(t, spec.Agents, 1)
	assert.Equal(t, "a", spec.EntryPoint)
	assert.Equal(t, "dynamic", spec.Agents[0].Type)
}
