package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerGraph(edges []Connection) *Graph {
	return &Graph{
		entry:   "a",
		agents:  map[string]Agent{},
		edges:   map[string][]Connection{"a": edges},
		maxIter: map[string]int{},
	}
}

func TestRouterTakesFirstSatisfiedEdge(t *testing.T) {
	g := routerGraph([]Connection{
		{From: "a", To: "low", Condition: "${total} < 10"},
		{From: "a", To: "high", Condition: "${total} >= 10"},
	})

	next, ok, err := g.nextNode("a", map[string]interface{}{"total": 25.0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", next)
}

func TestRouterFallsBackToDefaultEdge(t *testing.T) {
	g := routerGraph([]Connection{
		{From: "a", To: "special", Condition: "${total} > 100"},
		{From: "a", To: "fallback", Default: true},
	})

	next, ok, err := g.nextNode("a", map[string]interface{}{"total": 5.0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fallback", next)
}

func TestRouterUnconditionalEdgeAlwaysFires(t *testing.T) {
	g := routerGraph([]Connection{{From: "a", To: "b"}})

	next, ok, err := g.nextNode("a", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", next)
}

func TestRouterNoEdgeMeansTerminal(t *testing.T) {
	g := routerGraph(nil)

	_, ok, err := g.nextNode("a", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouterFoldsArithmeticOperands(t *testing.T) {
	g := routerGraph([]Connection{
		{From: "a", To: "b", Condition: "${total} + 5 > 30"},
	})

	next, ok, err := g.nextNode("a", map[string]interface{}{"total": 28.0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", next)
}

func TestRouterComparesStringsForEquality(t *testing.T) {
	state := map[string]interface{}{"status": "approved"}

	ok, err := evalCondition(`${status} == approved`, state)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evalCondition(`${status} != approved`, state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouterRejectsOrderingOnStrings(t *testing.T) {
	_, err := evalCondition(`${status} > approved`, map[string]interface{}{"status": "x"})
	require.Error(t, err)
}

func TestRouterRejectsConditionWithoutOperator(t *testing.T) {
	_, err := evalCondition("just words", map[string]interface{}{})
	require.Error(t, err)
}

func TestRouterResolvesDottedPaths(t *testing.T) {
	state := map[string]interface{}{
		"agentA": map[string]interface{}{"score": 0.9},
	}

	ok, err := evalCondition("${agentA.score} >= 0.5", state)
	require.NoError(t, err)
	assert.True(t, ok)
}
