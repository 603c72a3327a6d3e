package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Connection is a directed edge between two agents. A condition expression,
// when present, gates the edge; a default edge is taken when no conditional
// edge is satisfied.
type Connection struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// GraphSpec is the declarative graph inside workflow metadata.
type GraphSpec struct {
	Agents      []AgentSpec  `json:"agents"`
	Connections []Connection `json:"connections"`
	EntryPoint  string       `json:"entryPoint"`
}

// Graph is a compiled, validated state graph ready to run.
type Graph struct {
	entry   string
	agents  map[string]Agent
	edges   map[string][]Connection
	maxIter map[string]int
}

// ParseGraphSpec decodes workflow metadata into a graph spec.
func ParseGraphSpec(metadata map[string]interface{}) (GraphSpec, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return GraphSpec{}, apperror.ErrValidation("workflow metadata is not encodable", nil)
	}
	var spec GraphSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return GraphSpec{}, apperror.ErrValidation("workflow metadata does not describe a graph", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return spec, nil
}

// Compile validates the spec and instantiates its agents. All structural
// problems surface here, before an execution record is ever created.
func Compile(spec GraphSpec, rt *Runtime) (*Graph, error) {
	if len(spec.Agents) == 0 {
		return nil, apperror.ErrValidation("workflow declares no agents", nil)
	}
	if spec.EntryPoint == "" {
		return nil, apperror.ErrValidation("workflow declares no entry point", nil)
	}

	agents := make(map[string]Agent, len(spec.Agents))
	maxIter := make(map[string]int, len(spec.Agents))
	for _, decl := range spec.Agents {
		if decl.ID == "" {
			return nil, apperror.ErrValidation("agent declaration is missing an id", nil)
		}
		if _, dup := agents[decl.ID]; dup {
			return nil, apperror.ErrValidation(fmt.Sprintf("duplicate agent id %q", decl.ID), nil)
		}
		agent, err := NewAgent(decl, rt)
		if err != nil {
			return nil, err
		}
		agents[decl.ID] = agent
		maxIter[decl.ID] = decl.MaxIterations
	}

	if _, ok := agents[spec.EntryPoint]; !ok {
		return nil, apperror.ErrValidation(fmt.Sprintf("entry point %q is not a declared agent", spec.EntryPoint), nil)
	}

	edges := map[string][]Connection{}
	for _, conn := range spec.Connections {
		if _, ok := agents[conn.From]; !ok {
			return nil, apperror.ErrValidation(fmt.Sprintf("connection references unknown agent %q", conn.From), nil)
		}
		if _, ok := agents[conn.To]; !ok {
			return nil, apperror.ErrValidation(fmt.Sprintf("connection references unknown agent %q", conn.To), nil)
		}
		edges[conn.From] = append(edges[conn.From], conn)
	}

	g := &Graph{entry: spec.EntryPoint, agents: agents, edges: edges, maxIter: maxIter}
	if err := g.checkConnectivity(); err != nil {
		return nil, err
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkConnectivity requires every agent to be reachable from the entry.
func (g *Graph) checkConnectivity() error {
	reached := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, edge := range g.edges[node] {
			if !reached[edge.To] {
				reached[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}
	for id := range g.agents {
		if !reached[id] {
			return apperror.ErrValidation(fmt.Sprintf("agent %q is not reachable from the entry point", id), nil)
		}
	}
	return nil
}

// checkCycles rejects cycles unless some node on the cycle declares
// maxIterations, which the engine enforces as the loop bound.
func (g *Graph) checkCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var stack []string

	var visit func(node string) error
	visit = func(node string) error {
		state[node] = visiting
		stack = append(stack, node)
		for _, edge := range g.edges[node] {
			switch state[edge.To] {
			case visiting:
				if !g.cycleBounded(stack, edge.To) {
					return apperror.ErrValidation(fmt.Sprintf("cycle through %q has no node with maxIterations", edge.To), nil)
				}
			case unvisited:
				if err := visit(edge.To); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}
	return visit(g.entry)
}

// cycleBounded reports whether any node on the cycle closed at target
// declares a positive maxIterations.
func (g *Graph) cycleBounded(stack []string, target string) bool {
	onCycle := false
	for _, node := range stack {
		if node == target {
			onCycle = true
		}
		if onCycle && g.maxIter[node] > 0 {
			return true
		}
	}
	return false
}
