package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/eval"
)

// comparison operators in match order; two-character operators first so
// ">=" is not split as ">" + "=".
var conditionOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// nextNode picks the outgoing edge from the current node: the first edge
// whose condition is satisfied, an unconditional edge, or the declared
// default. No edge means the execution is done.
func (g *Graph) nextNode(current string, state map[string]interface{}) (string, bool, error) {
	var fallback string
	haveFallback := false

	for _, edge := range g.edges[current] {
		if edge.Default {
			fallback = edge.To
			haveFallback = true
			continue
		}
		if edge.Condition == "" {
			return edge.To, true, nil
		}
		ok, err := evalCondition(edge.Condition, state)
		if err != nil {
			return "", false, err
		}
		if ok {
			return edge.To, true, nil
		}
	}
	if haveFallback {
		return fallback, true, nil
	}
	return "", false, nil
}

// evalCondition evaluates a "left op right" comparison against the state.
// Each side is a ${path} substitution folded through the safe evaluator when
// numeric; string operands support equality only.
func evalCondition(condition string, state map[string]interface{}) (bool, error) {
	for _, op := range conditionOps {
		idx := strings.Index(condition, op)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(condition[:idx])
		right := strings.TrimSpace(condition[idx+len(op):])
		return compare(left, op, right, state)
	}
	return false, apperror.ErrValidation(fmt.Sprintf("edge condition %q has no comparison operator", condition), nil)
}

func compare(left, op, right string, state map[string]interface{}) (bool, error) {
	ln, lok, lstr := resolveOperand(left, state)
	rn, rok, rstr := resolveOperand(right, state)

	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	// Non-numeric operands compare as strings, equality only.
	switch op {
	case "==":
		return lstr == rstr, nil
	case "!=":
		return lstr != rstr, nil
	}
	return false, apperror.ErrValidation(fmt.Sprintf("operator %q requires numeric operands", op), nil)
}

// resolveOperand substitutes ${path} references from the state, then tries
// to fold the operand to a number via the safe evaluator. It returns the
// numeric value when foldable and the substituted string either way.
func resolveOperand(operand string, state map[string]interface{}) (float64, bool, string) {
	substituted := formulaRef.ReplaceAllStringFunc(operand, func(ref string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(ref, "${"), "}")
		value, ok := lookupPath(state, path)
		if !ok {
			return ref
		}
		if n, ok := toFloat(value); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		if s, ok := value.(string); ok {
			return s
		}
		return ref
	})

	if n, err := eval.Evaluate(substituted); err == nil {
		return n, true, substituted
	}
	return 0, false, strings.Trim(substituted, `"'`)
}
