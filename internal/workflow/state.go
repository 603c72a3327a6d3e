package workflow

import "encoding/json"

// lookupPath resolves a dotted path against the state, e.g. "agentA.items".
func lookupPath(state map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = state
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// toFloat coerces the numeric types JSON decoding can produce.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// copyState deep-copies the state for checkpoint snapshots so later node
// outputs cannot mutate an earlier snapshot.
func copyState(state map[string]interface{}) map[string]interface{} {
	raw, err := json.Marshal(state)
	if err != nil {
		return map[string]interface{}{}
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]interface{}{}
	}
	return snapshot
}
