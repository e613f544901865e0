package rules

import "strings"

// MaxDepth is the deepest nesting evaluated or accepted at validation time.
// Segment definitions originate from configuration input, so depth is capped
// defensively; anything deeper evaluates to false.
const MaxDepth = 32

// Context is the read-only data a rule tree may reference, keyed by
// top-level namespace ("person", "features") with scalar leaves. Nested
// maps are addressed with dotted field paths.
type Context map[string]any

// Evaluate applies the rule tree to the context. An empty AND group matches
// everything; an empty OR group matches nothing. Any malformed node
// evaluates to false.
func Evaluate(node Node, ctx Context) bool {
	return evaluate(node, ctx, 0)
}

func evaluate(node Node, ctx Context, depth int) bool {
	if depth > MaxDepth {
		return false
	}

	switch node.Operator {
	case OpAnd:
		for _, child := range node.Conditions {
			if !evaluate(child, ctx, depth+1) {
				return false
			}
		}
		return true
	case OpOr:
		for _, child := range node.Conditions {
			if evaluate(child, ctx, depth+1) {
				return true
			}
		}
		return false
	default:
		if !node.IsLeaf() {
			return false
		}
		return EvaluateCondition(node, ctx)
	}
}

// EvaluateCondition applies a single leaf condition. A field path that does
// not resolve fails every comparison. Ordered operators require numeric
// operands on both sides; contains requires strings on both sides; eq is
// strict same-kind equality.
func EvaluateCondition(node Node, ctx Context) bool {
	actual, ok := lookupPath(ctx, node.Field)
	if !ok {
		return false
	}

	switch node.Operator {
	case OpEq:
		return equals(actual, node.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(actual, node.Value, node.Operator)
	case OpContains:
		s, isStr := actual.(string)
		sub, litStr := node.Value.AsString()
		return isStr && litStr && strings.Contains(s, sub)
	}
	return false
}

func equals(actual any, lit Value) bool {
	switch lit.Kind() {
	case KindString:
		s, ok := actual.(string)
		want, _ := lit.AsString()
		return ok && s == want
	case KindNumber:
		n, ok := toFloat(actual)
		want, _ := lit.AsNumber()
		return ok && n == want
	case KindBool:
		b, ok := actual.(bool)
		want, _ := lit.AsBool()
		return ok && b == want
	}
	return false
}

func compareNumeric(actual any, lit Value, op string) bool {
	n, ok := toFloat(actual)
	if !ok {
		return false
	}
	want, ok := lit.AsNumber()
	if !ok {
		return false
	}

	switch op {
	case OpGt:
		return n > want
	case OpGte:
		return n >= want
	case OpLt:
		return n < want
	case OpLte:
		return n <= want
	}
	return false
}

// toFloat normalizes the numeric types that appear in evaluation contexts.
func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

// lookupPath resolves a dotted path like "features.core_actions" through
// nested maps. Returns false if any segment is missing or a non-map is
// traversed.
func lookupPath(ctx Context, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = map[string]any(ctx)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	return current, true
}
