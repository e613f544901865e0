package rules

import "fmt"

// Validate checks that a rule tree is well formed: every group operator is
// AND/OR, every leaf operator is a known comparison with a non-empty field,
// and nesting does not exceed MaxDepth. Evaluation fails closed regardless;
// validation exists so malformed trees are rejected when a segment is
// written instead of silently never matching.
func Validate(node Node) error {
	return validate(node, 0)
}

func validate(node Node, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("rule tree exceeds maximum nesting depth %d", MaxDepth)
	}

	if node.IsGroup() {
		if node.Field != "" {
			return fmt.Errorf("%s node must not have a field", node.Operator)
		}
		for i, child := range node.Conditions {
			if err := validate(child, depth+1); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
		return nil
	}

	if !node.IsLeaf() {
		return fmt.Errorf("unknown operator %q", node.Operator)
	}
	if node.Field == "" {
		return fmt.Errorf("%s condition requires a field", node.Operator)
	}
	if len(node.Conditions) > 0 {
		return fmt.Errorf("%s condition must not have child conditions", node.Operator)
	}
	if node.Value.Kind() == KindAbsent {
		return fmt.Errorf("%s condition on %q requires a literal value", node.Operator, node.Field)
	}
	return nil
}
