// Package rules implements the boolean rule trees that define segment
// membership. A tree is either a group node (AND/OR over child nodes) or a
// leaf condition comparing a dotted field path against a literal value.
// Evaluation fails closed: malformed nodes, unknown operators, missing
// fields, and over-deep trees all evaluate to false rather than erroring,
// so one bad segment definition cannot break a batch sweep.
package rules

// Group operators.
const (
	OpAnd = "AND"
	OpOr  = "OR"
)

// Leaf comparison operators.
const (
	OpEq       = "eq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

// Node is one node of a rule tree. A group node carries Operator AND/OR and
// a list of child Conditions; a leaf carries a comparison Operator, a dotted
// Field path into the evaluation context, and a literal Value. The JSON
// representation uses the same shape for both, so Node is a single struct
// discriminated by Operator.
type Node struct {
	Operator   string `json:"operator"`
	Conditions []Node `json:"conditions,omitempty"`
	Field      string `json:"field,omitempty"`
	Value      Value  `json:"value,omitempty"`
}

// IsGroup reports whether the node is an AND/OR container.
func (n Node) IsGroup() bool {
	return n.Operator == OpAnd || n.Operator == OpOr
}

// IsLeaf reports whether the node is a leaf comparison.
func (n Node) IsLeaf() bool {
	switch n.Operator {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpContains:
		return true
	}
	return false
}

// And returns an AND group over the given children.
func And(children ...Node) Node {
	return Node{Operator: OpAnd, Conditions: children}
}

// Or returns an OR group over the given children.
func Or(children ...Node) Node {
	return Node{Operator: OpOr, Conditions: children}
}

// Condition returns a leaf comparing field against value with op.
func Condition(field, op string, value Value) Node {
	return Node{Operator: op, Field: field, Value: value}
}
