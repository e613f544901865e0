package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies the underlying type of a comparison literal.
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a tagged-union comparison literal for leaf conditions. Segment
// definitions arrive as JSON, so a literal may be a string, a number, or a
// boolean; comparisons never coerce across kinds except where documented on
// the operator.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// StringValue returns a string literal.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric literal.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue returns a boolean literal.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the literal's kind.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string form and whether the literal is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric form and whether the literal is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean form and whether the literal is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// UnmarshalJSON accepts string, number, or boolean literals. Null and any
// other JSON shape (array, object) decode to an absent value, which fails
// every comparison.
func (v *Value) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*v = Value{}
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*v = StringValue(s)
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}

	// Arrays and objects are not valid comparison literals. Decode to
	// absent rather than erroring so a malformed segment fails closed.
	*v = Value{}
	return nil
}

// MarshalJSON emits the underlying literal, or null when absent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// String returns a printable form for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	default:
		return "<absent>"
	}
}
