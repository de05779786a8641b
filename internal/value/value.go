// Package value models the opaque structured payload carried by probe
// requests and results: a polymorphic tagged union, not bound to any wire
// format. Concrete transports marshal Value to and from their own
// representation (structpb.Struct for gRPC, plain JSON for the vsock
// adapter).
package value

import "fmt"

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindBool
	KindList
	KindMap
)

// Value is a polymorphic structured value: exactly one of its fields is
// meaningful, selected by Kind. The zero Value is KindNull.
type Value struct {
	Kind Kind

	Str  string
	Int  int64
	Bool bool
	List []Value
	Map  map[string]Value
}

// Null is the null Value.
var Null = Value{Kind: KindNull}

// String constructs a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int constructs an integer Value.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List constructs a list Value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Map constructs a map Value from the given fields.
func Map(fields map[string]Value) Value { return Value{Kind: KindMap, Map: fields} }

// GetAttribute returns the named attribute of a map-kind Value. It
// reports false if v is not a map or the attribute is absent — this is
// the core's sole means of inspecting a request payload, per the
// extraction contract: the dispatch core never looks at a payload beyond
// this single lookup.
func (v Value) GetAttribute(name string) (Value, bool) {
	if v.Kind != KindMap {
		return Null, false
	}
	attr, ok := v.Map[name]
	return attr, ok
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsString returns v's string content if v is a string Value.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// String implements fmt.Stringer for debugging and log output.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindList:
		return fmt.Sprintf("%v", v.List)
	case KindMap:
		return fmt.Sprintf("%v", v.Map)
	default:
		return "<invalid value>"
	}
}
