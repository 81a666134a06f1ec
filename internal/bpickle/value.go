// Package bpickle implements the self-describing, type-tagged binary
// encoding used on the wire between courier and the remote management
// server: every scalar is prefixed with a one-byte type tag, strings and
// byte sequences are length-prefixed, and containers are delimited with a
// trailing semicolon.
package bpickle

import "fmt"

// Kind identifies the concrete type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindText
	KindList
	KindDict
)

// Value is the closed sum type every bpickle-encodable object reduces to.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Bytes []byte
	Text  string
	List  []Value
	Dict  map[string]Value
}

func Null() Value              { return Value{Kind: KindNull} }
func Bool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func Bytes(b []byte) Value     { return Value{Kind: KindBytes, Bytes: b} }
func Text(s string) Value      { return Value{Kind: KindText, Text: s} }
func List(v ...Value) Value    { return Value{Kind: KindList, List: v} }
func Dict(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindDict, Dict: m}
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Get looks up a key in a dict value. Returns (Null, false) for any other Kind.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	val, ok := v.Dict[key]
	return val, ok
}

// String renders a Value for diagnostics; it is not the wire format.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindText:
		return v.Text
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.List))
	case KindDict:
		return fmt.Sprintf("dict(%d)", len(v.Dict))
	default:
		return "?"
	}
}
