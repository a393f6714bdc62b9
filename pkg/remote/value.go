package remote

import (
	"fmt"
	"strconv"
)

// Kind classifies a Value.
type Kind int

const (
	// KindNull is the null reference.
	KindNull Kind = iota
	// KindObject is a reference to a remote object.
	KindObject
	// KindArray is a reference to a remote array.
	KindArray
	// KindString is a string already copied out of the target.
	KindString
	// KindInt covers every integral primitive.
	KindInt
	// KindBool is a boolean primitive.
	KindBool
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a result of a field read, local read or invocation.
type Value struct {
	Kind   Kind   `json:"kind"`
	Handle Handle `json:"handle,omitempty"`
	// Type is the runtime type name for objects and arrays.
	Type string `json:"type,omitempty"`
	Int  int64  `json:"int,omitempty"`
	Str  string `json:"str,omitempty"`
	Bool bool   `json:"bool,omitempty"`
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Object returns a reference to h of runtime type typ. A null h yields Null.
func Object(h Handle, typ string) Value {
	if h.IsNull() {
		return Null()
	}
	return Value{Kind: KindObject, Handle: h, Type: typ}
}

// Array returns a reference to the array h.
func Array(h Handle, typ string) Value {
	if h.IsNull() {
		return Null()
	}
	return Value{Kind: KindArray, Handle: h, Type: typ}
}

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int returns an integral value.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsObject returns the handle of an object or array value.
func (v Value) AsObject() (Handle, bool) {
	if (v.Kind == KindObject || v.Kind == KindArray) && !v.Handle.IsNull() {
		return v.Handle, true
	}
	return 0, false
}

// AsString returns the contents of a string value.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsInt returns the contents of an integral value.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// String renders v for display.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindObject, KindArray:
		return fmt.Sprintf("%s@%s", v.Type, v.Handle)
	case KindString:
		return strconv.Quote(v.Str)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "?"
	}
}
