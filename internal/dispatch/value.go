package dispatch

import (
	"sort"

	json "github.com/goccy/go-json"
)

// Kind discriminates the shapes a frozen Value can take. The set mirrors the
// JSON-like data the dispatcher moves around, plus an explicit marker for
// reference cycles cut during cloning and an escape hatch for values that are
// none of the above.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
	KindCircular
	KindOpaque
)

// CircularMarker is the string form a cut reference cycle renders as.
const CircularMarker = "[Circular]"

// Value is an immutable, deeply-frozen datum. All fields are unexported and
// every accessor returns a copy, so a handler holding a Value cannot mutate
// state visible to any other handler.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	arr    []Value
	obj    map[string]Value
	opaque any
}

// Constructors used by the isolation engine.

func nullValue() Value            { return Value{kind: KindNull} }
func boolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func intValue(i int64) Value      { return Value{kind: KindInt, i: i} }
func floatValue(f float64) Value  { return Value{kind: KindFloat, f: f} }
func stringValue(s string) Value  { return Value{kind: KindString, s: s} }
func circularValue() Value        { return Value{kind: KindCircular} }
func opaqueValue(v any) Value     { return Value{kind: KindOpaque, opaque: v} }
func arrayValue(a []Value) Value  { return Value{kind: KindArray, arr: a} }
func objectValue(m map[string]Value) Value {
	return Value{kind: KindObject, obj: m}
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; false for any other kind.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload. Float values truncate; other kinds yield 0.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	}
	return 0
}

// Float returns the numeric payload as a float64; 0 for non-numeric kinds.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindFloat:
		return v.f
	}
	return 0
}

// String returns the string payload; the circular marker for cut cycles;
// "" for any other kind.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindCircular:
		return CircularMarker
	}
	return ""
}

// Len returns the element count for arrays, the key count for objects, and 0
// otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Index returns the i'th element of an array value; null when out of range or
// not an array.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return nullValue()
	}
	return v.arr[i]
}

// Field returns the named member of an object value; null when absent or not
// an object.
func (v Value) Field(name string) Value {
	if v.kind != KindObject {
		return nullValue()
	}
	m, ok := v.obj[name]
	if !ok {
		return nullValue()
	}
	return m
}

// Has reports whether an object value contains the named member.
func (v Value) Has(name string) bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.obj[name]
	return ok
}

// Keys returns the sorted member names of an object value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export materializes the value back into plain Go data. The result is a
// fresh copy on every call; mutating it cannot affect the frozen value.
func (v Value) Export() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindCircular:
		return CircularMarker
	case KindOpaque:
		return v.opaque
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Export()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Export()
		}
		return out
	}
	return nil
}

// MarshalJSON renders the value with its exported representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Export())
}
