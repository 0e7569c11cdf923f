// Package machine implements the Lox runtime: the value model, the managed
// object heap with its tricolor mark-sweep collector, the string intern pool,
// the bytecode container and the stack-based virtual machine that executes
// it. The compiler package allocates its compile-time objects (interned
// strings, function objects) directly into this heap so that a single
// collector covers the whole pipeline.
package machine

import (
	"math"
	"strconv"
)

// Value is the interface implemented by any value manipulated by the machine.
// The concrete types are NilType, Bool, Number, the object types (which also
// implement Object) and the error sentinel returned by failed natives.
type Value interface {
	// String returns the human-readable representation of the value, as
	// produced by the print statement.
	String() string

	// Type returns a short string describing the value's type.
	Type() string
}

// NilType is the type of nil. Its only legal value is Nil. (We represent it
// as a number, not struct{}, so that Nil may be constant.)
type NilType byte

// Nil is a Value.
const Nil = NilType(0)

var _ Value = Nil

func (NilType) String() string { return "nil" }
func (NilType) Type() string   { return "nil" }

// Bool is the type of boolean values.
type Bool bool

//nolint:revive
const (
	False Bool = false
	True  Bool = true
)

var _ Value = True

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func (b Bool) Type() string { return "bool" }

// Number is the type of Lox numbers, IEEE-754 doubles.
type Number float64

var _ Value = Number(0)

func (n Number) String() string {
	f := float64(n)
	if math.IsInf(f, +1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (n Number) Type() string { return "number" }

// errorSentinel is the distinguished value a native returns to signal
// failure; the machine translates it into a runtime error at the call site.
type errorSentinel byte

// Error is the native-failure sentinel Value.
const Error = errorSentinel(0)

var _ Value = Error

func (errorSentinel) String() string { return "<error>" }
func (errorSentinel) Type() string   { return "error" }

// Truth returns the Lox truthiness of v: nil and false are falsey,
// everything else (including 0 and "") is truthy.
func Truth(v Value) Bool {
	switch v := v.(type) {
	case NilType:
		return False
	case Bool:
		return v
	}
	return True
}

// Equal implements Lox equality: values of different types are never equal,
// numbers and booleans compare structurally, nil equals nil, and objects
// compare by identity. Interning makes string identity equivalent to content
// equality.
func Equal(a, b Value) Bool {
	switch a := a.(type) {
	case NilType:
		_, ok := b.(NilType)
		return Bool(ok)
	case Bool:
		b, ok := b.(Bool)
		return Bool(ok && a == b)
	case Number:
		b, ok := b.(Number)
		return Bool(ok && a == b)
	}
	// object (or sentinel) identity
	return Bool(a == b)
}
