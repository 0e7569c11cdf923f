package machine

import (
	"fmt"
	"strings"
)

// A Function is one compiled unit of user code. The synthetic top-level
// wrapper has a nil name. Functions are never called directly: the compiler
// wraps every one in a Closure so that call dispatch is uniform.
type Function struct {
	objectHeader
	Name         *String // nil for the top-level script
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Sig          *Signature // for help; nil on the top-level script
	Doc          *String    // leading string literal of the body, if any
}

var _ Object = (*Function)(nil)

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.s)
}

func (f *Function) Type() string { return "function" }

// FuncName returns the function's name for stack traces, or "script" for
// the top-level wrapper.
func (f *Function) FuncName() string {
	if f.Name == nil {
		return "script"
	}
	return f.Name.s
}

// A Signature describes a callable for the help facility. It is metadata
// only and never participates in dispatch.
type Signature struct {
	Name       string
	Params     []Param
	ReturnType string
}

// A Param is one declared parameter of a Signature.
type Param struct {
	Name    string
	Type    string
	Default string // empty when the parameter has no default
}

func (sig *Signature) String() string {
	var b strings.Builder
	b.WriteString(sig.Name)
	b.WriteByte('(')
	for i, p := range sig.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if p.Type != "" {
			b.WriteString(": ")
			b.WriteString(p.Type)
		}
		if p.Default != "" {
			b.WriteString(" = ")
			b.WriteString(p.Default)
		}
	}
	b.WriteByte(')')
	if sig.ReturnType != "" {
		b.WriteString(" -> ")
		b.WriteString(sig.ReturnType)
	}
	return b.String()
}

// A NativeFn is the host implementation of a native function or method. The
// receiver, when the native is a method, is args[0]. A native signals
// failure by returning the Error sentinel after calling m.NativeError.
type NativeFn func(m *Machine, args []Value) Value

// A Native is a host callable registered with the machine.
type Native struct {
	objectHeader
	Sig      Signature
	Fn       NativeFn
	IsMethod bool
	Doc      string
}

var _ Object = (*Native)(nil)

func (n *Native) String() string { return fmt.Sprintf("<native fn %s>", n.Sig.Name) }
func (n *Native) Type() string   { return "function" }

// Arity returns the declared parameter count, not counting the receiver.
func (n *Native) Arity() int { return len(n.Sig.Params) }
