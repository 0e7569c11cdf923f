package machine

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type nativeDef struct {
	sig Signature
	fn  NativeFn
	doc string
}

// registerStdlib installs the native functions and the built-in collection
// classes as globals. Registration performs many allocations before any of
// them is reachable from the machine, so the whole bootstrap runs inside the
// nursery.
func (m *Machine) registerStdlib() {
	h := m.heap
	h.OpenNursery()
	defer h.CloseNursery()

	defs := map[string]nativeDef{
		"clock": {
			sig: Signature{Name: "clock", ReturnType: "number"},
			fn:  nativeClock,
			doc: "Returns the elapsed seconds since the Unix epoch.",
		},
		"sin": {
			sig: Signature{Name: "sin", Params: []Param{{Name: "x", Type: "number"}}, ReturnType: "number"},
			fn:  nativeSin,
			doc: "Returns the sine of x (in radians).",
		},
		"print": {
			sig: Signature{Name: "print", Params: []Param{{Name: "value", Type: "any"}}, ReturnType: "nil"},
			fn:  nativePrint,
			doc: "Writes value to standard output, without a trailing newline.",
		},
		"println": {
			sig: Signature{Name: "println", Params: []Param{{Name: "value", Type: "any"}}, ReturnType: "nil"},
			fn:  nativePrintln,
			doc: "Writes value and a newline to standard output.",
		},
		"help": {
			sig: Signature{Name: "help", Params: []Param{{Name: "callable", Type: "any"}}, ReturnType: "nil"},
			fn:  nativeHelp,
			doc: "Prints the signature and docstring of a callable or class.",
		},
	}

	names := maps.Keys(defs)
	slices.Sort(names)
	for _, name := range names {
		def := defs[name]
		m.DefineGlobal(name, h.NewNative(def.sig, def.fn, false, def.doc))
	}

	m.listClass = m.makeBuiltinClass("list", map[string]nativeDef{
		"append": {
			sig: Signature{Name: "append", Params: []Param{{Name: "value", Type: "any"}}, ReturnType: "nil"},
			fn:  listAppend,
			doc: "Appends value at the end of the list.",
		},
		"pop": {
			sig: Signature{Name: "pop", ReturnType: "any"},
			fn:  listPop,
			doc: "Removes and returns the last element.",
		},
		"len": {
			sig: Signature{Name: "len", ReturnType: "number"},
			fn:  listLen,
			doc: "Returns the number of elements.",
		},
		"__getitem__": {
			sig: Signature{Name: "__getitem__", Params: []Param{{Name: "index", Type: "number"}}, ReturnType: "any"},
			fn:  listGetItem,
			doc: "Returns the element at index.",
		},
		"__setitem__": {
			sig: Signature{Name: "__setitem__", Params: []Param{{Name: "index", Type: "number"}, {Name: "value", Type: "any"}}, ReturnType: "any"},
			fn:  listSetItem,
			doc: "Replaces the element at index.",
		},
	})

	m.stringClass = m.makeBuiltinClass("string", map[string]nativeDef{
		"len": {
			sig: Signature{Name: "len", ReturnType: "number"},
			fn:  stringLen,
			doc: "Returns the length in bytes.",
		},
		"__getitem__": {
			sig: Signature{Name: "__getitem__", Params: []Param{{Name: "index", Type: "number"}}, ReturnType: "string"},
			fn:  stringGetItem,
			doc: "Returns the one-character string at index.",
		},
	})
}

func (m *Machine) makeBuiltinClass(name string, methods map[string]nativeDef) *Class {
	h := m.heap
	class := h.NewClass(h.Intern(name))
	mnames := maps.Keys(methods)
	slices.Sort(mnames)
	for _, mname := range mnames {
		def := methods[mname]
		class.Methods.Set(h.Intern(mname), h.NewNative(def.sig, def.fn, true, def.doc))
	}
	m.DefineGlobal(name, class)
	return class
}

func nativeClock(_ *Machine, _ []Value) Value {
	return Number(float64(time.Now().UnixNano()) / 1e9)
}

func nativeSin(m *Machine, args []Value) Value {
	x, ok := args[0].(Number)
	if !ok {
		return m.NativeError("sin: expected a number, got %s.", args[0].Type())
	}
	return Number(math.Sin(float64(x)))
}

func nativePrint(m *Machine, args []Value) Value {
	fmt.Fprint(m.stdout(), args[0].String())
	return Nil
}

func nativePrintln(m *Machine, args []Value) Value {
	fmt.Fprintln(m.stdout(), args[0].String())
	return Nil
}

func nativeHelp(m *Machine, args []Value) Value {
	w := m.stdout()
	switch v := args[0].(type) {
	case *Closure:
		sig := v.Fn.Sig
		if sig == nil {
			sig = &Signature{Name: v.Fn.FuncName()}
		}
		fmt.Fprintln(w, sig.String())
		if v.Fn.Doc != nil {
			fmt.Fprintln(w, v.Fn.Doc.s)
		}
	case *Native:
		fmt.Fprintln(w, v.Sig.String())
		if v.Doc != "" {
			fmt.Fprintln(w, v.Doc)
		}
	case *BoundMethod:
		return nativeHelp(m, []Value{v.Method})
	case *Class:
		fmt.Fprintf(w, "class %s", v.Name.s)
		if v.Super != nil {
			fmt.Fprintf(w, " < %s", v.Super.Name.s)
		}
		fmt.Fprintln(w)
		var names []string
		v.Methods.each(func(key *String, _ Value) {
			names = append(names, key.s)
		})
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s\n", name)
		}
	default:
		return m.NativeError("help: %s is not callable.", args[0].Type())
	}
	return Nil
}

// list methods; the receiver is args[0].

func listAppend(m *Machine, args []Value) Value {
	l := args[0].(*List)
	l.Elems = append(l.Elems, args[1])
	return Nil
}

func listPop(m *Machine, args []Value) Value {
	l := args[0].(*List)
	if len(l.Elems) == 0 {
		return m.NativeError("pop from an empty list.")
	}
	v := l.Elems[len(l.Elems)-1]
	l.Elems = l.Elems[:len(l.Elems)-1]
	return v
}

func listLen(_ *Machine, args []Value) Value {
	return Number(len(args[0].(*List).Elems))
}

func listGetItem(m *Machine, args []Value) Value {
	l := args[0].(*List)
	i, err := checkIndex(m, args[1], len(l.Elems))
	if err != nil {
		return Error
	}
	return l.Elems[i]
}

func listSetItem(m *Machine, args []Value) Value {
	l := args[0].(*List)
	i, err := checkIndex(m, args[1], len(l.Elems))
	if err != nil {
		return Error
	}
	l.Elems[i] = args[2]
	return args[2]
}

// string methods; the receiver is args[0].

func stringLen(_ *Machine, args []Value) Value {
	return Number(args[0].(*String).Len())
}

func stringGetItem(m *Machine, args []Value) Value {
	s := args[0].(*String)
	i, err := checkIndex(m, args[1], len(s.s))
	if err != nil {
		return Error
	}
	return m.heap.Intern(s.s[i : i+1])
}

// checkIndex validates an integral in-range index. On failure it records the
// native error and returns a non-nil error so callers can return the
// sentinel.
func checkIndex(m *Machine, v Value, length int) (int, error) {
	n, ok := v.(Number)
	if !ok || float64(n) != math.Trunc(float64(n)) {
		m.NativeError("index must be an integer, got %s.", v.String())
		return 0, errBadIndex
	}
	i := int(n)
	if i < 0 || i >= length {
		m.NativeError("index out of range: %d (length %d).", i, length)
		return 0, errBadIndex
	}
	return i, nil
}

var errBadIndex = fmt.Errorf("bad index")
