package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

//nolint:revive
const (
	// FramesMax bounds the call-frame stack; exceeding it is the "Stack
	// overflow." runtime error.
	FramesMax = 64

	uint8Count = 256

	// StackMax bounds the value stack.
	StackMax = FramesMax * uint8Count
)

// ErrRuntime is matched by errors.Is on every error returned from Run so
// callers can map failures to an exit code.
var ErrRuntime = errors.New("runtime error")

// A RuntimeError carries the formatted "Runtime Error:" message and stack
// trace of a failed execution.
type RuntimeError struct {
	Msg string
}

func (e *RuntimeError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrRuntime) work.
func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }

// initName is the reserved initializer method name.
const initName = "__init__"

// A frame is one active call: the closure being run, its instruction
// pointer, and the base of its slot window in the shared value stack.
type frame struct {
	closure *Closure
	ip      int
	base    int
}

// Machine is the stack-based virtual machine. It owns the value and frame
// stacks, the globals table, the open-upvalue list and the heap, and is the
// collector's root set.
type Machine struct {
	// Stdout and Stderr are the machine's output streams. If nil, the
	// process streams are used.
	Stdout io.Writer
	Stderr io.Writer

	// TraceExec dumps each instruction and the stack to Stderr as it runs.
	TraceExec bool

	heap   *Heap
	stack  []Value
	sp     int
	frames [FramesMax]frame
	nframe int

	openUpvalues *Upvalue
	globals      Table

	initString  *String
	listClass   *Class
	stringClass *Class

	nativeErr string
}

// New returns a machine wired to heap, with the standard library natives and
// built-in classes registered as globals.
func New(heap *Heap) *Machine {
	m := &Machine{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		heap:   heap,
		stack:  make([]Value, StackMax),
	}
	heap.SetRootMarker(m.markRoots)
	m.initString = heap.Intern(initName)
	m.registerStdlib()
	return m
}

// Heap returns the machine's heap, which the compiler allocates into.
func (m *Machine) Heap() *Heap { return m.heap }

// DefineGlobal registers a top-level binding; it is the entry point natives
// and the host use to extend the global environment.
func (m *Machine) DefineGlobal(name string, v Value) {
	m.globals.Set(m.heap.Intern(name), v)
}

// GetGlobal looks up a top-level binding by name.
func (m *Machine) GetGlobal(name string) (Value, bool) {
	return m.globals.Get(m.heap.Intern(name))
}

// NativeError records the message for the runtime error raised when a native
// returns the Error sentinel, and returns that sentinel for convenience.
func (m *Machine) NativeError(format string, args ...any) Value {
	m.nativeErr = fmt.Sprintf(format, args...)
	return Error
}

// Intern exposes string interning to natives.
func (m *Machine) Intern(s string) *String { return m.heap.Intern(s) }

// markRoots reports every root to the collector: the live value stack, the
// active frame closures, the open-upvalue list, the globals table, the
// sentinel strings and the built-in class handles.
func (m *Machine) markRoots(mark func(Value)) {
	for i := 0; i < m.sp; i++ {
		mark(m.stack[i])
	}
	for i := 0; i < m.nframe; i++ {
		mark(m.frames[i].closure)
	}
	for u := m.openUpvalues; u != nil; u = u.nextOpen {
		mark(u)
	}
	m.globals.each(func(key *String, value Value) {
		mark(key)
		mark(value)
	})
	if m.initString != nil {
		mark(m.initString)
	}
	if m.listClass != nil {
		mark(m.listClass)
	}
	if m.stringClass != nil {
		mark(m.stringClass)
	}
}

// Run executes a compiled top-level function to completion. On a runtime
// error it returns an ErrRuntime-wrapped error whose message holds the
// "Runtime Error:" line and the stack trace, and resets the stacks.
func (m *Machine) Run(fn *Function) error {
	m.push(fn)
	closure := m.heap.NewClosure(fn)
	m.pop()
	m.push(closure)
	if err := m.call(closure, 0); err != nil {
		m.resetStacks()
		return err
	}
	if err := m.run(); err != nil {
		m.resetStacks()
		return err
	}
	return nil
}

func (m *Machine) resetStacks() {
	m.sp = 0
	m.nframe = 0
	m.openUpvalues = nil
}

func (m *Machine) push(v Value) {
	m.stack[m.sp] = v
	m.sp++
}

func (m *Machine) pop() Value {
	m.sp--
	return m.stack[m.sp]
}

func (m *Machine) peek(dist int) Value {
	return m.stack[m.sp-1-dist]
}

// runtimeError formats the error message and the stack trace, innermost
// frame first, outermost last.
func (m *Machine) runtimeError(format string, args ...any) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Runtime Error: "+format, args...)
	for i := m.nframe - 1; i >= 0; i-- {
		fr := &m.frames[i]
		fn := fr.closure.Fn
		line := fn.Chunk.Lines[fr.ip-1]
		if fn.Name == nil {
			fmt.Fprintf(&b, "\n[line %d] in script", line)
		} else {
			fmt.Fprintf(&b, "\n[line %d] in %s()", line, fn.Name.s)
		}
	}
	return &RuntimeError{Msg: b.String()}
}

func (m *Machine) run() error {
	fr := &m.frames[m.nframe-1]

	readByte := func() byte {
		b := fr.closure.Fn.Chunk.Code[fr.ip]
		fr.ip++
		return b
	}
	readShort := func() int {
		hi, lo := fr.closure.Fn.Chunk.Code[fr.ip], fr.closure.Fn.Chunk.Code[fr.ip+1]
		fr.ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() Value {
		return fr.closure.Fn.Chunk.Constants[readByte()]
	}
	readString := func() *String {
		return readConstant().(*String)
	}

	for {
		if m.TraceExec {
			m.traceInstruction(fr)
		}

		switch op := Opcode(readByte()); op {
		case LOAD_CONSTANT:
			m.push(readConstant())

		case NIL:
			m.push(Nil)
		case TRUE:
			m.push(True)
		case FALSE:
			m.push(False)
		case POP:
			m.pop()

		case GET_LOCAL:
			m.push(m.stack[fr.base+int(readByte())])

		case SET_LOCAL:
			m.stack[fr.base+int(readByte())] = m.peek(0)

		case GET_UPVALUE:
			m.push(fr.closure.Upvalues[readByte()].get(m))

		case SET_UPVALUE:
			fr.closure.Upvalues[readByte()].set(m, m.peek(0))

		case GET_GLOBAL:
			name := readString()
			v, ok := m.globals.Get(name)
			if !ok {
				return m.runtimeError("Undefined variable '%s'.", name.s)
			}
			m.push(v)

		case SET_GLOBAL:
			name := readString()
			if m.globals.Set(name, m.peek(0)) {
				// the set created the key: it was not defined
				m.globals.Delete(name)
				return m.runtimeError("Undefined variable '%s'.", name.s)
			}

		case DEFINE_GLOBAL:
			m.globals.Set(readString(), m.peek(0))
			m.pop()

		case GET_PROPERTY:
			name := readString()
			switch recv := m.peek(0).(type) {
			case *Instance:
				if v, ok := recv.Fields.Get(name); ok {
					m.stack[m.sp-1] = v
					break
				}
				if err := m.bindMethod(recv.Class, name); err != nil {
					return err
				}
			case *List:
				if err := m.bindMethod(m.listClass, name); err != nil {
					return err
				}
			case *String:
				if err := m.bindMethod(m.stringClass, name); err != nil {
					return err
				}
			default:
				return m.runtimeError("Only instances have properties.")
			}

		case SET_PROPERTY:
			name := readString()
			inst, ok := m.peek(1).(*Instance)
			if !ok {
				return m.runtimeError("Only instances have fields.")
			}
			inst.Fields.Set(name, m.peek(0))
			v := m.pop()
			m.pop()
			m.push(v)

		case GET_SUPER:
			name := readString()
			super := m.pop().(*Class)
			if err := m.bindMethod(super, name); err != nil {
				return err
			}

		case EQUAL:
			b := m.pop()
			a := m.pop()
			m.push(Equal(a, b))

		case GREATER:
			x, y, err := m.popNumericPair()
			if err != nil {
				return err
			}
			m.push(Bool(x > y))

		case LESS:
			x, y, err := m.popNumericPair()
			if err != nil {
				return err
			}
			m.push(Bool(x < y))

		case ADD:
			switch b := m.peek(0).(type) {
			case Number:
				a, ok := m.peek(1).(Number)
				if !ok {
					return m.runtimeError("Operands must be two numbers or two strings.")
				}
				m.pop()
				m.pop()
				m.push(a + b)
			case *String:
				a, ok := m.peek(1).(*String)
				if !ok {
					return m.runtimeError("Operands must be two numbers or two strings.")
				}
				// intern the concatenation while both operands are still rooted
				s := m.heap.Intern(a.s + b.s)
				m.pop()
				m.pop()
				m.push(s)
			default:
				return m.runtimeError("Operands must be two numbers or two strings.")
			}

		case SUBTRACT:
			x, y, err := m.popNumericPair()
			if err != nil {
				return err
			}
			m.push(x - y)

		case MULTIPLY:
			x, y, err := m.popNumericPair()
			if err != nil {
				return err
			}
			m.push(x * y)

		case DIVIDE:
			x, y, err := m.popNumericPair()
			if err != nil {
				return err
			}
			m.push(x / y)

		case NOT:
			m.push(!Truth(m.pop()))

		case NEGATE:
			n, ok := m.peek(0).(Number)
			if !ok {
				return m.runtimeError("Operand must be a number.")
			}
			m.pop()
			m.push(-n)

		case PRINT:
			fmt.Fprintln(m.stdout(), m.pop().String())

		case JUMP:
			fr.ip += readShort()

		case JUMP_IF_FALSE:
			off := readShort()
			if !Truth(m.peek(0)) {
				fr.ip += off
			}

		case LOOP:
			fr.ip -= readShort()

		case CALL:
			argc := int(readByte())
			if err := m.callValue(m.peek(argc), argc); err != nil {
				return err
			}
			fr = &m.frames[m.nframe-1]

		case INVOKE:
			name := readString()
			argc := int(readByte())
			if err := m.invoke(name, argc); err != nil {
				return err
			}
			fr = &m.frames[m.nframe-1]

		case SUPER_INVOKE:
			name := readString()
			argc := int(readByte())
			super := m.pop().(*Class)
			if err := m.invokeFromClass(super, name, argc); err != nil {
				return err
			}
			fr = &m.frames[m.nframe-1]

		case CLOSURE:
			fn := readConstant().(*Function)
			closure := m.heap.NewClosure(fn)
			m.push(closure)
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = m.captureUpvalue(fr.base + index)
				} else {
					closure.Upvalues[i] = fr.closure.Upvalues[index]
				}
			}

		case CLOSE_UPVALUE:
			m.closeUpvalues(m.sp - 1)
			m.pop()

		case RETURN:
			result := m.pop()
			m.closeUpvalues(fr.base)
			m.nframe--
			if m.nframe == 0 {
				m.pop()
				return nil
			}
			m.sp = fr.base
			m.push(result)
			fr = &m.frames[m.nframe-1]

		case CLASS:
			m.push(m.heap.NewClass(readString()))

		case INHERIT:
			super, ok := m.peek(1).(*Class)
			if !ok {
				return m.runtimeError("Superclass must be a class.")
			}
			sub := m.peek(0).(*Class)
			sub.Methods.AddAll(&super.Methods)
			sub.Super = super
			m.pop()

		case METHOD:
			name := readString()
			method := m.peek(0)
			class := m.peek(1).(*Class)
			class.Methods.Set(name, method)
			m.pop()

		default:
			panic(fmt.Sprintf("unimplemented: %s", op))
		}
	}
}

func (m *Machine) popNumericPair() (Number, Number, error) {
	y, ok := m.peek(0).(Number)
	if !ok {
		return 0, 0, m.runtimeError("Operands must be numbers.")
	}
	x, ok := m.peek(1).(Number)
	if !ok {
		return 0, 0, m.runtimeError("Operands must be numbers.")
	}
	m.pop()
	m.pop()
	return x, y, nil
}

// callValue invokes the value sitting argc slots below the top with the argc
// values above it as arguments.
func (m *Machine) callValue(callee Value, argc int) error {
	switch callee := callee.(type) {
	case *Closure:
		return m.call(callee, argc)

	case *Native:
		return m.callNative(callee, argc)

	case *Class:
		return m.instantiate(callee, argc)

	case *BoundMethod:
		m.stack[m.sp-argc-1] = callee.Receiver
		switch method := callee.Method.(type) {
		case *Closure:
			return m.call(method, argc)
		case *Native:
			return m.callNative(method, argc)
		}
	}
	return m.runtimeError("Can only call functions and classes.")
}

// call pushes a new frame for a closure invocation.
func (m *Machine) call(closure *Closure, argc int) error {
	if argc != closure.Fn.Arity {
		return m.runtimeError("Expected %d arguments but got %d.", closure.Fn.Arity, argc)
	}
	if m.nframe == FramesMax {
		return m.runtimeError("Stack overflow.")
	}
	fr := &m.frames[m.nframe]
	m.nframe++
	fr.closure = closure
	fr.ip = 0
	fr.base = m.sp - argc - 1
	return nil
}

// callNative runs a host callable synchronously. Method natives see their
// receiver as args[0].
func (m *Machine) callNative(n *Native, argc int) error {
	if argc != n.Arity() {
		return m.runtimeError("Expected %d arguments but got %d.", n.Arity(), argc)
	}
	args := m.stack[m.sp-argc : m.sp]
	if n.IsMethod {
		args = m.stack[m.sp-argc-1 : m.sp]
	}
	result := n.Fn(m, args)
	if result == Error {
		msg := m.nativeErr
		if msg == "" {
			msg = fmt.Sprintf("native function %s failed.", n.Sig.Name)
		}
		m.nativeErr = ""
		return m.runtimeError("%s", msg)
	}
	m.sp -= argc + 1
	m.push(result)
	return nil
}

// instantiate allocates an instance of class and runs its initializer, if
// any. The built-in collection classes construct their own representations.
func (m *Machine) instantiate(class *Class, argc int) error {
	switch class {
	case m.listClass:
		if argc != 0 {
			return m.runtimeError("Expected 0 arguments but got %d.", argc)
		}
		m.stack[m.sp-1] = m.heap.NewList(class, nil)
		return nil

	case m.stringClass:
		if argc != 1 {
			return m.runtimeError("Expected 1 arguments but got %d.", argc)
		}
		arg := m.pop()
		m.stack[m.sp-1] = m.heap.Intern(arg.String())
		return nil
	}

	m.stack[m.sp-argc-1] = m.heap.NewInstance(class)
	if init, ok := class.Methods.Get(m.initString); ok {
		return m.call(init.(*Closure), argc)
	}
	if argc != 0 {
		return m.runtimeError("Expected 0 arguments but got %d.", argc)
	}
	return nil
}

// invoke is the fused property-load-and-call: it skips allocating a
// BoundMethod when the property resolves to a method.
func (m *Machine) invoke(name *String, argc int) error {
	switch recv := m.peek(argc).(type) {
	case *Instance:
		if field, ok := recv.Fields.Get(name); ok {
			m.stack[m.sp-argc-1] = field
			return m.callValue(field, argc)
		}
		return m.invokeFromClass(recv.Class, name, argc)
	case *List:
		return m.invokeFromClass(m.listClass, name, argc)
	case *String:
		return m.invokeFromClass(m.stringClass, name, argc)
	}
	return m.runtimeError("Only instances have methods.")
}

func (m *Machine) invokeFromClass(class *Class, name *String, argc int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return m.runtimeError("Undefined property '%s'.", name.s)
	}
	switch method := method.(type) {
	case *Closure:
		return m.call(method, argc)
	case *Native:
		return m.callNative(method, argc)
	}
	return m.runtimeError("Can only call functions and classes.")
}

// bindMethod replaces the receiver on top of the stack with a BoundMethod
// pairing it with the named method of class.
func (m *Machine) bindMethod(class *Class, name *String) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return m.runtimeError("Undefined property '%s'.", name.s)
	}
	bound := m.heap.NewBoundMethod(m.peek(0), method)
	m.pop()
	m.push(bound)
	return nil
}

// captureUpvalue returns the open upvalue for slot, reusing an existing one
// so that all closures capturing a variable share it. The open list is kept
// sorted by descending slot.
func (m *Machine) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	u := m.openUpvalues
	for u != nil && u.slot > slot {
		prev = u
		u = u.nextOpen
	}
	if u != nil && u.slot == slot {
		return u
	}

	created := m.heap.NewUpvalue(slot)
	created.nextOpen = u
	if prev == nil {
		m.openUpvalues = created
	} else {
		prev.nextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given stack slot,
// transferring ownership of the value into the upvalue.
func (m *Machine) closeUpvalues(from int) {
	for m.openUpvalues != nil && m.openUpvalues.slot >= from {
		u := m.openUpvalues
		u.closed = m.stack[u.slot]
		u.slot = -1
		m.openUpvalues = u.nextOpen
		u.nextOpen = nil
	}
}

func (m *Machine) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *Machine) stderr() io.Writer {
	if m.Stderr != nil {
		return m.Stderr
	}
	return os.Stderr
}

// traceInstruction dumps the stack and the next instruction.
func (m *Machine) traceInstruction(fr *frame) {
	w := m.stderr()
	fmt.Fprint(w, "          ")
	for i := 0; i < m.sp; i++ {
		fmt.Fprintf(w, "[ %s ]", m.stack[i].String())
	}
	fmt.Fprintln(w)
	text, _ := disassembleInstruction(&fr.closure.Fn.Chunk, fr.ip)
	fmt.Fprintln(w, text)
}
