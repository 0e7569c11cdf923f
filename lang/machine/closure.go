package machine

// An Upvalue captures a variable from an enclosing scope. While the variable
// still lives on the value stack the upvalue is open and records the slot
// index; when the variable's scope ends the machine closes the upvalue,
// copying the value into it. Open upvalues are threaded on a per-machine
// list sorted by descending slot.
type Upvalue struct {
	objectHeader
	slot     int   // stack slot while open, -1 once closed
	closed   Value // owned value once closed
	nextOpen *Upvalue
}

var _ Object = (*Upvalue)(nil)

func (u *Upvalue) String() string { return "upvalue" }
func (u *Upvalue) Type() string   { return "upvalue" }

func (u *Upvalue) isOpen() bool { return u.slot >= 0 }

func (u *Upvalue) get(m *Machine) Value {
	if u.isOpen() {
		return m.stack[u.slot]
	}
	return u.closed
}

func (u *Upvalue) set(m *Machine, v Value) {
	if u.isOpen() {
		m.stack[u.slot] = v
		return
	}
	u.closed = v
}

// A Closure pairs a function with the upvalues it captured. All callable
// user code is a closure, even functions with no captures, so that call
// dispatch never branches on raw functions.
type Closure struct {
	objectHeader
	Fn       *Function
	Upvalues []*Upvalue
}

var _ Object = (*Closure)(nil)

func (c *Closure) String() string { return c.Fn.String() }
func (c *Closure) Type() string   { return "function" }
