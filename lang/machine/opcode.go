package machine

import "fmt"

// Opcode is one bytecode instruction operation. Operands follow the opcode
// byte in the instruction stream: <k> is a one-byte constant index, <s> a
// one-byte stack or upvalue slot, <n> a one-byte argument count, and jump
// offsets are unsigned 16-bit big-endian.
type Opcode byte

// "x ADD y" style comments are stack pictures: state before and after.
//
//nolint:revive
const (
	LOAD_CONSTANT Opcode = iota // - LOAD_CONSTANT<k> value

	NIL   // - NIL nil
	TRUE  // - TRUE true
	FALSE // - FALSE false
	POP   // x POP -

	GET_LOCAL     // - GET_LOCAL<s> value
	SET_LOCAL     // x SET_LOCAL<s> x
	GET_UPVALUE   // - GET_UPVALUE<s> value
	SET_UPVALUE   // x SET_UPVALUE<s> x
	GET_GLOBAL    // - GET_GLOBAL<k> value
	SET_GLOBAL    // x SET_GLOBAL<k> x
	DEFINE_GLOBAL // x DEFINE_GLOBAL<k> -
	GET_PROPERTY  // obj GET_PROPERTY<k> value
	SET_PROPERTY  // obj x SET_PROPERTY<k> x
	GET_SUPER     // recv class GET_SUPER<k> method

	EQUAL    // x y EQUAL bool
	GREATER  // x y GREATER bool
	LESS     // x y LESS bool
	ADD      // x y ADD x+y
	SUBTRACT // x y SUBTRACT x-y
	MULTIPLY // x y MULTIPLY x*y
	DIVIDE   // x y DIVIDE x/y
	NOT      // x NOT bool
	NEGATE   // x NEGATE -x

	PRINT // x PRINT -

	JUMP          // - JUMP<off16> -
	JUMP_IF_FALSE // cond JUMP_IF_FALSE<off16> cond
	LOOP          // - LOOP<off16> -

	CALL          // fn a1..an CALL<n> result
	INVOKE        // recv a1..an INVOKE<k,n> result
	SUPER_INVOKE  // recv a1..an class SUPER_INVOKE<k,n> result
	CLOSURE       // - CLOSURE<k,(is_local,i)*> closure
	CLOSE_UPVALUE // x CLOSE_UPVALUE -
	RETURN        // x RETURN -

	CLASS   // - CLASS<k> class
	INHERIT // super class INHERIT super
	METHOD  // class closure METHOD<k> class

	opcodeMax = METHOD
)

var opcodeNames = [...]string{
	LOAD_CONSTANT: "load_constant",
	NIL:           "nil",
	TRUE:          "true",
	FALSE:         "false",
	POP:           "pop",
	GET_LOCAL:     "get_local",
	SET_LOCAL:     "set_local",
	GET_UPVALUE:   "get_upvalue",
	SET_UPVALUE:   "set_upvalue",
	GET_GLOBAL:    "get_global",
	SET_GLOBAL:    "set_global",
	DEFINE_GLOBAL: "define_global",
	GET_PROPERTY:  "get_property",
	SET_PROPERTY:  "set_property",
	GET_SUPER:     "get_super",
	EQUAL:         "equal",
	GREATER:       "greater",
	LESS:          "less",
	ADD:           "add",
	SUBTRACT:      "subtract",
	MULTIPLY:      "multiply",
	DIVIDE:        "divide",
	NOT:           "not",
	NEGATE:        "negate",
	PRINT:         "print",
	JUMP:          "jump",
	JUMP_IF_FALSE: "jump_if_false",
	LOOP:          "loop",
	CALL:          "call",
	INVOKE:        "invoke",
	SUPER_INVOKE:  "super_invoke",
	CLOSURE:       "closure",
	CLOSE_UPVALUE: "close_upvalue",
	RETURN:        "return",
	CLASS:         "class",
	INHERIT:       "inherit",
	METHOD:        "method",
}

func (op Opcode) String() string {
	if op <= opcodeMax {
		if name := opcodeNames[op]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("illegal op (%d)", op)
}
