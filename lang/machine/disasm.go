package machine

import (
	"fmt"
	"strings"
)

// Disassemble renders a chunk in a human-readable form, one instruction per
// line, for debugging and for the disasm command.
func Disassemble(c *Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		var text string
		text, offset = disassembleInstruction(c, offset)
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// DisassembleFunction renders fn's chunk followed by the chunks of every
// function constant nested inside it.
func DisassembleFunction(fn *Function) string {
	var b strings.Builder
	b.WriteString(Disassemble(&fn.Chunk, fn.FuncName()))
	for _, c := range fn.Chunk.Constants {
		if nested, ok := c.(*Function); ok {
			b.WriteByte('\n')
			b.WriteString(DisassembleFunction(nested))
		}
	}
	return b.String()
}

func disassembleInstruction(c *Chunk, offset int) (string, int) {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		b.WriteString("   | ")
	} else {
		fmt.Fprintf(&b, "%4d ", c.Lines[offset])
	}

	op := Opcode(c.Code[offset])
	switch op {
	case LOAD_CONSTANT, GET_GLOBAL, SET_GLOBAL, DEFINE_GLOBAL,
		GET_PROPERTY, SET_PROPERTY, GET_SUPER, CLASS, METHOD:
		return constantInstruction(&b, c, op, offset)

	case GET_LOCAL, SET_LOCAL, GET_UPVALUE, SET_UPVALUE, CALL:
		k := c.Code[offset+1]
		fmt.Fprintf(&b, "%-16s %4d", op, k)
		return b.String(), offset + 2

	case JUMP, JUMP_IF_FALSE, LOOP:
		jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
		target := offset + 3 + jump
		if op == LOOP {
			target = offset + 3 - jump
		}
		fmt.Fprintf(&b, "%-16s %4d -> %d", op, offset, target)
		return b.String(), offset + 3

	case INVOKE, SUPER_INVOKE:
		k := c.Code[offset+1]
		argc := c.Code[offset+2]
		fmt.Fprintf(&b, "%-16s (%d args) %4d '%s'", op, argc, k, constantName(c, k))
		return b.String(), offset + 3

	case CLOSURE:
		offset++
		k := c.Code[offset]
		offset++
		fmt.Fprintf(&b, "%-16s %4d %s", op, k, constantName(c, k))
		fn := c.Constants[k].(*Function)
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal, index := c.Code[offset], c.Code[offset+1]
			offset += 2
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(&b, "\n%04d    |                     %s %d", offset-2, kind, index)
		}
		return b.String(), offset

	default:
		b.WriteString(op.String())
		return b.String(), offset + 1
	}
}

func constantInstruction(b *strings.Builder, c *Chunk, op Opcode, offset int) (string, int) {
	k := c.Code[offset+1]
	fmt.Fprintf(b, "%-16s %4d '%s'", op, k, constantName(c, k))
	return b.String(), offset + 2
}

func constantName(c *Chunk, k byte) string {
	return c.Constants[k].String()
}
