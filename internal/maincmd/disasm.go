package maincmd

import (
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/zxul767/lox/lang/compiler"
	"github.com/zxul767/lox/lang/machine"
)

// disasmFiles compiles each file and prints the disassembled bytecode of the
// top-level function and every function nested in it, without executing.
func (c *Cmd) disasmFiles(stdio mainer.Stdio, paths []string) mainer.ExitCode {
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			return exitIO
		}

		heap := machine.NewHeap()
		fn, err := compiler.Compile(heap, string(src), 0)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			return exitCompile
		}
		fmt.Fprint(stdio.Stdout, machine.DisassembleFunction(fn))
	}
	return mainer.Success
}
