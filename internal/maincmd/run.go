package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/zxul767/lox/lang/compiler"
	"github.com/zxul767/lox/lang/machine"
)

// newMachine builds a heap and machine configured from the command flags,
// with output wired to the given stdio.
func (c *Cmd) newMachine(stdio mainer.Stdio) *machine.Machine {
	heap := machine.NewHeap()
	heap.Stress = c.GCStress
	heap.Trace = c.GCTrace
	heap.SetStderr(stdio.Stderr)

	m := machine.New(heap)
	m.Stdout = stdio.Stdout
	m.Stderr = stdio.Stderr
	m.TraceExec = c.TraceExec
	return m
}

// runScript executes one file in script mode.
func (c *Cmd) runScript(stdio mainer.Stdio, path string) mainer.ExitCode {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitIO
	}

	m := c.newMachine(stdio)
	fn, err := compiler.Compile(m.Heap(), string(src), 0)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitCompile
	}
	if err := m.Run(fn); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitRuntime
	}
	return mainer.Success
}

// repl runs the interactive prompt. Globals persist across lines, and the
// final expression of each line echoes its value.
func (c *Cmd) repl(ctx context.Context, stdio mainer.Stdio) mainer.ExitCode {
	m := c.newMachine(stdio)
	sc := bufio.NewScanner(stdio.Stdin)

	for {
		if ctx.Err() != nil {
			return mainer.Success
		}
		fmt.Fprint(stdio.Stdout, "> ")
		if !sc.Scan() {
			fmt.Fprintln(stdio.Stdout)
			if err := sc.Err(); err != nil {
				fmt.Fprintf(stdio.Stderr, "%s\n", err)
				return exitIO
			}
			return mainer.Success
		}

		fn, err := compiler.Compile(m.Heap(), sc.Text(), compiler.PrintLastExpr)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			continue
		}
		if err := m.Run(fn); err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
		}
	}
}
