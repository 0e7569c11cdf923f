// Package maincmd implements the lox command-line tool: script execution,
// the interactive prompt, and the tokenize/disasm debugging phases.
package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/mna/mainer"
)

const binName = "lox"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] [<command>] [<path>]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] [<path>]
       %[1]s [<option>...] <command> <path>...
       %[1]s -h|--help
       %[1]s -v|--version

Interpreter and all-in-one tool for the %[1]s programming language.
With no arguments, starts the interactive prompt; with a <path>, runs
it as a script.

The <command> can be one of:
       tokenize                  Execute the scanner phase and print the
                                 resulting tokens.
       disasm                    Compile and print the disassembled
                                 bytecode without executing it.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --gc-stress               Collect garbage on every allocation.
       --gc-trace                Log collector activity to stderr.
       --trace-exec              Dump each executed instruction to stderr.

The flag options can also be set from the environment as LOX_GC_STRESS,
LOX_GC_TRACE and LOX_TRACE_EXEC.

More information on the %[1]s repository:
       https://github.com/zxul767/lox
`, binName)
)

// Exit codes of the lox binary, BSD sysexits-style.
const (
	exitUsage   mainer.ExitCode = 64
	exitCompile mainer.ExitCode = 65
	exitRuntime mainer.ExitCode = 70
	exitIO      mainer.ExitCode = 74
)

// Cmd is the command-line surface of the lox binary.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	GCStress  bool `flag:"gc-stress" env:"LOX_GC_STRESS"`
	GCTrace   bool `flag:"gc-trace" env:"LOX_GC_TRACE"`
	TraceExec bool `flag:"trace-exec" env:"LOX_TRACE_EXEC"`

	args []string
}

// SetArgs receives the non-flag arguments from the mainer parser.
func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

// Validate checks the argument combination before dispatch.
func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) > 0 {
		switch c.args[0] {
		case "tokenize", "disasm":
			if len(c.args) == 1 {
				return fmt.Errorf("%s: at least one file must be provided", c.args[0])
			}
		default:
			if len(c.args) > 1 {
				return fmt.Errorf("a single script path is expected, got %d arguments", len(c.args))
			}
		}
	}
	return nil
}

// Main runs the tool: configuration comes from the environment first, then
// from flags, which take precedence.
func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	if err := env.Parse(c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid environment: %s\n", err)
		return exitUsage
	}

	p := mainer.Parser{}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return exitUsage
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)

	if len(c.args) == 0 {
		return c.repl(ctx, stdio)
	}
	switch c.args[0] {
	case "tokenize":
		return c.tokenizeFiles(stdio, c.args[1:])
	case "disasm":
		return c.disasmFiles(stdio, c.args[1:])
	}
	return c.runScript(stdio, c.args[0])
}
