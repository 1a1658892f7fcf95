package recipe

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is one external program invocation.
type Command struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// String renders the command line.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes commands on behalf of hooks.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes. Output goes to Out, which is
// usually the spec's build log.
type ExecRunner struct {
	Out io.Writer
}

// Run starts the command and waits for it. Cancelling ctx kills the process.
func (r ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = 5 * time.Second
	if r.Out != nil {
		fmt.Fprintf(r.Out, "==> %s\n", c.String())
		cmd.Stdout = r.Out
		cmd.Stderr = r.Out
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", c.Name, ctx.Err())
		}
		return fmt.Errorf("%s: %w", c.String(), err)
	}
	return nil
}
