// Package runner executes external commands as argument vectors.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Command is an external command. It is never interpreted by a shell.
type Command struct {
	// Name is the executable
	Name string

	// Args are passed to the executable verbatim
	Args []string

	// Sudo runs the command through non-interactive sudo
	Sudo bool
}

// Argv returns the full argument vector, including sudo when requested.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+3)
	if c.Sudo {
		argv = append(argv, "sudo", "-n")
	}
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Result holds the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands.
// Run returns an error only when the command could not be started or waited for;
// a non-zero exit status is reported in Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command  Command
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command.Name, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Output runs cmd and returns its standard output, failing on a non-zero exit.
func Output(ctx context.Context, r Runner, cmd Command) (string, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, &ExitError{Command: cmd, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}
