package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Local runs commands on this host.
type Local struct {
	// Env is appended to the inherited environment
	Env []string

	logger zerolog.Logger
}

// NewLocal creates a local runner.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger.With().Str("component", "runner").Logger()}
}

// Run executes cmd and captures its output.
func (l *Local) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	argv := cmd.Argv()
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(l.Env) > 0 {
		c.Env = append(c.Environ(), l.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	l.logger.Debug().Strs("argv", argv).Msg("executing command")

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	l.logger.Debug().
		Str("command", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")
	return result, nil
}
