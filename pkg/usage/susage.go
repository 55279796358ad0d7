// Package usage reads compute usage per account from the susage tool.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/runner"
)

// DefaultBinary is the usage tool executable.
const DefaultBinary = "susage"

// Column positions of the pipe-delimited susage report.
const (
	columnAccount = 0
	columnUsage   = 2
)

// Tool runs `susage -P` once and serves the parsed report for the rest of the run.
// Create a new Tool for every run.
type Tool struct {
	runner runner.Runner
	binary string
	logger zerolog.Logger

	once   sync.Once
	usages map[string]float64
	err    error
}

var _ engine.UsageSource = (*Tool)(nil)

// NewTool creates a usage tool on r. An empty binary selects DefaultBinary.
func NewTool(r runner.Runner, binary string, logger zerolog.Logger) *Tool {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Tool{
		runner: r,
		binary: binary,
		logger: logger.With().Str("component", "susage").Logger(),
	}
}

// Usages returns usage keyed by account.
func (t *Tool) Usages(ctx context.Context) (map[string]float64, error) {
	t.once.Do(func() {
		t.usages, t.err = t.query(ctx)
	})
	return t.usages, t.err
}

func (t *Tool) query(ctx context.Context) (map[string]float64, error) {
	cmd := runner.Command{Name: t.binary, Args: []string{"-P"}}
	t.logger.Debug().Str("command", cmd.String()).Msg("querying usage")

	out, err := runner.Output(ctx, t.runner, cmd)
	if err != nil {
		return nil, engine.NewError(engine.ErrorKindCommand, "query_usage", err)
	}

	usages := make(map[string]float64)
	for i, line := range strings.Split(out, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) <= columnUsage {
			t.logger.Warn().Int("line", i+1).Str("content", line).Msg("skipping short susage line")
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[columnUsage]), 64)
		if err != nil {
			return nil, engine.NewError(engine.ErrorKindCommand, "query_usage",
				fmt.Errorf("line %d: invalid usage %q: %w", i+1, fields[columnUsage], err))
		}
		usages[strings.TrimSpace(fields[columnAccount])] = v
	}

	t.logger.Info().Int("accounts", len(usages)).Msg("usage report loaded")
	return usages, nil
}
