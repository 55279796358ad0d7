package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/runner"
)

// DefaultBinary is the quota tool executable.
const DefaultBinary = "squota"

// Column positions of the pipe-delimited squota report.
const (
	columnProject = 1
	columnUsage   = 5
	columnQuota   = 6
)

// unsetQuota marks a project without a quota.
const unsetQuota = "None"

// Tool drives the squota command. It implements engine.QuotaSource and
// engine.QuotaSetter without caching; wrap it in a Cache for a run.
type Tool struct {
	runner runner.Runner
	binary string
	sudo   bool
	logger zerolog.Logger
}

var (
	_ engine.QuotaSource = (*Tool)(nil)
	_ engine.QuotaSetter = (*Tool)(nil)
)

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithBinary overrides the executable name or path.
func WithBinary(binary string) ToolOption {
	return func(t *Tool) {
		if binary != "" {
			t.binary = binary
		}
	}
}

// WithSudo runs the quota commands through sudo.
func WithSudo(sudo bool) ToolOption {
	return func(t *Tool) { t.sudo = sudo }
}

// NewTool creates a quota tool on r.
func NewTool(r runner.Runner, logger zerolog.Logger, opts ...ToolOption) *Tool {
	t := &Tool{
		runner: r,
		binary: DefaultBinary,
		logger: logger.With().Str("component", "squota").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot runs squota -f <fs> -A -P and parses its report.
func (t *Tool) Snapshot(ctx context.Context, filesystem string) (*engine.QuotaSnapshot, error) {
	cmd := runner.Command{Name: t.binary, Args: []string{"-f", filesystem, "-A", "-P"}, Sudo: t.sudo}
	t.logger.Debug().Str("command", cmd.String()).Msg("querying quotas")

	out, err := runner.Output(ctx, t.runner, cmd)
	if err != nil {
		return nil, engine.NewError(engine.ErrorKindCommand, "query_quota", err).WithTarget(filesystem)
	}

	snapshot, err := t.parse(out)
	if err != nil {
		return nil, engine.NewError(engine.ErrorKindCommand, "query_quota", err).WithTarget(filesystem)
	}
	t.logger.Info().
		Str("filesystem", filesystem).
		Int("quotas", len(snapshot.Quotas)).
		Int("usages", len(snapshot.Usages)).
		Msg("quota snapshot loaded")
	return snapshot, nil
}

// SetQuota runs squota -f <fs> -u <group> -q <gb>. The result is not verified.
func (t *Tool) SetQuota(ctx context.Context, filesystem, group string, gb float64) error {
	cmd := runner.Command{
		Name: t.binary,
		Args: []string{"-f", filesystem, "-u", group, "-q", strconv.FormatFloat(gb, 'f', -1, 64)},
		Sudo: t.sudo,
	}
	t.logger.Info().Str("command", cmd.String()).Msg("setting quota")

	if _, err := runner.Output(ctx, t.runner, cmd); err != nil {
		return engine.NewError(engine.ErrorKindCommand, "set_quota", err).WithTarget(group)
	}
	return nil
}

// parse reads the report: one header line, then project|...|usage|quota rows.
func (t *Tool) parse(out string) (*engine.QuotaSnapshot, error) {
	snapshot := &engine.QuotaSnapshot{
		Quotas: make(map[string]float64),
		Usages: make(map[string]float64),
	}

	for i, line := range strings.Split(out, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) <= columnQuota {
			t.logger.Warn().Int("line", i+1).Str("content", line).Msg("skipping short squota line")
			continue
		}

		project := strings.TrimSpace(fields[columnProject])
		usage, err := strconv.ParseFloat(strings.TrimSpace(fields[columnUsage]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid usage %q: %w", i+1, fields[columnUsage], err)
		}
		snapshot.Usages[project] = usage

		raw := strings.TrimSpace(fields[columnQuota])
		if raw == unsetQuota {
			continue
		}
		quota, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quota %q: %w", i+1, raw, err)
		}
		snapshot.Quotas[project] = quota
	}
	return snapshot, nil
}
