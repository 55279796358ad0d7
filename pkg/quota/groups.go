package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hpcops/allocsync/pkg/runner"
)

// GetentGroups resolves group ids through the name service of the storage host.
type GetentGroups struct {
	runner runner.Runner
}

// NewGetentGroups creates a lookup running getent on r.
func NewGetentGroups(r runner.Runner) *GetentGroups {
	return &GetentGroups{runner: r}
}

// GroupID parses the gid field of `getent group <name>`.
func (g *GetentGroups) GroupID(ctx context.Context, group string) (int, error) {
	out, err := runner.Output(ctx, g.runner, runner.Command{Name: "getent", Args: []string{"group", "--", group}})
	if err != nil {
		return 0, fmt.Errorf("group %s not found: %w", group, err)
	}
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	fields := strings.Split(line, ":")
	if len(fields) < 3 {
		return 0, fmt.Errorf("unexpected getent output %q", line)
	}
	return strconv.Atoi(fields[2])
}
