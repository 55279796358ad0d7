package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpcops/allocsync/pkg/stores"
)

var historyHeader = []string{
	"run", "job", "status", "sync", "noop",
	"processed", "succeeded", "skipped", "failed", "started", "duration",
}

func newHistoryCommand(version string) *cobra.Command {
	var (
		job    string
		limit  int
		header bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or the rows of one run",
		Long: `Without an argument, list the most recent runs newest first. With a run id,
print the rows that run reported, in the column layout of its job.`,
		Example: `  # Last 10 quota runs
  allocsync history --job quotas-check --limit 10

  # Rows of one run
  allocsync history 4f1c7a9e-4a52-4d0e-9f0e-3d2b6c1e8a10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			history, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			if history == nil {
				return errors.New("run history is disabled, set history.path")
			}
			defer history.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rows, err := history.ListRows(ctx, args[0])
				if err != nil {
					return err
				}
				return printRows(out, rows)
			}

			runs, err := history.ListRuns(ctx, job, limit, 0)
			if err != nil {
				return err
			}
			return printRuns(out, runs, header)
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "only list runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().BoolVarP(&header, "header", "x", false, "print the column header")

	return cmd
}

func printRuns(w io.Writer, runs []*stores.Run, header bool) error {
	if header {
		if _, err := fmt.Fprintln(w, strings.Join(historyHeader, "\t")); err != nil {
			return err
		}
	}
	for _, r := range runs {
		fields := []string{
			r.ID,
			r.Job,
			string(r.Status),
			strconv.FormatBool(r.Sync),
			strconv.FormatBool(r.Noop),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			r.StartedAt.Local().Format(time.RFC3339),
			r.Duration().Round(time.Millisecond).String(),
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// printRows prints the report lines of a run. Skipped entities have none.
func printRows(w io.Writer, rows []*stores.RowRecord) error {
	for _, r := range rows {
		if r.Row == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, r.Row); err != nil {
			return err
		}
	}
	return nil
}
