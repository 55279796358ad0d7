package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hpcops/allocsync/pkg/driver"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the jobs on their schedules and expose metrics",
		Long: `Run ldap-check, quotas-check and slurm-usage on the cron schedules of the
schedule section until interrupted. Scheduled runs sync when schedule.sync is set
and are recorded in the run history.

The Prometheus endpoint is served on telemetry.metrics.listen_address, and site
policies are reloaded whenever a file under policy.paths changes.`,
		Example: `  allocsync serve --config /etc/allocsync/config.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.healthCheck(cmd.Context()); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			watching := a.policy != nil && a.config.Policy.Watch && len(a.config.Policy.Paths) > 0
			if watching {
				loader, err := a.policy.Watch(ctx, a.config.Policy.Paths)
				if err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
				defer func() { _ = loader.StopWatching() }()
			}

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return driver.NewScheduler(a.driver).Run(ctx)
			})

			g.Go(func() error {
				return a.telemetry.Metrics.Serve(ctx)
			})

			a.logger.Info().
				Str("metrics", a.config.Telemetry.Metrics.ListenAddress).
				Bool("policy_watch", watching).
				Msg("serving")

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return cmd
}
