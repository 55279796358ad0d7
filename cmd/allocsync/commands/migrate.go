package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the run history database",
		Long: `Apply every pending migration to the run history database named by
history.path and print the resulting schema version. The other commands migrate
on open as well, so this is only needed to prepare the database ahead of time.`,
		Example: `  allocsync migrate --config /etc/allocsync/config.yaml`,
		Args:    cobra.NoArgs,
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

			v, dirty, err := history.Version(ctx)
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("history schema version %d is dirty", v)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "history schema at version %d\n", v)
			return err
		},
	}

	return cmd
}
