package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is read when neither --config nor ALLOCSYNC_CONFIG is set.
const DefaultConfigPath = "/etc/allocsync/config.yaml"

// EnvConfigPath overrides DefaultConfigPath.
const EnvConfigPath = "ALLOCSYNC_CONFIG"

var (
	// Global flags
	configPath string
	verbosity  int
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "allocsync",
		Short: "Reconcile ColdFront allocations with LDAP, storage quotas and Slurm usage",
		Long: `allocsync compares the allocations recorded in the ColdFront portal with the
systems that enforce them and reports every difference as one tab-separated row.

Jobs:
  - ldap-check     directory group membership and account status of every user
  - quotas-check   storage quotas, group directories and storage usage
  - slurm-usage    core hours consumed by every Slurm account

Without --sync the jobs only report. With --sync they correct the directory,
the quotas and the portal, unless --noop is also given.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := DefaultConfigPath
	if env := os.Getenv(EnvConfigPath); env != "" {
		defaultConfig = env
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "config file path (.yaml, .toml or .cue)")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 1, "log verbosity: 0=error, 1=warn, 2=info, 3=debug")

	rootCmd.AddCommand(newSyncCommand(syncLDAPCheck, version))
	rootCmd.AddCommand(newSyncCommand(syncQuotasCheck, version))
	rootCmd.AddCommand(newSyncCommand(syncSlurmUsage, version))
	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))
	rootCmd.AddCommand(newMigrateCommand(version))
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
