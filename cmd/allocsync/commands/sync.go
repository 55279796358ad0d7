package commands

import (
	"github.com/spf13/cobra"

	"github.com/hpcops/allocsync/pkg/driver"
)

// syncJob describes one sync command.
type syncJob struct {
	name     string
	short    string
	long     string
	example  string
	username bool
	group    string
}

var syncLDAPCheck = syncJob{
	name:  driver.JobLDAPCheck,
	short: "Check directory group membership of portal users",
	long: `Compare the LDAP groups of every portal user with the storage groups of their
allocations. Users missing from a group of an active allocation are added; users
left in a group of an inactive allocation are removed. The portal account status
follows the directory's disabled-users group, and the portal e-mail address follows
the directory.

Columns: username, groups to add, groups to remove, LDAP status, portal status.`,
	example: `  # Report differences
  allocsync ldap-check --header

  # Correct one user
  allocsync ldap-check --sync --username alice

  # Show what a sync would do for one group
  allocsync ldap-check --sync --noop --group proj1`,
	username: true,
	group:    "narrow to one directory group",
}

var syncQuotasCheck = syncJob{
	name:  driver.JobQuotasCheck,
	short: "Check storage quotas and group directories",
	long: `Compare the quota of every active storage allocation with the quota tool of
its filesystem, store the observed usage in the portal and check the group
directory. Missing quotas and directories are created and wrong quotas, groups and
modes are corrected.

Columns: allocation, group, filesystem, quota, current quota, usage, actions.`,
	example: `  # Report differences
  allocsync quotas-check --header

  # Correct one group
  allocsync quotas-check --sync --group proj1`,
	group: "narrow to one storage group",
}

var syncSlurmUsage = syncJob{
	name:  driver.JobSlurmUsage,
	short: "Copy Slurm core usage into the portal",
	long: `Read the core hours of every Slurm account and store them, rounded to two
decimals, on the active cluster allocations of the portal. Usage is reporting, so
it is written with or without --sync.

Columns: allocation, account, usage.`,
	example: `  allocsync slurm-usage --header`,
	group:   "narrow to one Slurm account",
}

func newSyncCommand(job syncJob, version string) *cobra.Command {
	var (
		sync     bool
		noop     bool
		username string
		group    string
		header   bool
	)

	cmd := &cobra.Command{
		Use:     job.name,
		Short:   job.short,
		Long:    job.long,
		Example: job.example,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			_, err = a.driver.Run(cmd.Context(), job.name, driver.Options{
				Mode:     a.config.Mode(sync, noop),
				Username: username,
				Group:    group,
				Header:   header,
				Output:   cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().BoolVarP(&sync, "sync", "s", false, "apply corrections")
	cmd.Flags().BoolVarP(&noop, "noop", "n", false, "suppress every external change, even with --sync")
	cmd.Flags().BoolVarP(&header, "header", "x", false, "print the column header")
	cmd.Flags().StringVarP(&group, "group", "g", "", job.group)
	if job.username {
		cmd.Flags().StringVarP(&username, "username", "u", "", "narrow to one user")
	}

	return cmd
}
