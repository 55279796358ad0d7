package driver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/quota"
)

// QuotasCheck compares the storage quota of every active allocation on the
// storage resource with the quota tool and stores the observed usage. In sync
// mode it corrects quotas and provisions missing group directories.
func (d *Driver) QuotasCheck(ctx context.Context, opts Options) (*engine.RunSummary, error) {
	return d.run(ctx, JobQuotasCheck, opts, engine.QuotaHeader, func(ctx context.Context, log zerolog.Logger, emit emitFunc) error {
		host, err := d.adapters.Storage(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := host.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close storage host session")
			}
		}()

		allocs, err := d.records.ActiveAllocations(ctx, d.config.Quota.Resource)
		if err != nil {
			return fmt.Errorf("failed to list allocations of %s: %w", d.config.Quota.Resource, err)
		}
		log.Info().Int("allocations", len(allocs)).Str("resource", d.config.Quota.Resource).Msg("checking quotas")

		tool := quota.NewTool(host.Runner, log,
			quota.WithBinary(d.config.Quota.Binary),
			quota.WithSudo(d.config.Quota.Sudo),
		)
		// One snapshot per filesystem and run.
		snapshots := quota.NewCache(tool)
		cfg := engine.QuotaReconcilerConfig{
			Quotas:              snapshots,
			Setter:              tool,
			Records:             d.records,
			Guard:               d.guard,
			Mode:                opts.Mode,
			GroupAttribute:      d.config.Attributes.Group,
			QuotaAttribute:      d.config.Attributes.Quota,
			FilesystemAttribute: d.config.Attributes.Filesystem,
			DefaultQuota:        d.config.Quota.DefaultGB,
			Logger:              log,
		}
		if d.config.Storage.Provision {
			provisioner := quota.NewProvisioner(host.FS, quota.NewGetentGroups(host.Runner), host.Runner, log)
			if !d.config.Storage.Sudo {
				provisioner = provisioner.WithoutSudo()
			}
			cfg.Provisioner = provisioner
		}
		reconciler := engine.NewQuotaReconciler(cfg)

		for _, alloc := range allocs {
			if err := ctx.Err(); err != nil {
				return err
			}
			entity := strconv.FormatInt(alloc.ID, 10)
			group, _ := alloc.Attribute(d.config.Attributes.Group)
			if opts.Group != "" && group != opts.Group {
				continue
			}
			if group != "" {
				ok, err := d.include(ctx, engine.EntityAllocation, group)
				if err != nil {
					return err
				}
				if !ok {
					log.Debug().Str("entity", entity).Str("group", group).Msg("allocation excluded by filter")
					continue
				}
			}

			outcome := d.reconcile(ctx, engine.EntityAllocation, entity, func(ctx context.Context) engine.Outcome {
				return reconciler.Reconcile(ctx, alloc)
			})
			if err := emit(outcome); err != nil {
				return err
			}
		}
		log.Debug().Int("filesystems", snapshots.Len()).Msg("quota snapshots taken")
		return nil
	})
}
