package driver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
	"github.com/hpcops/allocsync/pkg/usage"
)

// SlurmUsage copies the core hours reported by the usage tool into the usage
// attribute of every active allocation on the cluster resource.
func (d *Driver) SlurmUsage(ctx context.Context, opts Options) (*engine.RunSummary, error) {
	return d.run(ctx, JobSlurmUsage, opts, engine.UsageHeader, func(ctx context.Context, log zerolog.Logger, emit emitFunc) error {
		r, err := d.adapters.Usage(ctx)
		if err != nil {
			return err
		}

		allocs, err := d.records.ActiveAllocations(ctx, d.config.Usage.Resource)
		if err != nil {
			return fmt.Errorf("failed to list allocations of %s: %w", d.config.Usage.Resource, err)
		}
		log.Info().Int("allocations", len(allocs)).Str("resource", d.config.Usage.Resource).Msg("checking usage")

		reconciler := engine.NewUsageReconciler(engine.UsageReconcilerConfig{
			Usages:           usage.NewTool(r, d.config.Usage.Binary, log),
			Records:          d.records,
			AccountAttribute: d.config.Attributes.Account,
			UsageAttribute:   d.config.Attributes.Usage,
			Logger:           log,
		})

		for _, alloc := range allocs {
			if err := ctx.Err(); err != nil {
				return err
			}
			entity := strconv.FormatInt(alloc.ID, 10)
			account, _ := alloc.Attribute(d.config.Attributes.Account)
			if opts.Group != "" && account != opts.Group {
				continue
			}
			if account != "" {
				ok, err := d.include(ctx, engine.EntityAllocation, account)
				if err != nil {
					return err
				}
				if !ok {
					log.Debug().Str("entity", entity).Str("account", account).Msg("allocation excluded by filter")
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
		return nil
	})
}
