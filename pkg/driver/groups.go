package driver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
)

// LDAPCheck compares the directory group membership of every portal user with
// the groups of their allocations and, in sync mode, corrects the directory.
func (d *Driver) LDAPCheck(ctx context.Context, opts Options) (*engine.RunSummary, error) {
	return d.run(ctx, JobLDAPCheck, opts, engine.GroupHeader, func(ctx context.Context, log zerolog.Logger, emit emitFunc) error {
		dir, err := d.adapters.Directory(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := dir.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close directory session")
			}
		}()

		users, err := d.records.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		resolver := engine.NewResolver(d.config.Attributes.Group, log)
		reconciler := engine.NewGroupReconciler(engine.GroupReconcilerConfig{
			Directory:     dir,
			Records:       d.records,
			Guard:         d.guard,
			Mode:          opts.Mode,
			DisabledGroup: d.config.LDAP.DisabledGroup,
			Logger:        log,
		})

		for _, user := range users {
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.Username != "" && user.Username != opts.Username {
				continue
			}
			ok, err := d.include(ctx, engine.EntityUser, user.Username)
			if err != nil {
				return err
			}
			if !ok {
				log.Debug().Str("entity", user.Username).Msg("user excluded by filter")
				continue
			}

			memberships, err := d.records.UserMemberships(ctx, user.ID, d.config.Attributes.Group)
			if err != nil {
				log.Error().Err(err).Str("entity", user.Username).Msg("failed to read memberships")
				outcome := failed(engine.EntityUser, user.Username, err)
				outcome.Row = engine.GroupRow{
					Username:        user.Username,
					DirectoryStatus: engine.DirectoryStatusUnknown,
					LocalStatus:     engine.LocalStatus(user.Active),
				}
				if err := emit(outcome); err != nil {
					return err
				}
				continue
			}

			desired := resolver.Resolve(memberships, opts.Group)
			outcome := d.reconcile(ctx, engine.EntityUser, user.Username, func(ctx context.Context) engine.Outcome {
				return reconciler.Reconcile(ctx, user, desired)
			})
			if err := emit(outcome); err != nil {
				return err
			}
		}
		return nil
	})
}
