package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// DefaultDisabledGroup is the directory group that marks disabled accounts.
const DefaultDisabledGroup = "past_members"

// GroupReconciler converges the directory group membership of a user.
type GroupReconciler struct {
	applier
	directory     Directory
	records       SystemOfRecord
	disabledGroup string
	logger        zerolog.Logger
}

// GroupReconcilerConfig holds the collaborators of a GroupReconciler.
type GroupReconcilerConfig struct {
	Directory Directory
	Records   SystemOfRecord

	// Guard vets actions before they are applied. Defaults to AllowAll.
	Guard ActionGuard

	Mode Mode

	// DisabledGroup marks disabled accounts. Defaults to DefaultDisabledGroup.
	DisabledGroup string

	Logger zerolog.Logger
}

// NewGroupReconciler creates a group reconciler.
func NewGroupReconciler(cfg GroupReconcilerConfig) *GroupReconciler {
	if cfg.Guard == nil {
		cfg.Guard = AllowAll{}
	}
	if cfg.DisabledGroup == "" {
		cfg.DisabledGroup = DefaultDisabledGroup
	}
	logger := cfg.Logger.With().Str("component", "group-reconciler").Logger()
	return &GroupReconciler{
		applier:       applier{mode: cfg.Mode, guard: cfg.Guard, logger: logger},
		directory:     cfg.Directory,
		records:       cfg.Records,
		disabledGroup: cfg.DisabledGroup,
		logger:        logger,
	}
}

// Reconcile diffs desired against the directory and applies the corrections.
// Users with an empty desired state are skipped without touching the directory.
func (r *GroupReconciler) Reconcile(ctx context.Context, user User, desired DesiredState) Outcome {
	if desired.IsEmpty() {
		return Skipped(EntityUser, user.Username)
	}

	log := r.logger.With().Str("entity", user.Username).Logger()
	log.Info().
		Strs("active_groups", desired.Active).
		Strs("removed_groups", desired.Remove).
		Msg("checking user")

	outcome := Outcome{Kind: EntityUser, Entity: user.Username, Result: OutcomeSuccess}
	row := GroupRow{Username: user.Username}

	observed, err := r.directory.GroupsOfUser(ctx, user.Username)
	if err != nil {
		row.DirectoryStatus = DirectoryStatusUnknown
		if IsLookupFailure(err) {
			row.DirectoryStatus = DirectoryStatusNotFound
			log.Warn().Err(err).Msg("user not found in directory")
		} else {
			log.Error().Err(err).Msg("directory lookup failed")
		}
		row.LocalStatus = LocalStatus(user.Active)
		outcome.Row = row
		outcome.fail(err)
		return outcome
	}

	row.DirectoryStatus = DirectoryStatusEnabled
	if slices.Contains(observed, r.disabledGroup) {
		row.DirectoryStatus = DirectoryStatusDisabled
	}

	for _, g := range desired.Active {
		if slices.Contains(observed, g) {
			continue
		}
		log.Warn().Str("group", g).Msg("user should be added to directory group")
		action := Action{Kind: ActionAddMember, Entity: user.Username, Target: g}
		r.apply(ctx, &outcome, &action, func() error {
			return r.directory.AddMember(ctx, g, user.Username)
		})
		row.Added = append(row.Added, g)
	}

	for _, g := range desired.Remove {
		if !slices.Contains(observed, g) {
			continue
		}
		log.Warn().Str("group", g).Msg("user should be removed from directory group")
		action := Action{Kind: ActionRemoveMember, Entity: user.Username, Target: g}
		r.apply(ctx, &outcome, &action, func() error {
			return r.directory.RemoveMember(ctx, g, user.Username)
		})
		row.Removed = append(row.Removed, g)
	}

	user.Active = r.syncStatus(ctx, &outcome, user, row.DirectoryStatus)
	r.syncEmail(ctx, user)

	row.LocalStatus = LocalStatus(user.Active)
	outcome.Row = row
	return outcome
}

// syncStatus corrects the local activation flag toward the directory's view and
// returns the resulting flag. It only writes when the mode applies actions.
func (r *GroupReconciler) syncStatus(ctx context.Context, outcome *Outcome, user User, status DirectoryStatus) bool {
	var want bool
	switch {
	case status == DirectoryStatusDisabled && user.Active:
		r.logger.Warn().Str("entity", user.Username).Msg("user is active locally but disabled in directory")
		want = false
	case status == DirectoryStatusEnabled && !user.Active:
		r.logger.Warn().Str("entity", user.Username).Msg("user is inactive locally but enabled in directory")
		want = true
	default:
		return user.Active
	}

	action := Action{
		Kind:   ActionSetUserStatus,
		Entity: user.Username,
		Target: user.Username,
		Value:  LocalStatus(want),
	}
	r.apply(ctx, outcome, &action, func() error {
		if err := r.records.SetUserActive(ctx, user.ID, want); err != nil {
			return NewError(ErrorKindRecord, "set_user_status", err).WithEntity(user.Username)
		}
		return nil
	})
	if action.State == ActionStateApplied {
		return want
	}
	return user.Active
}

// syncEmail copies the directory e-mail address to the local user when it differs.
// Failures are logged and do not fail the entity.
func (r *GroupReconciler) syncEmail(ctx context.Context, user User) {
	email, err := r.directory.UserEmail(ctx, user.Username)
	if err != nil {
		r.logger.Error().Err(err).Str("entity", user.Username).Msg("failed to read user e-mail")
		return
	}
	if email == "" || email == user.Email {
		return
	}
	if err := r.records.SetUserEmail(ctx, user.ID, email); err != nil {
		r.logger.Error().Err(fmt.Errorf("set e-mail: %w", err)).Str("entity", user.Username).Msg("failed to update user e-mail")
	}
}
