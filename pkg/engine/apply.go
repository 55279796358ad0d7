package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// applier gates corrective actions on the run mode and the action guard.
type applier struct {
	mode   Mode
	guard  ActionGuard
	logger zerolog.Logger
}

// allow returns the pending state when the mode does not apply actions,
// ActionStateDenied when the guard refuses, and "" when the action may proceed.
func (a applier) allow(ctx context.Context, outcome *Outcome, action *Action) ActionState {
	if !a.mode.Apply() {
		return a.mode.pendingState()
	}

	decision, err := a.guard.Allow(ctx, *action)
	if err != nil {
		action.Error = err.Error()
		a.logger.Error().Err(err).
			Str("entity", action.Entity).
			Str("action", string(action.Kind)).
			Msg("policy evaluation failed")
		outcome.fail(err)
		return ActionStateFailed
	}
	if !decision.Allowed {
		a.logger.Warn().
			Str("entity", action.Entity).
			Str("action", string(action.Kind)).
			Str("target", action.Target).
			Strs("reasons", decision.Reasons).
			Msg("action denied by policy")
		return ActionStateDenied
	}
	return ""
}

// apply runs fn for action when allowed and appends the action, with its final
// state, to outcome. Benign errors leave the outcome untouched.
func (a applier) apply(ctx context.Context, outcome *Outcome, action *Action, fn func() error) {
	defer func() { outcome.Actions = append(outcome.Actions, *action) }()

	if state := a.allow(ctx, outcome, action); state != "" {
		action.State = state
		return
	}

	log := a.logger.With().
		Str("entity", action.Entity).
		Str("action", string(action.Kind)).
		Str("target", action.Target).
		Logger()

	err := fn()
	switch {
	case err == nil:
		action.State = ActionStateApplied
		log.Info().Str("value", action.Value).Msg("action applied")
	case IsBenign(err):
		action.State = ActionStateSatisfied
		log.Warn().Err(err).Msg("action already satisfied")
	default:
		action.State = ActionStateFailed
		action.Error = err.Error()
		log.Error().Err(err).Msg("action failed")
		outcome.fail(err)
	}
}
