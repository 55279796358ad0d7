package engine

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
)

// Default attribute names of the compute usage path.
const (
	DefaultAccountAttribute = "slurm_account_name"
	DefaultUsageAttribute   = "Core Usage (Hours)"
)

// UsageReconciler copies observed compute usage into the system of record.
type UsageReconciler struct {
	usages           UsageSource
	records          SystemOfRecord
	accountAttribute string
	usageAttribute   string
	logger           zerolog.Logger
}

// UsageReconcilerConfig holds the collaborators and attribute names of a UsageReconciler.
type UsageReconcilerConfig struct {
	Usages           UsageSource
	Records          SystemOfRecord
	AccountAttribute string
	UsageAttribute   string
	Logger           zerolog.Logger
}

// NewUsageReconciler creates a usage reconciler, filling unset names with defaults.
func NewUsageReconciler(cfg UsageReconcilerConfig) *UsageReconciler {
	if cfg.AccountAttribute == "" {
		cfg.AccountAttribute = DefaultAccountAttribute
	}
	if cfg.UsageAttribute == "" {
		cfg.UsageAttribute = DefaultUsageAttribute
	}
	return &UsageReconciler{
		usages:           cfg.Usages,
		records:          cfg.Records,
		accountAttribute: cfg.AccountAttribute,
		usageAttribute:   cfg.UsageAttribute,
		logger:           cfg.Logger.With().Str("component", "usage-reconciler").Logger(),
	}
}

// Reconcile stores the rounded usage of the allocation's account when observed.
// Allocations without an account attribute are skipped. Usage writes are reporting,
// not corrective actions, so they ignore the run mode.
func (r *UsageReconciler) Reconcile(ctx context.Context, alloc Allocation) Outcome {
	entity := strconv.FormatInt(alloc.ID, 10)
	log := r.logger.With().Str("entity", entity).Logger()

	account, ok := alloc.Attribute(r.accountAttribute)
	if !ok || account == "" {
		log.Warn().Msg("skipping allocation without account name")
		return Skipped(EntityAllocation, entity)
	}

	outcome := Outcome{Kind: EntityAllocation, Entity: entity, Result: OutcomeSuccess}
	row := UsageRow{AllocationID: alloc.ID, Account: account}

	usages, err := r.usages.Usages(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to query usage tool")
		outcome.fail(err)
		outcome.Row = row
		return outcome
	}

	usage, ok := usages[account]
	if !ok {
		log.Debug().Str("account", account).Msg("no usage observed")
		outcome.Row = row
		return outcome
	}
	usage = Round2(usage)
	row.Usage = &usage
	outcome.Row = row

	log.Info().Str("account", account).Float64("usage", usage).Msg("setting usage")
	if err := r.records.SetAllocationUsage(ctx, alloc.ID, r.usageAttribute, usage); err != nil {
		log.Error().Err(err).Msg("failed to store usage")
		outcome.fail(NewError(ErrorKindRecord, "set_usage", err).WithEntity(entity).WithTarget(account))
	}
	return outcome
}
