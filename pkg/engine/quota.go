package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Default attribute names and values of the quota path.
const (
	DefaultGroupAttribute      = "Storage_Group_Name"
	DefaultQuotaAttribute      = "Storage Quota (GB)"
	DefaultFilesystemAttribute = "Storage filesystem"
	DefaultQuotaGB             = 100.0
)

// QuotaReconciler converges the storage quota and directory of an allocation.
type QuotaReconciler struct {
	applier
	quotas      QuotaSource
	setter      QuotaSetter
	provisioner StorageProvisioner
	records     SystemOfRecord

	groupAttribute      string
	quotaAttribute      string
	filesystemAttribute string
	defaultQuota        float64

	logger zerolog.Logger
}

// QuotaReconcilerConfig holds the collaborators and attribute names of a QuotaReconciler.
type QuotaReconcilerConfig struct {
	Quotas  QuotaSource
	Setter  QuotaSetter
	Records SystemOfRecord

	// Provisioner prepares the group storage directory. Optional.
	Provisioner StorageProvisioner

	// Guard vets actions before they are applied. Defaults to AllowAll.
	Guard ActionGuard

	Mode Mode

	GroupAttribute      string
	QuotaAttribute      string
	FilesystemAttribute string

	// DefaultQuota is used when the allocation has no quota attribute.
	DefaultQuota float64

	Logger zerolog.Logger
}

// NewQuotaReconciler creates a quota reconciler, filling unset names with defaults.
func NewQuotaReconciler(cfg QuotaReconcilerConfig) *QuotaReconciler {
	if cfg.Guard == nil {
		cfg.Guard = AllowAll{}
	}
	if cfg.GroupAttribute == "" {
		cfg.GroupAttribute = DefaultGroupAttribute
	}
	if cfg.QuotaAttribute == "" {
		cfg.QuotaAttribute = DefaultQuotaAttribute
	}
	if cfg.FilesystemAttribute == "" {
		cfg.FilesystemAttribute = DefaultFilesystemAttribute
	}
	if cfg.DefaultQuota <= 0 {
		cfg.DefaultQuota = DefaultQuotaGB
	}
	logger := cfg.Logger.With().Str("component", "quota-reconciler").Logger()
	return &QuotaReconciler{
		applier:             applier{mode: cfg.Mode, guard: cfg.Guard, logger: logger},
		quotas:              cfg.Quotas,
		setter:              cfg.Setter,
		provisioner:         cfg.Provisioner,
		records:             cfg.Records,
		groupAttribute:      cfg.GroupAttribute,
		quotaAttribute:      cfg.QuotaAttribute,
		filesystemAttribute: cfg.FilesystemAttribute,
		defaultQuota:        cfg.DefaultQuota,
		logger:              logger,
	}
}

// Reconcile provisions the group directory, corrects the quota and stores the
// observed usage of alloc. Allocations without a group attribute are skipped.
func (r *QuotaReconciler) Reconcile(ctx context.Context, alloc Allocation) (outcome Outcome) {
	entity := strconv.FormatInt(alloc.ID, 10)
	log := r.logger.With().Str("entity", entity).Logger()

	group, ok := alloc.Attribute(r.groupAttribute)
	if !ok || group == "" {
		log.Warn().Msg("skipping allocation without storage group name")
		return Skipped(EntityAllocation, entity)
	}
	log = log.With().Str("group", group).Logger()

	outcome = Outcome{Kind: EntityAllocation, Entity: entity, Result: OutcomeSuccess}
	row := QuotaRow{AllocationID: alloc.ID, Group: group}
	defer func() { outcome.Row = row }()

	fs, err := r.filesystem(alloc)
	if err != nil {
		log.Error().Err(err).Msg("cannot determine filesystem")
		outcome.fail(NewError(ErrorKindInvalid, "filesystem", err).WithEntity(entity).WithTarget(group))
		return outcome
	}
	row.Filesystem = fs
	log = log.With().Str("filesystem", fs).Logger()

	if r.provisioner != nil {
		r.provision(ctx, &outcome, &row, fs, group)
	}

	quota, err := r.quota(alloc)
	if err != nil {
		log.Error().Err(err).Msg("invalid storage quota")
		outcome.fail(NewError(ErrorKindInvalid, "quota", err).WithEntity(entity).WithTarget(group))
		return outcome
	}
	row.Quota = quota

	snapshot, err := r.quotas.Snapshot(ctx, fs)
	if err != nil {
		log.Error().Err(err).Msg("failed to query quota tool")
		outcome.fail(err)
		return outcome
	}

	current, hasQuota := snapshot.Quota(group)
	if hasQuota {
		row.CurrentQuota = &current
	}
	if !hasQuota || current != quota {
		log.Warn().Float64("quota_gb", quota).Msg("quota differs from allocation")
		action := Action{
			Kind:   ActionSetQuota,
			Entity: entity,
			Target: group,
			Value:  strconv.FormatFloat(quota, 'f', -1, 64),
		}
		r.apply(ctx, &outcome, &action, func() error {
			return r.setter.SetQuota(ctx, fs, group, quota)
		})
		row.Actions = append(row.Actions, ActionSetQuota)
	}

	usage, hasUsage := snapshot.Usage(group)
	if !hasUsage {
		log.Debug().Msg("no usage observed")
		return outcome
	}
	usage = Round2(usage)
	row.Usage = &usage
	log.Info().Float64("usage_gb", usage).Msg("setting usage")
	if err := r.records.SetAllocationUsage(ctx, alloc.ID, r.quotaAttribute, usage); err != nil {
		log.Error().Err(err).Msg("failed to store usage")
		outcome.fail(NewError(ErrorKindRecord, "set_usage", err).WithEntity(entity).WithTarget(group))
	}
	return outcome
}

func (r *QuotaReconciler) filesystem(alloc Allocation) (string, error) {
	res, ok := alloc.FirstResource()
	if !ok {
		return "", errors.New("allocation has no resource")
	}
	fs, ok := res.Attribute(r.filesystemAttribute)
	if !ok || strings.TrimSpace(fs) == "" {
		return "", fmt.Errorf("resource %s has no %q attribute", res.Name, r.filesystemAttribute)
	}
	return strings.TrimSpace(fs), nil
}

func (r *QuotaReconciler) quota(alloc Allocation) (float64, error) {
	raw, ok := alloc.Attribute(r.quotaAttribute)
	if !ok || strings.TrimSpace(raw) == "" {
		r.logger.Warn().Int64("entity", alloc.ID).Float64("quota_gb", r.defaultQuota).Msg("allocation has no storage quota, using default")
		return r.defaultQuota, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v, nil
}

// provision brings the group directory to its required state. A single guard
// decision on create_directory covers every provisioning step.
func (r *QuotaReconciler) provision(ctx context.Context, outcome *Outcome, row *QuotaRow, fs, group string) {
	probe := Action{Kind: ActionCreateDirectory, Entity: outcome.Entity, Target: group}
	state := r.allow(ctx, outcome, &probe)
	if state == ActionStateFailed {
		return
	}

	actions, err := r.provisioner.Ensure(ctx, fs, group, state == "")
	for _, a := range actions {
		a.Entity = outcome.Entity
		if state != "" {
			a.State = state
		}
		outcome.Actions = append(outcome.Actions, a)
		row.Actions = append(row.Actions, a.Kind)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("entity", outcome.Entity).Msg("failed to provision storage directory")
		outcome.fail(err)
	}
}
