package engine

import "context"

// SystemOfRecord is the allocation database the engine reads desired state from.
// It is written to only for activation flags, e-mail addresses and usage values.
type SystemOfRecord interface {
	// ListUsers returns every portal user in enumeration order.
	ListUsers(ctx context.Context) ([]User, error)

	// UserMemberships returns the user's allocation memberships whose allocation
	// carries at least one value for attribute.
	UserMemberships(ctx context.Context, userID int64, attribute string) ([]Membership, error)

	// ActiveAllocations returns the Active allocations attached to the named resource.
	ActiveAllocations(ctx context.Context, resourceName string) ([]Allocation, error)

	// SetUserActive updates the activation flag of a user.
	SetUserActive(ctx context.Context, userID int64, active bool) error

	// SetUserEmail updates the e-mail address of a user.
	SetUserEmail(ctx context.Context, userID int64, email string) error

	// SetAllocationUsage stores the usage value of the named allocation attribute.
	SetAllocationUsage(ctx context.Context, allocationID int64, attribute string, value float64) error
}

// Directory is the directory service holding Unix group membership.
type Directory interface {
	// GroupsOfUser returns the groups listing username as a member.
	// It fails with a lookup error when the user does not exist upstream.
	GroupsOfUser(ctx context.Context, username string) ([]string, error)

	// AddMember adds username to group, creating the group when missing.
	// It fails with ErrAlreadyMember when username is already listed.
	AddMember(ctx context.Context, group, username string) error

	// RemoveMember removes username from group. A missing group is not an error.
	// It fails with ErrNotMember when username is not listed.
	RemoveMember(ctx context.Context, group, username string) error

	// UserEmail returns the e-mail address stored for username.
	UserEmail(ctx context.Context, username string) (string, error)
}

// QuotaSnapshot is the observed quota state of one filesystem.
type QuotaSnapshot struct {
	// Quotas maps group to quota in GB. Groups without a quota are absent.
	Quotas map[string]float64

	// Usages maps group to usage in GB.
	Usages map[string]float64
}

// Quota returns the observed quota of group.
func (s *QuotaSnapshot) Quota(group string) (float64, bool) {
	v, ok := s.Quotas[group]
	return v, ok
}

// Usage returns the observed usage of group.
func (s *QuotaSnapshot) Usage(group string) (float64, bool) {
	v, ok := s.Usages[group]
	return v, ok
}

// QuotaSource returns the observed quota state of a filesystem.
type QuotaSource interface {
	Snapshot(ctx context.Context, filesystem string) (*QuotaSnapshot, error)
}

// QuotaSetter sets a group quota. The call is not verified afterwards.
type QuotaSetter interface {
	SetQuota(ctx context.Context, filesystem, group string, gb float64) error
}

// UsageSource returns observed usage keyed by account name.
type UsageSource interface {
	Usages(ctx context.Context) (map[string]float64, error)
}

// StorageProvisioner makes the storage directory of a group match its required state.
// It returns the actions it found necessary; when apply is false nothing is changed.
type StorageProvisioner interface {
	Ensure(ctx context.Context, filesystem, group string, apply bool) ([]Action, error)
}

// Decision is the verdict of an ActionGuard.
type Decision struct {
	Allowed bool
	Reasons []string
}

// ActionGuard vets a corrective action before it is applied.
type ActionGuard interface {
	Allow(ctx context.Context, action Action) (Decision, error)
}

// EntityFilter narrows the entities a run processes.
type EntityFilter interface {
	Include(ctx context.Context, kind EntityKind, name string) (bool, error)
}

// AllowAll is an ActionGuard that allows every action.
type AllowAll struct{}

// Allow implements ActionGuard.
func (AllowAll) Allow(context.Context, Action) (Decision, error) {
	return Decision{Allowed: true}, nil
}
