package engine

// AllocationStatus is the status of an allocation in the system of record.
type AllocationStatus string

const (
	// AllocationStatusNew is a requested allocation awaiting approval.
	AllocationStatusNew AllocationStatus = "New"

	// AllocationStatusActive is an approved, current allocation.
	AllocationStatusActive AllocationStatus = "Active"

	// AllocationStatusRenewalRequested is an allocation whose renewal is pending.
	AllocationStatusRenewalRequested AllocationStatus = "Renewal Requested"

	// AllocationStatusArchived is an allocation no longer in use.
	AllocationStatusArchived AllocationStatus = "Archived"

	// AllocationStatusExpired is an allocation past its end date.
	AllocationStatusExpired AllocationStatus = "Expired"

	// AllocationStatusDenied is a rejected request.
	AllocationStatusDenied AllocationStatus = "Denied"

	// AllocationStatusRevoked is an allocation withdrawn by an administrator.
	AllocationStatusRevoked AllocationStatus = "Revoked"
)

// IsActive returns true for Active allocations.
func (s AllocationStatus) IsActive() bool {
	return s == AllocationStatusActive
}

// IsPending returns true for statuses that must never trigger destructive action.
func (s AllocationStatus) IsPending() bool {
	return s == AllocationStatusNew || s == AllocationStatusRenewalRequested
}

// MembershipStatus is the status of a user on an allocation.
type MembershipStatus string

const (
	// MembershipStatusActive is a current member.
	MembershipStatusActive MembershipStatus = "Active"

	// MembershipStatusRemoved is a member taken off the allocation.
	MembershipStatusRemoved MembershipStatus = "Removed"

	// MembershipStatusError is a member whose provisioning failed.
	MembershipStatusError MembershipStatus = "Error"
)

// IsActive returns true for Active memberships.
func (s MembershipStatus) IsActive() bool {
	return s == MembershipStatusActive
}

// DirectoryStatus is the account status of a user as seen by the directory.
type DirectoryStatus string

const (
	// DirectoryStatusEnabled is a user present and not in the disabled-users group.
	DirectoryStatusEnabled DirectoryStatus = "Enabled"

	// DirectoryStatusDisabled is a user that belongs to the disabled-users group.
	DirectoryStatusDisabled DirectoryStatus = "Disabled"

	// DirectoryStatusNotFound is a user missing from the directory.
	DirectoryStatusNotFound DirectoryStatus = "NotFound"

	// DirectoryStatusUnknown is a user whose lookup failed for another reason.
	DirectoryStatusUnknown DirectoryStatus = "Unknown"
)

// LocalStatus renders the activation flag of a user in the system of record.
func LocalStatus(active bool) string {
	if active {
		return "Active"
	}
	return "Inactive"
}

// ActionKind is the kind of corrective action.
type ActionKind string

const (
	// ActionAddMember adds a user to a directory group.
	ActionAddMember ActionKind = "add_member"

	// ActionRemoveMember removes a user from a directory group.
	ActionRemoveMember ActionKind = "remove_member"

	// ActionSetUserStatus changes the local activation flag of a user.
	ActionSetUserStatus ActionKind = "set_user_status"

	// ActionSetQuota sets a group quota on a filesystem.
	ActionSetQuota ActionKind = "set_quota"

	// ActionCreateDirectory creates a group storage directory.
	ActionCreateDirectory ActionKind = "create_directory"

	// ActionChangeGroup changes the owning group of a storage directory.
	ActionChangeGroup ActionKind = "change_group"

	// ActionChangeMode changes the permission bits of a storage directory.
	ActionChangeMode ActionKind = "change_mode"
)

// IsDestructive returns true for actions that take access away.
func (k ActionKind) IsDestructive() bool {
	return k == ActionRemoveMember
}

// ActionState is what happened to a planned action.
type ActionState string

const (
	// ActionStatePlanned is an action computed in report-only mode.
	ActionStatePlanned ActionState = "planned"

	// ActionStateSuppressed is an action skipped because noop is set.
	ActionStateSuppressed ActionState = "suppressed"

	// ActionStateApplied is an action that succeeded.
	ActionStateApplied ActionState = "applied"

	// ActionStateSatisfied is an action the external system reported as already done.
	ActionStateSatisfied ActionState = "satisfied"

	// ActionStateDenied is an action refused by policy.
	ActionStateDenied ActionState = "denied"

	// ActionStateFailed is an action that returned an error.
	ActionStateFailed ActionState = "failed"
)

// OutcomeKind is the result of reconciling one entity.
type OutcomeKind string

const (
	// OutcomeSuccess is an entity processed without failures.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeSkip is an entity with nothing to reconcile.
	OutcomeSkip OutcomeKind = "skip"

	// OutcomeFail is an entity with at least one failed step.
	OutcomeFail OutcomeKind = "fail"
)
