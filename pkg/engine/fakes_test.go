package engine

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/stretchr/testify/mock"
)

// fakeDirectory is an in-memory Directory keyed by group.
type fakeDirectory struct {
	groups  map[string][]string
	emails  map[string]string
	missing map[string]bool
	failOn  map[string]error

	calls []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		groups:  make(map[string][]string),
		emails:  make(map[string]string),
		missing: make(map[string]bool),
		failOn:  make(map[string]error),
	}
}

func (d *fakeDirectory) member(group, username string) {
	d.groups[group] = append(d.groups[group], username)
}

func (d *fakeDirectory) GroupsOfUser(ctx context.Context, username string) ([]string, error) {
	d.calls = append(d.calls, "groups:"+username)
	if d.missing[username] {
		return nil, NewLookupError("groups_of_user", username, errors.New("no such user"))
	}
	if err := d.failOn["groups"]; err != nil {
		return nil, err
	}
	var out []string
	for g, members := range d.groups {
		if slices.Contains(members, username) {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (d *fakeDirectory) AddMember(ctx context.Context, group, username string) error {
	d.calls = append(d.calls, "add:"+group+":"+username)
	if err := d.failOn["add:"+group]; err != nil {
		return err
	}
	if slices.Contains(d.groups[group], username) {
		return NewError(ErrorKindAlreadyMember, "add_member", nil).WithEntity(username).WithTarget(group)
	}
	d.member(group, username)
	return nil
}

func (d *fakeDirectory) RemoveMember(ctx context.Context, group, username string) error {
	d.calls = append(d.calls, "remove:"+group+":"+username)
	members, ok := d.groups[group]
	if !ok {
		return nil
	}
	i := slices.Index(members, username)
	if i < 0 {
		return NewError(ErrorKindNotMember, "remove_member", nil).WithEntity(username).WithTarget(group)
	}
	d.groups[group] = slices.Delete(members, i, i+1)
	return nil
}

func (d *fakeDirectory) UserEmail(ctx context.Context, username string) (string, error) {
	d.calls = append(d.calls, "email:"+username)
	return d.emails[username], nil
}

// mutations returns the recorded add and remove calls.
func (d *fakeDirectory) mutations() []string {
	var out []string
	for _, c := range d.calls {
		if strings.HasPrefix(c, "add:") || strings.HasPrefix(c, "remove:") {
			out = append(out, c)
		}
	}
	return out
}

// fakeRecords is an in-memory SystemOfRecord.
type fakeRecords struct {
	users       []User
	memberships map[int64][]Membership
	allocations []Allocation

	active   map[int64]bool
	emails   map[int64]string
	usages   map[int64]map[string]float64
	usageErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		memberships: make(map[int64][]Membership),
		active:      make(map[int64]bool),
		emails:      make(map[int64]string),
		usages:      make(map[int64]map[string]float64),
	}
}

func (r *fakeRecords) ListUsers(ctx context.Context) ([]User, error) {
	return r.users, nil
}

func (r *fakeRecords) UserMemberships(ctx context.Context, userID int64, attribute string) ([]Membership, error) {
	return r.memberships[userID], nil
}

func (r *fakeRecords) ActiveAllocations(ctx context.Context, resourceName string) ([]Allocation, error) {
	return r.allocations, nil
}

func (r *fakeRecords) SetUserActive(ctx context.Context, userID int64, active bool) error {
	r.active[userID] = active
	return nil
}

func (r *fakeRecords) SetUserEmail(ctx context.Context, userID int64, email string) error {
	r.emails[userID] = email
	return nil
}

func (r *fakeRecords) SetAllocationUsage(ctx context.Context, allocationID int64, attribute string, value float64) error {
	if r.usageErr != nil {
		return r.usageErr
	}
	if r.usages[allocationID] == nil {
		r.usages[allocationID] = make(map[string]float64)
	}
	r.usages[allocationID][attribute] = value
	return nil
}

// fakeQuotas is a QuotaSource returning a fixed snapshot and counting queries.
type fakeQuotas struct {
	snapshot *QuotaSnapshot
	err      error
	queries  int
}

func (q *fakeQuotas) Snapshot(ctx context.Context, filesystem string) (*QuotaSnapshot, error) {
	q.queries++
	if q.err != nil {
		return nil, q.err
	}
	return q.snapshot, nil
}

// mockSetter is a QuotaSetter with call assertions.
type mockSetter struct {
	mock.Mock
}

func (m *mockSetter) SetQuota(ctx context.Context, filesystem, group string, gb float64) error {
	args := m.Called(ctx, filesystem, group, gb)
	return args.Error(0)
}

// fakeProvisioner reports a fixed set of missing steps.
type fakeProvisioner struct {
	missing []ActionKind
	applied []bool
}

func (p *fakeProvisioner) Ensure(ctx context.Context, filesystem, group string, apply bool) ([]Action, error) {
	p.applied = append(p.applied, apply)
	var actions []Action
	for _, k := range p.missing {
		a := Action{Kind: k, Target: filesystem + "/" + group}
		if apply {
			a.State = ActionStateApplied
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// denyKinds is an ActionGuard refusing the listed action kinds.
type denyKinds []ActionKind

func (d denyKinds) Allow(ctx context.Context, action Action) (Decision, error) {
	if slices.Contains(d, action.Kind) {
		return Decision{Allowed: false, Reasons: []string{"denied in test"}}, nil
	}
	return Decision{Allowed: true}, nil
}

// fakeUsages is a UsageSource returning a fixed map.
type fakeUsages struct {
	values map[string]float64
	err    error
}

func (u *fakeUsages) Usages(ctx context.Context) (map[string]float64, error) {
	return u.values, u.err
}

func activeAllocation(id int64, groups ...string) Allocation {
	a := Allocation{
		ID:        id,
		Status:    AllocationStatusActive,
		Resources: []Resource{{ID: 1, Name: "storage", Available: true}},
	}
	for _, g := range groups {
		a.Attributes = append(a.Attributes, Attribute{Name: DefaultGroupAttribute, Value: g})
	}
	return a
}

func membership(status MembershipStatus, alloc Allocation) Membership {
	return Membership{Status: status, Allocation: alloc}
}
