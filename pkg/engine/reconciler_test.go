package engine

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newAliceScenario() (*fakeDirectory, *fakeRecords, User, DesiredState) {
	dir := newFakeDirectory()
	dir.member("proj2", "alice")

	records := newFakeRecords()
	alice := User{ID: 1, Username: "alice", Active: true}

	resolver := NewResolver(DefaultGroupAttribute, zerolog.Nop())
	desired := resolver.Resolve([]Membership{
		membership(MembershipStatusActive, activeAllocation(1, "proj1")),
		membership(MembershipStatusActive, allocationWithStatus(2, AllocationStatusArchived, "proj2")),
	}, "")
	return dir, records, alice, desired
}

func TestGroupReconcilerAliceScenario(t *testing.T) {
	dir, records, alice, desired := newAliceScenario()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   records,
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), alice, desired)
	if outcome.Result != OutcomeSuccess {
		t.Fatalf("Result = %s, err = %v", outcome.Result, outcome.Err)
	}

	want := []string{"add:proj1:alice", "remove:proj2:alice"}
	if got := dir.mutations(); !slices.Equal(got, want) {
		t.Errorf("mutations = %v, want %v", got, want)
	}

	var buf bytes.Buffer
	if err := NewRowWriter(&buf).Write(outcome.Row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := buf.String(); got != "alice\tproj1\tproj2\tEnabled\tActive\n" {
		t.Errorf("row = %q", got)
	}
}

func TestGroupReconcilerSkipsEmptyDesiredState(t *testing.T) {
	dir := newFakeDirectory()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   newFakeRecords(),
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), User{ID: 7, Username: "bob"}, DesiredState{})
	if outcome.Result != OutcomeSkip {
		t.Errorf("Result = %s, want skip", outcome.Result)
	}
	if outcome.Row != nil {
		t.Errorf("Row = %v, want nil", outcome.Row)
	}
	if len(dir.calls) != 0 {
		t.Errorf("directory calls = %v, want none", dir.calls)
	}
}

func TestGroupReconcilerNoopReportsSameRow(t *testing.T) {
	rows := make(map[bool]string)
	for _, noop := range []bool{false, true} {
		dir, records, alice, desired := newAliceScenario()
		r := NewGroupReconciler(GroupReconcilerConfig{
			Directory: dir,
			Records:   records,
			Mode:      Mode{Sync: true, Noop: noop},
			Logger:    zerolog.Nop(),
		})
		outcome := r.Reconcile(context.Background(), alice, desired)
		rows[noop] = strings.Join(outcome.Row.Fields(), "\t")

		if noop {
			if m := dir.mutations(); len(m) != 0 {
				t.Errorf("noop mutations = %v, want none", m)
			}
			for _, a := range outcome.Actions {
				if a.State != ActionStateSuppressed {
					t.Errorf("action %s state = %s, want suppressed", a.Kind, a.State)
				}
			}
		}
	}
	if rows[true] != rows[false] {
		t.Errorf("noop row %q differs from sync row %q", rows[true], rows[false])
	}
}

func TestGroupReconcilerReportOnly(t *testing.T) {
	dir, records, alice, desired := newAliceScenario()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   records,
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), alice, desired)
	if m := dir.mutations(); len(m) != 0 {
		t.Errorf("mutations = %v, want none", m)
	}
	if len(outcome.Actions) != 2 {
		t.Fatalf("len(Actions) = %d, want 2", len(outcome.Actions))
	}
	for _, a := range outcome.Actions {
		if a.State != ActionStatePlanned {
			t.Errorf("action %s state = %s, want planned", a.Kind, a.State)
		}
	}
}

func TestGroupReconcilerIdempotent(t *testing.T) {
	dir, records, alice, desired := newAliceScenario()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   records,
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	r.Reconcile(context.Background(), alice, desired)
	dir.calls = nil

	second := r.Reconcile(context.Background(), alice, desired)
	if m := dir.mutations(); len(m) != 0 {
		t.Errorf("second run mutations = %v, want none", m)
	}
	for _, a := range second.Actions {
		if a.Kind == ActionAddMember || a.Kind == ActionRemoveMember {
			t.Errorf("second run produced %s %s", a.Kind, a.Target)
		}
	}
}

func TestGroupReconcilerLookupFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.missing["carol"] = true
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   newFakeRecords(),
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), User{ID: 3, Username: "carol", Active: true},
		DesiredState{Active: []string{"proj1"}})
	if outcome.Result != OutcomeFail {
		t.Errorf("Result = %s, want fail", outcome.Result)
	}
	if !errors.Is(outcome.Err, ErrLookup) {
		t.Errorf("Err = %v, want lookup failure", outcome.Err)
	}
	row, ok := outcome.Row.(GroupRow)
	if !ok {
		t.Fatalf("Row = %T, want GroupRow", outcome.Row)
	}
	if row.DirectoryStatus != DirectoryStatusNotFound {
		t.Errorf("DirectoryStatus = %s, want NotFound", row.DirectoryStatus)
	}
	if m := dir.mutations(); len(m) != 0 {
		t.Errorf("mutations = %v, want none", m)
	}
}

func TestGroupReconcilerUnknownStatus(t *testing.T) {
	dir := newFakeDirectory()
	dir.failOn["groups"] = errors.New("server down")
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   newFakeRecords(),
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), User{ID: 3, Username: "carol"},
		DesiredState{Active: []string{"proj1"}})
	row := outcome.Row.(GroupRow)
	if row.DirectoryStatus != DirectoryStatusUnknown {
		t.Errorf("DirectoryStatus = %s, want Unknown", row.DirectoryStatus)
	}
	if row.LocalStatus != "Inactive" {
		t.Errorf("LocalStatus = %s, want Inactive", row.LocalStatus)
	}
}

func TestGroupReconcilerBenignErrors(t *testing.T) {
	dir := newFakeDirectory()
	dir.failOn["add:proj1"] = NewError(ErrorKindAlreadyMember, "add_member", nil)
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   newFakeRecords(),
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), User{ID: 1, Username: "alice", Active: true},
		DesiredState{Active: []string{"proj1"}})
	if outcome.Result != OutcomeSuccess {
		t.Errorf("Result = %s, want success (err = %v)", outcome.Result, outcome.Err)
	}
	if outcome.Actions[0].State != ActionStateSatisfied {
		t.Errorf("State = %s, want satisfied", outcome.Actions[0].State)
	}
}

func TestGroupReconcilerCommandFailureContinues(t *testing.T) {
	dir := newFakeDirectory()
	dir.member("old", "alice")
	dir.failOn["add:proj1"] = errors.New("insufficient access")
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   newFakeRecords(),
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), User{ID: 1, Username: "alice", Active: true},
		DesiredState{Active: []string{"proj1"}, Remove: []string{"old"}})
	if outcome.Result != OutcomeFail {
		t.Errorf("Result = %s, want fail", outcome.Result)
	}
	want := []string{"add:proj1:alice", "remove:old:alice"}
	if got := dir.mutations(); !slices.Equal(got, want) {
		t.Errorf("mutations = %v, want %v", got, want)
	}
	if outcome.Row == nil {
		t.Error("Row = nil, want row emitted after failure")
	}
}

func TestGroupReconcilerStatusCrossCheck(t *testing.T) {
	tests := []struct {
		name       string
		disabled   bool
		active     bool
		mode       Mode
		wantWrite  bool
		wantActive bool
		wantLocal  string
	}{
		{"disabled user deactivated", true, true, Mode{Sync: true}, true, false, "Inactive"},
		{"enabled user activated", false, false, Mode{Sync: true}, true, true, "Active"},
		{"no write in report mode", true, true, Mode{}, false, false, "Active"},
		{"no write in noop mode", true, true, Mode{Sync: true, Noop: true}, false, false, "Active"},
		{"consistent user untouched", false, true, Mode{Sync: true}, false, false, "Active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			dir.member("proj1", "dave")
			if tt.disabled {
				dir.member(DefaultDisabledGroup, "dave")
			}
			records := newFakeRecords()
			r := NewGroupReconciler(GroupReconcilerConfig{
				Directory: dir,
				Records:   records,
				Mode:      tt.mode,
				Logger:    zerolog.Nop(),
			})

			outcome := r.Reconcile(context.Background(), User{ID: 4, Username: "dave", Active: tt.active},
				DesiredState{Active: []string{"proj1"}})

			got, written := records.active[4]
			if written != tt.wantWrite {
				t.Fatalf("status written = %v, want %v", written, tt.wantWrite)
			}
			if written && got != tt.wantActive {
				t.Errorf("active = %v, want %v", got, tt.wantActive)
			}
			if row := outcome.Row.(GroupRow); row.LocalStatus != tt.wantLocal {
				t.Errorf("LocalStatus = %s, want %s", row.LocalStatus, tt.wantLocal)
			}
		})
	}
}

func TestGroupReconcilerEmailRefresh(t *testing.T) {
	dir := newFakeDirectory()
	dir.member("proj1", "erin")
	dir.emails["erin"] = "erin@example.org"
	records := newFakeRecords()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   records,
		Logger:    zerolog.Nop(),
	})

	r.Reconcile(context.Background(), User{ID: 5, Username: "erin", Email: "old@example.org", Active: true},
		DesiredState{Active: []string{"proj1"}})
	if got := records.emails[5]; got != "erin@example.org" {
		t.Errorf("email = %q, want erin@example.org", got)
	}

	records.emails = make(map[int64]string)
	r.Reconcile(context.Background(), User{ID: 5, Username: "erin", Email: "erin@example.org", Active: true},
		DesiredState{Active: []string{"proj1"}})
	if _, ok := records.emails[5]; ok {
		t.Error("unchanged e-mail was written")
	}
}

func TestGroupReconcilerGuardDenies(t *testing.T) {
	dir, records, alice, desired := newAliceScenario()
	r := NewGroupReconciler(GroupReconcilerConfig{
		Directory: dir,
		Records:   records,
		Guard:     denyKinds{ActionRemoveMember},
		Mode:      Mode{Sync: true},
		Logger:    zerolog.Nop(),
	})

	outcome := r.Reconcile(context.Background(), alice, desired)
	want := []string{"add:proj1:alice"}
	if got := dir.mutations(); !slices.Equal(got, want) {
		t.Errorf("mutations = %v, want %v", got, want)
	}
	if outcome.Result != OutcomeSuccess {
		t.Errorf("Result = %s, want success", outcome.Result)
	}
	summary := NewRunSummary()
	summary.Add(outcome)
	if n := summary.Count(ActionRemoveMember, ActionStateDenied); n != 1 {
		t.Errorf("denied removals = %d, want 1", n)
	}
}
