package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		benign    bool
		fatal     bool
		lookup    bool
		wantKind  ErrorKind
		wantMatch error
	}{
		{
			name:      "already member",
			err:       NewError(ErrorKindAlreadyMember, "add_member", nil).WithTarget("proj1"),
			benign:    true,
			wantKind:  ErrorKindAlreadyMember,
			wantMatch: ErrAlreadyMember,
		},
		{
			name:      "not member wrapped",
			err:       fmt.Errorf("remove: %w", NewError(ErrorKindNotMember, "remove_member", nil)),
			benign:    true,
			wantKind:  ErrorKindNotMember,
			wantMatch: ErrNotMember,
		},
		{
			name:      "fatal bind",
			err:       NewFatalError("bind", errors.New("invalid credentials")),
			fatal:     true,
			wantKind:  ErrorKindFatal,
			wantMatch: ErrFatal,
		},
		{
			name:      "lookup",
			err:       NewLookupError("groups_of_user", "carol", errors.New("no such user")),
			lookup:    true,
			wantKind:  ErrorKindLookup,
			wantMatch: ErrLookup,
		},
		{
			name: "plain",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBenign(tt.err); got != tt.benign {
				t.Errorf("IsBenign() = %v, want %v", got, tt.benign)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsLookupFailure(tt.err); got != tt.lookup {
				t.Errorf("IsLookupFailure() = %v, want %v", got, tt.lookup)
			}
			if got := KindOf(tt.err); got != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q", got, tt.wantKind)
			}
			if tt.wantMatch != nil && !errors.Is(tt.err, tt.wantMatch) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.wantMatch)
			}
		})
	}
}

func TestSyncErrorMessage(t *testing.T) {
	err := NewError(ErrorKindCommand, "set_quota", errors.New("exit status 2")).
		WithEntity("12").
		WithTarget("projx")
	want := "[command] set_quota entity=12 target=projx: exit status 2"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, &SyncError{Kind: ErrorKindCommand, Op: "set_quota"}) {
		t.Error("errors.Is with matching op = false")
	}
	if errors.Is(err, &SyncError{Kind: ErrorKindCommand, Op: "add_member"}) {
		t.Error("errors.Is with different op = true")
	}
}
