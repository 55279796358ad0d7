package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

type pipeWriter struct {
	err    error
	writes int
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, w.err
}

func TestRowWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRowWriter(&buf)

	if err := w.WriteHeader(GroupHeader); err != nil {
		t.Fatalf("WriteHeader() error = %v", err)
	}
	row := GroupRow{
		Username:        "alice",
		Added:           []string{"proj1", "proj3"},
		DirectoryStatus: DirectoryStatusEnabled,
		LocalStatus:     LocalStatus(true),
	}
	if err := w.Write(row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Fatalf("Write(nil) error = %v", err)
	}

	want := "username\tadd_missing_group_membership\tremove_existing_group_membership\tldap_status\tcoldfront_status\n" +
		"alice\tproj1,proj3\t\tEnabled\tActive\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRowWriterSeparatorsInFields(t *testing.T) {
	var buf bytes.Buffer
	w := NewRowWriter(&buf)

	row := UsageRow{AllocationID: 7, Account: "proj\t7\nextra\r\nline"}
	if err := w.Write(row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := "7\tproj 7 extra line\t\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRowWriterBrokenPipe(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"epipe", fmt.Errorf("write /dev/stdout: %w", syscall.EPIPE)},
		{"closed pipe", io.ErrClosedPipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pw := &pipeWriter{err: tt.err}
			w := NewRowWriter(pw)

			if err := w.Write(UsageRow{AllocationID: 1}); !errors.Is(err, ErrBrokenPipe) {
				t.Fatalf("Write() error = %v, want ErrBrokenPipe", err)
			}
			if !w.Broken() {
				t.Error("Broken() = false after EPIPE")
			}
			if err := w.Write(UsageRow{AllocationID: 2}); !errors.Is(err, ErrBrokenPipe) {
				t.Errorf("second Write() error = %v, want ErrBrokenPipe", err)
			}
			if pw.writes != 1 {
				t.Errorf("writes to closed pipe = %d, want 1", pw.writes)
			}
		})
	}
}

func TestRowWriterOtherErrors(t *testing.T) {
	w := NewRowWriter(&pipeWriter{err: errors.New("disk full")})
	err := w.Write(UsageRow{AllocationID: 1})
	if err == nil || errors.Is(err, ErrBrokenPipe) {
		t.Errorf("Write() error = %v, want plain error", err)
	}
	if w.Broken() {
		t.Error("Broken() = true for non-pipe error")
	}
}

func TestQuotaRowFields(t *testing.T) {
	usage := 1.5
	row := QuotaRow{
		AllocationID: 3,
		Group:        "projx",
		Filesystem:   "/work",
		Quota:        100,
		Usage:        &usage,
		Actions:      []ActionKind{ActionCreateDirectory, ActionSetQuota},
	}
	want := []string{"3", "projx", "/work", "100", "", "1.5", "create_directory,set_quota"}
	got := row.Fields()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Fields() = %q, want %q", got, want)
	}
}

func TestRunSummary(t *testing.T) {
	s := NewRunSummary()
	s.Add(Skipped(EntityUser, "a"))
	s.Add(Outcome{Result: OutcomeSuccess, Actions: []Action{{Kind: ActionAddMember, State: ActionStateApplied}}})
	s.Add(Outcome{Result: OutcomeFail, Actions: []Action{
		{Kind: ActionAddMember, State: ActionStateApplied},
		{Kind: ActionRemoveMember, State: ActionStateFailed},
	}})

	if s.Processed != 3 || s.Skipped != 1 || s.Succeeded != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	if n := s.Count(ActionAddMember, ActionStateApplied); n != 2 {
		t.Errorf("applied adds = %d, want 2", n)
	}
	if n := s.Count(ActionSetQuota, ActionStateApplied); n != 0 {
		t.Errorf("applied quotas = %d, want 0", n)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{42.567, 42.57},
		{42.564, 42.56},
		{0, 0},
		{10, 10},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
