package engine

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"syscall"
)

// ErrBrokenPipe is returned by RowWriter once the reader of the report went away.
var ErrBrokenPipe = errors.New("report output closed")

// Row is one line of the audit report.
type Row interface {
	Fields() []string
}

// GroupHeader is the header of the group membership report.
var GroupHeader = []string{
	"username",
	"add_missing_group_membership",
	"remove_existing_group_membership",
	"ldap_status",
	"coldfront_status",
}

// GroupRow reports the membership corrections of one user.
type GroupRow struct {
	Username        string
	Added           []string
	Removed         []string
	DirectoryStatus DirectoryStatus
	LocalStatus     string
}

// Fields implements Row.
func (r GroupRow) Fields() []string {
	return []string{
		r.Username,
		strings.Join(r.Added, ","),
		strings.Join(r.Removed, ","),
		string(r.DirectoryStatus),
		r.LocalStatus,
	}
}

// QuotaHeader is the header of the quota report.
var QuotaHeader = []string{
	"allocation",
	"group",
	"filesystem",
	"quota_gb",
	"current_quota_gb",
	"usage_gb",
	"actions",
}

// QuotaRow reports the quota state of one allocation.
type QuotaRow struct {
	AllocationID int64
	Group        string
	Filesystem   string
	Quota        float64
	CurrentQuota *float64
	Usage        *float64
	Actions      []ActionKind
}

// Fields implements Row.
func (r QuotaRow) Fields() []string {
	actions := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, string(a))
	}
	return []string{
		strconv.FormatInt(r.AllocationID, 10),
		r.Group,
		r.Filesystem,
		formatFloat(&r.Quota),
		formatFloat(r.CurrentQuota),
		formatFloat(r.Usage),
		strings.Join(actions, ","),
	}
}

// UsageHeader is the header of the compute usage report.
var UsageHeader = []string{
	"allocation",
	"account",
	"usage",
}

// UsageRow reports the usage stored for one allocation.
type UsageRow struct {
	AllocationID int64
	Account      string
	Usage        *float64
}

// Fields implements Row.
func (r UsageRow) Fields() []string {
	return []string{
		strconv.FormatInt(r.AllocationID, 10),
		r.Account,
		formatFloat(r.Usage),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Separators inside a field would shift the columns of the row.
var fieldReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// FormatLine joins fields with tabs. Tabs and line breaks inside a field are
// replaced with spaces.
func FormatLine(fields []string) string {
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = fieldReplacer.Replace(f)
	}
	return strings.Join(clean, "\t")
}

// RowWriter writes tab-separated report rows.
// After the first broken pipe every write goes to io.Discard and returns ErrBrokenPipe.
type RowWriter struct {
	w      io.Writer
	broken bool
}

// NewRowWriter creates a writer on w.
func NewRowWriter(w io.Writer) *RowWriter {
	return &RowWriter{w: w}
}

// WriteHeader writes a header line.
func (rw *RowWriter) WriteHeader(fields []string) error {
	return rw.writeLine(fields)
}

// Write writes row. A nil row writes nothing.
func (rw *RowWriter) Write(row Row) error {
	if row == nil {
		return nil
	}
	return rw.writeLine(row.Fields())
}

// Broken returns true once the output has been redirected to the null sink.
func (rw *RowWriter) Broken() bool {
	return rw.broken
}

func (rw *RowWriter) writeLine(fields []string) error {
	if rw.broken {
		return ErrBrokenPipe
	}
	_, err := io.WriteString(rw.w, FormatLine(fields)+"\n")
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
		rw.w = io.Discard
		rw.broken = true
		return ErrBrokenPipe
	}
	return err
}
