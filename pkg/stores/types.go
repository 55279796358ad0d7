package stores

import (
	"time"
)

// RunStatus represents the status of a sync run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run represents one invocation of a sync job
type Run struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"` // ldap-check, quotas-check, slurm-usage
	Sync        bool       `json:"sync"`
	Noop        bool       `json:"noop"`
	Status      RunStatus  `json:"status"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RowRecord is the stored outcome of one entity in a run
type RowRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	EntityKind string    `json:"entity_kind"`
	Entity     string    `json:"entity"`
	Result     string    `json:"result"`
	Row        string    `json:"row"`     // tab-separated report line, empty for skipped entities
	Actions    string    `json:"actions"` // JSON array of actions
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds SQLite connection configuration
type Config struct {
	// Path is the database file, or ":memory:"
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
