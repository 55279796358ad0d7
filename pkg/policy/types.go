package policy

import (
	"time"

	"github.com/hpcops/allocsync/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the action.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the action.
	SeverityError Severity = "error"

	// SeverityCritical blocks the action.
	SeverityCritical Severity = "critical"
)

// Blocks returns true if a violation of this severity denies the action.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from its deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies compiled into the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Settings are site parameters exposed to policies as input.settings.
type Settings struct {
	// ProtectedGroups never lose members through a sync
	ProtectedGroups []string `json:"protected_groups"`

	// MaxQuotaGB caps the quota a sync may set; 0 disables the check
	MaxQuotaGB float64 `json:"max_quota_gb"`
}

// Input is the document policies evaluate.
type Input struct {
	Action   ActionInput `json:"action"`
	Settings Settings    `json:"settings"`
	Context  Context     `json:"context"`
}

// ActionInput describes the corrective action under review.
type ActionInput struct {
	Kind        string `json:"kind"`
	Entity      string `json:"entity"`
	Target      string `json:"target"`
	Value       string `json:"value,omitempty"`
	Destructive bool   `json:"destructive"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the policy input for action.
func NewInput(action engine.Action, settings Settings) *Input {
	if settings.ProtectedGroups == nil {
		settings.ProtectedGroups = []string{}
	}
	return &Input{
		Action: ActionInput{
			Kind:        string(action.Kind),
			Entity:      action.Entity,
			Target:      action.Target,
			Value:       action.Value,
			Destructive: action.Kind.IsDestructive(),
		},
		Settings: settings,
		Context:  Context{Timestamp: time.Now().UTC()},
	}
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the action may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the action.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}
