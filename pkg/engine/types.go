package engine

import (
	"errors"
	"math"
)

// EntityKind names the unit being reconciled.
type EntityKind string

const (
	// EntityUser is a portal user reconciled against directory groups.
	EntityUser EntityKind = "user"

	// EntityAllocation is an allocation reconciled against a quota or usage tool.
	EntityAllocation EntityKind = "allocation"
)

// User is a portal account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Active   bool   `json:"active"`
}

// Resource is a portal resource attached to allocations.
type Resource struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`

	// Attributes maps attribute type name to value.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attribute returns the named resource attribute.
func (r Resource) Attribute(name string) (string, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// Attribute is a single allocation attribute value.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Allocation is a grant of one or more resources to a project.
type Allocation struct {
	ID         int64            `json:"id"`
	Status     AllocationStatus `json:"status"`
	Resources  []Resource       `json:"resources"`
	Attributes []Attribute      `json:"attributes"`
}

// Attribute returns the first value of the named attribute.
func (a Allocation) Attribute(name string) (string, bool) {
	for _, attr := range a.Attributes {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

// AttributeList returns every value of the named attribute in stored order.
func (a Allocation) AttributeList(name string) []string {
	var values []string
	for _, attr := range a.Attributes {
		if attr.Name == name {
			values = append(values, attr.Value)
		}
	}
	return values
}

// HasAvailableResource returns true if at least one attached resource is available.
func (a Allocation) HasAvailableResource() bool {
	for _, r := range a.Resources {
		if r.Available {
			return true
		}
	}
	return false
}

// FirstResource returns the first attached resource.
func (a Allocation) FirstResource() (Resource, bool) {
	if len(a.Resources) == 0 {
		return Resource{}, false
	}
	return a.Resources[0], true
}

// Membership links a user to an allocation.
type Membership struct {
	Status     MembershipStatus `json:"status"`
	Allocation Allocation       `json:"allocation"`
}

// IsActive returns true if both the membership and its allocation are Active.
func (m Membership) IsActive() bool {
	return m.Status.IsActive() && m.Allocation.Status.IsActive()
}

// DesiredState is the group membership an entity should hold.
type DesiredState struct {
	// Active lists groups the entity should be a member of.
	Active []string `json:"active"`

	// Remove lists groups the entity should no longer be a member of.
	Remove []string `json:"remove"`
}

// IsEmpty returns true if there is nothing to reconcile.
func (d DesiredState) IsEmpty() bool {
	return len(d.Active) == 0 && len(d.Remove) == 0
}

// Mode holds the global run flags.
type Mode struct {
	// Sync enables corrective actions. Report-only when false.
	Sync bool `json:"sync"`

	// Noop suppresses external mutation even when Sync is set.
	Noop bool `json:"noop"`
}

// Apply returns true if corrective actions must actually be issued.
func (m Mode) Apply() bool {
	return m.Sync && !m.Noop
}

// pendingState returns the state recorded for an action that is not applied.
func (m Mode) pendingState() ActionState {
	if m.Sync && m.Noop {
		return ActionStateSuppressed
	}
	return ActionStatePlanned
}

// Action is a single corrective action computed for an entity.
type Action struct {
	Kind   ActionKind  `json:"kind"`
	Entity string      `json:"entity"`
	Target string      `json:"target"`
	Value  string      `json:"value,omitempty"`
	State  ActionState `json:"state"`
	Error  string      `json:"error,omitempty"`
}

// Outcome is the typed result of reconciling one entity.
type Outcome struct {
	Kind    EntityKind  `json:"entity_kind"`
	Entity  string      `json:"entity"`
	Result  OutcomeKind `json:"result"`
	Row     Row         `json:"-"`
	Actions []Action    `json:"actions,omitempty"`
	Err     error       `json:"-"`
}

// Skipped builds an outcome for an entity with nothing to do.
func Skipped(kind EntityKind, entity string) Outcome {
	return Outcome{Kind: kind, Entity: entity, Result: OutcomeSkip}
}

// fail marks the outcome failed and joins err into Err.
func (o *Outcome) fail(err error) {
	o.Result = OutcomeFail
	o.Err = errors.Join(o.Err, err)
}

// RunSummary aggregates the outcomes of a run.
type RunSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// Actions counts actions by kind and state.
	Actions map[ActionKind]map[ActionState]int `json:"actions"`
}

// NewRunSummary creates an empty summary.
func NewRunSummary() *RunSummary {
	return &RunSummary{Actions: make(map[ActionKind]map[ActionState]int)}
}

// Add records an outcome.
func (s *RunSummary) Add(o Outcome) {
	s.Processed++
	switch o.Result {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeSkip:
		s.Skipped++
	case OutcomeFail:
		s.Failed++
	}
	for _, a := range o.Actions {
		if s.Actions[a.Kind] == nil {
			s.Actions[a.Kind] = make(map[ActionState]int)
		}
		s.Actions[a.Kind][a.State]++
	}
}

// Count returns the number of actions of kind in state.
func (s *RunSummary) Count(kind ActionKind, state ActionState) int {
	return s.Actions[kind][state]
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
