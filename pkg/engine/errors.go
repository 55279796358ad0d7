package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a reconciliation error.
type ErrorKind string

const (
	// ErrorKindFatal indicates a configuration or session error. The run is aborted.
	// Examples: directory bind failure, unreachable database.
	ErrorKindFatal ErrorKind = "fatal"

	// ErrorKindLookup indicates the entity could not be found in the external system.
	// The entity's external status is unknown, not empty.
	ErrorKindLookup ErrorKind = "lookup"

	// ErrorKindAlreadyMember indicates an add was requested for an existing member.
	ErrorKindAlreadyMember ErrorKind = "already_member"

	// ErrorKindNotMember indicates a remove was requested for an absent member.
	ErrorKindNotMember ErrorKind = "not_member"

	// ErrorKindCommand indicates an external command or request failed.
	ErrorKindCommand ErrorKind = "command"

	// ErrorKindRecord indicates a read or write against the system of record failed.
	ErrorKindRecord ErrorKind = "record"

	// ErrorKindInvalid indicates the entity's data cannot be reconciled as stored.
	// Examples: missing filesystem attribute, unparsable quota value.
	ErrorKindInvalid ErrorKind = "invalid"
)

// SyncError is a classified error with entity context.
type SyncError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Op is the operation being performed, e.g. "add_member".
	Op string

	// Entity is the username or allocation identifier, if known.
	Entity string

	// Target is the group or filesystem the operation acted on, if any.
	Target string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Entity != "" {
		msg += " entity=" + e.Entity
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *SyncError of the same kind.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewError creates a classified error.
func NewError(kind ErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// NewFatalError creates a fatal error.
func NewFatalError(op string, err error) *SyncError {
	return NewError(ErrorKindFatal, op, err)
}

// NewLookupError creates a lookup failure for entity.
func NewLookupError(op, entity string, err error) *SyncError {
	return NewError(ErrorKindLookup, op, err).WithEntity(entity)
}

// WithEntity adds entity context.
func (e *SyncError) WithEntity(entity string) *SyncError {
	e.Entity = entity
	return e
}

// WithTarget adds target context.
func (e *SyncError) WithTarget(target string) *SyncError {
	e.Target = target
	return e
}

// Sentinel values for errors.Is checks against a kind.
var (
	ErrAlreadyMember = &SyncError{Kind: ErrorKindAlreadyMember}
	ErrNotMember     = &SyncError{Kind: ErrorKindNotMember}
	ErrLookup        = &SyncError{Kind: ErrorKindLookup}
	ErrFatal         = &SyncError{Kind: ErrorKindFatal}
)

// KindOf returns the kind of the first *SyncError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *SyncError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsBenign returns true if err reports a relation that is already in the desired state.
func IsBenign(err error) bool {
	switch KindOf(err) {
	case ErrorKindAlreadyMember, ErrorKindNotMember:
		return true
	default:
		return false
	}
}

// IsFatal returns true if err must abort the run.
func IsFatal(err error) bool {
	return KindOf(err) == ErrorKindFatal
}

// IsLookupFailure returns true if err reports an entity missing upstream.
func IsLookupFailure(err error) bool {
	return KindOf(err) == ErrorKindLookup
}
