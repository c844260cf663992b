package track

import (
	"errors"
	"fmt"
)

// Domain sentinel errors.
var (
	// ErrShiftActive is returned by clock-in when the employee already has
	// an active shift.
	ErrShiftActive = errors.New("an active shift already exists")

	// ErrNoActiveShift is returned by clock-out when there is nothing to close.
	ErrNoActiveShift = errors.New("no active shift")

	// ErrSyncInProgress is returned when a sync cycle is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// StoreErrorKind classifies store failures so callers can react without
// parsing error strings.
type StoreErrorKind string

const (
	// StoreCorruption means the store or its key material cannot be read.
	// Triggers the wipe-and-recreate recovery path.
	StoreCorruption StoreErrorKind = "corruption"

	// StoreConstraint means a write violated a schema constraint
	// (duplicate active shift, orphaned foreign key).
	StoreConstraint StoreErrorKind = "constraint"

	// StoreIO covers everything else: disk errors, busy timeouts.
	StoreIO StoreErrorKind = "io"
)

// StoreError is the typed failure returned by every LocalStore write path.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the given kind and operation name.
func NewStoreError(kind StoreErrorKind, op string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// IsConstraint reports whether err is a constraint-kind store error.
func IsConstraint(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == StoreConstraint
}

// IsCorruption reports whether err is a corruption-kind store error.
func IsCorruption(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == StoreCorruption
}
