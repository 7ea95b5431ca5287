package builder

import (
	"errors"
	"fmt"
)

// ErrClass partitions protocol failures by which recovery rung they select.
type ErrClass int

const (
	// ClassGesture: the drag never completed mechanically (drag mode not
	// entered, dropzone missing, release rejected). Local retry territory.
	ClassGesture ErrClass = iota
	// ClassConfirmation: the gesture completed but no new field could be
	// confirmed by re-fetch within the deadline.
	ClassConfirmation
	// ClassInvariant: the surface contradicted the registry (re-offered a
	// known ID, duplicate acceptance risk). Never accepted, always retried.
	ClassInvariant
	// ClassPlacement: the field exists but sits at the wrong index after
	// repair attempts. Non-fatal; reported, never blocks the run.
	ClassPlacement
	// ClassEnvironment: section selection, canvas alignment or page state is
	// broken beyond what a local retry can fix.
	ClassEnvironment
)

func (c ErrClass) String() string {
	switch c {
	case ClassGesture:
		return "gesture"
	case ClassConfirmation:
		return "confirmation"
	case ClassInvariant:
		return "invariant"
	case ClassPlacement:
		return "placement"
	case ClassEnvironment:
		return "environment"
	}
	return "unknown"
}

// ProtocolError is the typed failure returned by builder operations. Callers
// branch on Class and Retryable instead of string matching.
type ProtocolError struct {
	Class     ErrClass
	Stage     string // "align", "gesture", "confirm", "verify", "placement", "resync"
	Reason    string
	Retryable bool
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("builder: %s/%s: %s: %v", e.Class, e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("builder: %s/%s: %s", e.Class, e.Stage, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(class ErrClass, stage, reason string, retryable bool) *ProtocolError {
	return &ProtocolError{Class: class, Stage: stage, Reason: reason, Retryable: retryable}
}

// ErrOutOfBounds is returned by a Surface when a computed release point falls
// outside the actionable viewport. The gesture layer treats it as the signal
// to fall back to a synthetic release.
var ErrOutOfBounds = errors.New("builder: release point outside actionable viewport")

// ErrResyncBudgetExhausted is returned when the per-build hard resync budget
// is spent and the configuration demands a fatal stop.
var ErrResyncBudgetExhausted = errors.New("builder: hard resync budget exhausted")

// IsRetryable reports whether err is a ProtocolError marked retryable.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ClassOf returns the error class of a ProtocolError, or ClassEnvironment for
// anything else.
func ClassOf(err error) ErrClass {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassEnvironment
}
