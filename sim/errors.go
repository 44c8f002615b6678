package sim

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every engine-detected condition wraps one of these so
// callers can match with errors.Is. Operations that fail leave every store
// untouched.
var (
	// ErrCapacityMismatch is returned when two bitsets (or a bitset and a
	// variable) of different population sizes are combined.
	ErrCapacityMismatch = errors.New("capacity mismatch")
	// ErrIndexOutOfRange is returned for an individual index outside [0, N).
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrUnknownCategory is returned for an unrecognized categorical label.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrInvalidQuery is returned for ill-formed or contradictory query arguments.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrLengthMismatch is returned when a value vector disagrees in length
	// with its index vector or the population.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrInvalidDelay is returned for a non-positive or fractional delay.
	ErrInvalidDelay = errors.New("invalid delay")
)

// StepError reports a process or listener failure that aborted a run.
type StepError struct {
	Timestep int64
	Source   string // process name or event name
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("timestep %d: %s: %v", e.Timestep, e.Source, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
