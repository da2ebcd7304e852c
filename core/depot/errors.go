package depot

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDepot reports a malformed depot template.
	ErrInvalidDepot = errors.New("invalid depot")
	// ErrCapacityExceeded is returned when no compatible slot or charge point
	// is available and the caller did not ask to wait.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrLineBlocked is returned when a vehicle in a line area is asked to
	// leave while vehicles ahead of it remain.
	ErrLineBlocked = errors.New("vehicle blocked in line")
	// ErrUnknownArea is returned for an unknown area id.
	ErrUnknownArea = errors.New("unknown area")
	// ErrUnknownStation is returned for an unknown station id.
	ErrUnknownStation = errors.New("unknown station")
	// ErrNegativePower is returned for negative power requests.
	ErrNegativePower = errors.New("negative power request")
	// ErrNotCharging is returned when power is reserved for a vehicle
	// without a charge point.
	ErrNotCharging = errors.New("vehicle holds no charge point")
	// ErrInvariantViolation marks a broken resource invariant. It is fatal.
	ErrInvariantViolation = errors.New("resource invariant violated")
)

// InvariantError describes a resource invariant violation.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariantViolation, e.Op, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

func invariant(op, format string, args ...any) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
