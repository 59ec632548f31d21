package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTargets is stored on the exchange when a load balancer has no targets.
	ErrNoTargets = errors.New("no targets to dispatch to")

	// ErrInvalidRatio is returned when a distribution ratio list is empty or
	// contains a non-positive weight.
	ErrInvalidRatio = errors.New("invalid distribution ratio")

	// ErrRatioMismatch is returned when the number of targets differs from the
	// number of configured distribution ratios.
	ErrRatioMismatch = errors.New("target count does not match distribution ratio count")

	// ErrNilPolicies is returned when an error handler is built without a policy registry.
	ErrNilPolicies = errors.New("nil error policies")

	// ErrUnknownErrorType is returned when an error type has not been registered
	// in a Hierarchy.
	ErrUnknownErrorType = errors.New("unknown error type")

	// ErrDuplicateErrorType is returned when an error type is registered twice.
	ErrDuplicateErrorType = errors.New("duplicate error type")

	// ErrUnknownStrategy is returned when a configuration names an unsupported
	// load balancing strategy.
	ErrUnknownStrategy = errors.New("unknown load balancing strategy")

	// ErrUnknownTarget is returned when a configuration references a target
	// name that was not supplied.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrInvalidDelayPattern is returned when a redelivery delay pattern cannot be parsed.
	ErrInvalidDelayPattern = errors.New("invalid delay pattern")
)

// PanicError wraps a value recovered from a panicking target so it can be
// stored on an exchange like any other error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("target panicked: %v", e.Value) }

// Unwrap returns the recovered value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
