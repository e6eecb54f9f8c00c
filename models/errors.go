package models

import (
	"errors"
	"fmt"
)

// ErrDataFormat flags a malformed feed payload. Feed loops log and drop the
// offending message instead of crashing.
var ErrDataFormat = errors.New("malformed feed payload")

// ErrOrderNotFound is returned when an amend or cancel references an order
// id that is no longer in the current set.
var ErrOrderNotFound = errors.New("order not found in current set")

// InvariantError reports a broken state invariant (unsorted book side,
// inconsistent tiers). It is fatal to the affected operation only; the
// control loop logs it and continues on the next cycle.
type InvariantError struct {
	Component string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Component, e.Detail)
}

// TransientError wraps a gateway failure that was retried and still failed,
// or is worth retrying by the caller (network hiccup, rate limit).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
