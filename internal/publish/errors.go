package publish

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the funnel's current status.
	ErrInvalidTransition = errors.New("invalid funnel status transition")

	// ErrInvalidRule is returned when a configured rule does not compile.
	ErrInvalidRule = errors.New("invalid publish rule")
)
