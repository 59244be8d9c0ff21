package timer

import "errors"

var (
	// ErrActionNotAllowed is returned when a local action is not enabled in
	// the current status (the matching button would be disabled).
	ErrActionNotAllowed = errors.New("action not allowed in current state")

	// ErrInvalidTransition is returned when the transition table has no edge
	// for the requested event.
	ErrInvalidTransition = errors.New("invalid timer transition")
)
