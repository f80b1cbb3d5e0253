package schemas

import "errors"

// Errors reported by Page implementations.
var (
	// ErrWaitTimeout is returned when a locator does not match within the allowed time.
	ErrWaitTimeout = errors.New("timed out waiting for locator")
	// ErrNoMatch is returned when an action's locator matches no element.
	ErrNoMatch = errors.New("no element matches locator")
	// ErrOptionNotFound is returned by SelectOption when no option has the value or label.
	ErrOptionNotFound = errors.New("select option not found")
)
