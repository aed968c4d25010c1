package engine

import "fmt"

// ValidationError reports bad user input. It is checked before any side
// effect occurs; the request is never issued.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// BusyError reports that a query of the same family is already in flight.
// This is the advisory mutual exclusion of the triggering controls, not
// request cancellation.
type BusyError struct {
	Family string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("a %s query is already in flight", e.Family)
}
