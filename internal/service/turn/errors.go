package turn

import "errors"

// ErrTurnInFlight is returned when a conversation already has a turn running.
var ErrTurnInFlight = errors.New("a turn is already in progress for this conversation")

// ValidationError rejects a turn before anything is appended or sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid turn: " + e.Reason
}
