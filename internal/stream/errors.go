package stream

import (
	"errors"
	"fmt"

	"example.com/streambridge/internal/abi"
)

var (
	// ErrStreamClosed is returned when an event is offered after the stream terminated.
	ErrStreamClosed = errors.New("stream: terminal event already delivered")
	// ErrUnknownStream is returned for a handle that is not (or no longer) registered.
	ErrUnknownStream = errors.New("stream: unknown stream handle")
)

// ContractViolationError reports an event sequence the producer must never generate.
// The offending event is not delivered; its payload has been released.
type ContractViolationError struct {
	Handle abi.StreamHandle
	Event  Event
	State  State
	Reason string
	Cause  error // Optional underlying sentinel, e.g. ErrStreamClosed
}

// Error returns a string representation of the ContractViolationError.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("stream %d: illegal %s event in state %s: %s", e.Handle, e.Event, e.State, e.Reason)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *ContractViolationError) Unwrap() error {
	return e.Cause
}
