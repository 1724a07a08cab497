package stream

import "example.com/streambridge/internal/abi"

// Outcome is the terminal result of a stream: one of Completed, Errored or Cancelled.
type Outcome interface {
	State() State
	isOutcome()
}

// Completed is the outcome of a stream whose terminal event was OnComplete.
type Completed struct{}

// Errored is the outcome of a stream whose terminal event was OnError.
// Code and AttemptCount mirror the delivered abi.Error; its message Buffer
// belonged to the consumer and is not retained here.
type Errored struct {
	Code         abi.ErrorCode
	AttemptCount int32
}

// Cancelled is the outcome of a stream whose terminal event was OnCancel.
type Cancelled struct{}

func (Completed) State() State { return StateCompleted }
func (Errored) State() State   { return StateErrored }
func (Cancelled) State() State { return StateCancelled }

func (Completed) isOutcome() {}
func (Errored) isOutcome()   {}
func (Cancelled) isOutcome() {}
