package stream

import "fmt"

// State is the lifecycle state of a stream as seen by its consumer.
type State uint8

const (
	// StateCreated: the stream exists but no response-bearing event was delivered yet.
	StateCreated State = iota
	// StateActive: headers were delivered and the stream has not terminated.
	StateActive
	// StateCompleted: OnComplete was the terminal event.
	StateCompleted
	// StateErrored: OnError was the terminal event.
	StateErrored
	// StateCancelled: OnCancel was the terminal event.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state_%d", uint8(s))
	}
}

// Terminal reports whether no further events may follow.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Event names one callback of the stream interface.
type Event uint8

const (
	EventHeaders Event = iota
	EventData
	EventMetadata
	EventTrailers
	EventError
	EventComplete
	EventCancel
)

func (e Event) String() string {
	switch e {
	case EventHeaders:
		return "headers"
	case EventData:
		return "data"
	case EventMetadata:
		return "metadata"
	case EventTrailers:
		return "trailers"
	case EventError:
		return "error"
	case EventComplete:
		return "complete"
	case EventCancel:
		return "cancel"
	default:
		return fmt.Sprintf("event_%d", uint8(e))
	}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e >= EventError
}

// terminalState maps a terminal event onto the state it leads to.
func terminalState(e Event) State {
	switch e {
	case EventError:
		return StateErrored
	case EventComplete:
		return StateCompleted
	default:
		return StateCancelled
	}
}
