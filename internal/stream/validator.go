package stream

// Validator tracks one stream's event sequence and rejects the ones the
// callback contract forbids. Accepted sequences match
//
//	headers (metadata | data)* trailers? (complete | error | cancel)
//
// where error and cancel may also arrive before headers, complete requires the
// response to have ended, and nothing follows the terminal event.
//
// Metadata is not accepted once the response has ended (after trailers or any
// end-stream flag). Validator is not safe for concurrent use.
type Validator struct {
	state       State
	headersSeen bool
	ended       bool
}

// State returns the current lifecycle state.
func (v *Validator) State() State { return v.state }

// ResponseEnded reports whether end-of-stream was observed on headers, data or trailers.
func (v *Validator) ResponseEnded() bool { return v.ended }

// Check reports whether ev may be delivered now without changing any state.
// endStream is ignored for events that do not carry the flag.
func (v *Validator) Check(ev Event, endStream bool) error {
	if v.state.Terminal() {
		return v.violation(ev, "stream already terminated", ErrStreamClosed)
	}
	switch ev {
	case EventHeaders:
		if v.headersSeen {
			return v.violation(ev, "headers already delivered", nil)
		}
	case EventData, EventMetadata, EventTrailers:
		if !v.headersSeen {
			return v.violation(ev, ev.String()+" before headers", nil)
		}
		if v.ended {
			return v.violation(ev, ev.String()+" after end of stream", nil)
		}
	case EventComplete:
		if !v.ended {
			return v.violation(ev, "complete before end of stream", nil)
		}
	case EventError, EventCancel:
	default:
		return v.violation(ev, "unknown event", nil)
	}
	return nil
}

// Apply checks ev and, if legal, advances the state machine.
func (v *Validator) Apply(ev Event, endStream bool) error {
	if err := v.Check(ev, endStream); err != nil {
		return err
	}
	switch ev {
	case EventHeaders:
		v.headersSeen = true
		v.ended = endStream
		v.state = StateActive
	case EventData:
		v.ended = endStream
	case EventTrailers:
		v.ended = true
	case EventMetadata:
	default:
		v.state = terminalState(ev)
	}
	return nil
}

func (v *Validator) violation(ev Event, reason string, cause error) *ContractViolationError {
	return &ContractViolationError{Event: ev, State: v.state, Reason: reason, Cause: cause}
}
