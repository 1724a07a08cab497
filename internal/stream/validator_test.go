package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	ev  Event
	end bool
}

func TestValidator_Sequences(t *testing.T) {
	tests := []struct {
		name      string
		steps     []step
		failAt    int // index of the first rejected step, -1 if all accepted
		wantState State
	}{
		{"headers only", []step{{EventHeaders, true}, {EventComplete, false}}, -1, StateCompleted},
		{"three chunks", []step{{EventHeaders, false}, {EventData, false}, {EventData, false}, {EventData, true}, {EventComplete, false}}, -1, StateCompleted},
		{"trailers end the response", []step{{EventHeaders, false}, {EventData, false}, {EventTrailers, false}, {EventComplete, false}}, -1, StateCompleted},
		{"metadata interleaved", []step{{EventHeaders, false}, {EventMetadata, false}, {EventData, false}, {EventMetadata, false}, {EventData, true}, {EventComplete, false}}, -1, StateCompleted},
		{"mid-stream error", []step{{EventHeaders, false}, {EventData, false}, {EventData, false}, {EventError, false}}, -1, StateErrored},
		{"error before headers", []step{{EventError, false}}, -1, StateErrored},
		{"cancel before headers", []step{{EventCancel, false}}, -1, StateCancelled},
		{"cancel after end of stream", []step{{EventHeaders, true}, {EventCancel, false}}, -1, StateCancelled},

		{"data before headers", []step{{EventData, false}}, 0, StateCreated},
		{"metadata before headers", []step{{EventMetadata, false}}, 0, StateCreated},
		{"trailers before headers", []step{{EventTrailers, false}}, 0, StateCreated},
		{"complete before headers", []step{{EventComplete, false}}, 0, StateCreated},
		{"headers twice", []step{{EventHeaders, false}, {EventHeaders, false}}, 1, StateActive},
		{"data after headers end", []step{{EventHeaders, true}, {EventData, false}}, 1, StateActive},
		{"trailers after headers end", []step{{EventHeaders, true}, {EventTrailers, false}}, 1, StateActive},
		{"second end-stream data", []step{{EventHeaders, false}, {EventData, true}, {EventData, true}}, 2, StateActive},
		{"data after trailers", []step{{EventHeaders, false}, {EventTrailers, false}, {EventData, false}}, 2, StateActive},
		{"trailers twice", []step{{EventHeaders, false}, {EventTrailers, false}, {EventTrailers, false}}, 2, StateActive},
		{"metadata after trailers", []step{{EventHeaders, false}, {EventTrailers, false}, {EventMetadata, false}}, 2, StateActive},
		{"complete while body open", []step{{EventHeaders, false}, {EventData, false}, {EventComplete, false}}, 2, StateActive},
		{"event after terminal", []step{{EventHeaders, true}, {EventComplete, false}, {EventMetadata, false}}, 2, StateCompleted},
		{"second terminal", []step{{EventError, false}, {EventCancel, false}}, 1, StateErrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Validator
			for i, st := range tt.steps {
				err := v.Apply(st.ev, st.end)
				if i == tt.failAt {
					require.Error(t, err, "step %d (%s) should be rejected", i, st.ev)
					var cv *ContractViolationError
					require.True(t, errors.As(err, &cv))
					assert.Equal(t, st.ev, cv.Event)
					break
				}
				require.NoError(t, err, "step %d (%s)", i, st.ev)
			}
			assert.Equal(t, tt.wantState, v.State())
		})
	}
}

func TestValidator_CheckDoesNotMutate(t *testing.T) {
	var v Validator
	require.NoError(t, v.Check(EventHeaders, true))
	assert.Equal(t, StateCreated, v.State())
	assert.False(t, v.ResponseEnded())

	require.NoError(t, v.Apply(EventHeaders, true))
	assert.True(t, v.ResponseEnded())
	assert.Equal(t, StateActive, v.State())
}

func TestValidator_TerminalCarriesSentinel(t *testing.T) {
	var v Validator
	require.NoError(t, v.Apply(EventCancel, false))
	err := v.Apply(EventComplete, false)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestValidator_UnknownEvent(t *testing.T) {
	var v Validator
	assert.ErrorContains(t, v.Check(Event(42), false), "unknown event")
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "state_9", State(9).String())
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateCancelled.Terminal())

	assert.Equal(t, "trailers", EventTrailers.String())
	assert.Equal(t, "event_9", Event(9).String())
	assert.False(t, EventMetadata.Terminal())
	assert.True(t, EventComplete.Terminal())
}

func TestContractViolationError(t *testing.T) {
	err := &ContractViolationError{Handle: 4, Event: EventData, State: StateActive, Reason: "data after end of stream"}
	assert.Equal(t, "stream 4: illegal data event in state active: data after end of stream", err.Error())
	assert.Nil(t, err.Unwrap())
}
