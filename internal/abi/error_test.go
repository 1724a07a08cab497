package abi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	tests := []struct {
		name string
		c    ErrorCode
		want string
	}{
		{"Undefined", ErrorCodeUndefined, "UNDEFINED_ERROR"},
		{"StreamReset", ErrorCodeStreamReset, "STREAM_RESET"},
		{"ConnectionFailure", ErrorCodeConnectionFailure, "CONNECTION_FAILURE"},
		{"Unknown", ErrorCode(9), "UNKNOWN_ERROR_CODE_9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.String(); got != tt.want {
				t.Errorf("ErrorCode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewError_AttemptCountsAreDistinct(t *testing.T) {
	notApplicable := NewError(ErrorCodeUndefined, "never ran", AttemptCountNotApplicable)
	skipped := NewError(ErrorCodeUndefined, "skipped", 0)
	retried := NewError(ErrorCodeConnectionFailure, "reset", 2)
	defer notApplicable.Release()
	defer skipped.Release()
	defer retried.Release()

	assert.Equal(t, int32(-1), notApplicable.AttemptCount)
	assert.False(t, notApplicable.HasAttemptCount())
	assert.Equal(t, int32(0), skipped.AttemptCount)
	assert.True(t, skipped.HasAttemptCount())
	assert.NotEqual(t, notApplicable.AttemptCount, skipped.AttemptCount)
	assert.Equal(t, int32(2), retried.AttemptCount)

	assert.Equal(t, "UNDEFINED_ERROR: never ran", notApplicable.Error())
	assert.Equal(t, "UNDEFINED_ERROR: skipped (attempts 0)", skipped.Error())
	assert.Equal(t, "CONNECTION_FAILURE: reset (attempts 2)", retried.Error())
}

func TestError_AsGoError(t *testing.T) {
	e := NewError(ErrorCodeStreamReset, "peer reset", 1)
	defer e.Release()

	var err error = e
	var target Error
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, ErrorCodeStreamReset, target.Code)
}

func TestError_ReleaseMessage(t *testing.T) {
	before := Outstanding()
	e := NewError(ErrorCodeUndefined, "boom", AttemptCountNotApplicable)
	assert.Equal(t, before+1, Outstanding())
	e.Release()
	assert.Equal(t, before, Outstanding())

	// An error carrying NoData releases nothing.
	assert.NotPanics(t, Error{Message: NoData()}.Release)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, SuccessCode, int(StatusSuccess))
	assert.Equal(t, FailureCode, int(StatusFailure))
	assert.Equal(t, "SUCCESS", StatusSuccess.String())
	assert.Equal(t, "FAILURE", StatusFailure.String())
	assert.Equal(t, "STATUS_7", Status(7).String())
}

func TestParseNetworkType(t *testing.T) {
	for in, want := range map[string]NetworkType{"": NetworkGeneric, "generic": NetworkGeneric, "wlan": NetworkWLAN, "wwan": NetworkWWAN} {
		got, err := ParseNetworkType(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}
	_, err := ParseNetworkType("satellite")
	assert.ErrorContains(t, err, "unknown network type")
}
