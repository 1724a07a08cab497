package abi

import "fmt"

// ErrorCode classifies the terminal failure of a stream.
type ErrorCode int

const (
	ErrorCodeUndefined ErrorCode = iota
	ErrorCodeStreamReset
	ErrorCodeConnectionFailure
)

// String returns the string representation of the ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeUndefined:
		return "UNDEFINED_ERROR"
	case ErrorCodeStreamReset:
		return "STREAM_RESET"
	case ErrorCodeConnectionFailure:
		return "CONNECTION_FAILURE"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", int(c))
	}
}

// AttemptCountNotApplicable marks errors for which an attempt count makes no sense.
// It differs from 0, which says the action was intentionally not executed.
const AttemptCountNotApplicable int32 = -1

// Error is the terminal error delivered through OnError.
//
// AttemptCount is the number of upstream attempts made before the error fired,
// for instance the requests of a retry series. It is informational only.
type Error struct {
	Code         ErrorCode
	Message      Buffer
	AttemptCount int32
}

// NewError builds an Error whose message is copied into an owned Buffer.
func NewError(code ErrorCode, message string, attemptCount int32) Error {
	return Error{
		Code:         code,
		Message:      CopyData(len(message), []byte(message)),
		AttemptCount: attemptCount,
	}
}

// Error implements the error interface. It reads Message, so it must not be
// called after Release.
func (e Error) Error() string {
	if e.AttemptCount == AttemptCountNotApplicable {
		return fmt.Sprintf("%s: %s", e.Code, e.Message.String())
	}
	return fmt.Sprintf("%s: %s (attempts %d)", e.Code, e.Message.String(), e.AttemptCount)
}

// HasAttemptCount reports whether AttemptCount carries a value.
func (e Error) HasAttemptCount() bool {
	return e.AttemptCount != AttemptCountNotApplicable
}

// Release releases the message Buffer.
func (e Error) Release() {
	e.Message.Release()
}
