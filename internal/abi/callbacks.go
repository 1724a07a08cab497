package abi

import "errors"

// Callback signatures for one HTTP stream. Every callback receives the context
// returned by the previous callback of the same stream (HTTPCallbacks.Context for
// the first one) and returns the context for the next.
type (
	// OnHeadersFunc receives the response headers. endStream reports a headers-only response.
	OnHeadersFunc func(headers Headers, endStream bool, ctx any) any
	// OnDataFunc receives one body chunk. It may be called many times; endStream marks the last one.
	OnDataFunc func(data Buffer, endStream bool, ctx any) any
	// OnMetadataFunc receives a metadata block. Metadata never ends a stream.
	OnMetadataFunc func(metadata Headers, ctx any) any
	// OnTrailersFunc receives the trailers. End of stream is implied.
	OnTrailersFunc func(trailers Headers, ctx any) any
	// OnErrorFunc is a terminal callback carrying the stream's failure.
	OnErrorFunc func(err Error, ctx any) any
	// OnCompleteFunc is the terminal callback for a stream that finished without error.
	OnCompleteFunc func(ctx any) any
	// OnCancelFunc is the terminal callback for a cancelled stream.
	OnCancelFunc func(ctx any) any
)

// HTTPCallbacks is the set of handlers a consumer registers for one stream.
//
// A nil non-terminal slot means the consumer does not want that event; the
// payload is then released on the consumer's behalf. Exactly one of the three
// terminal slots fires per stream, so all three must be set.
type HTTPCallbacks struct {
	OnHeaders  OnHeadersFunc
	OnData     OnDataFunc
	OnMetadata OnMetadataFunc
	OnTrailers OnTrailersFunc
	OnError    OnErrorFunc
	OnComplete OnCompleteFunc
	OnCancel   OnCancelFunc

	// Context is passed to the first callback and is never interpreted by the engine.
	Context any
}

// ErrMissingTerminalCallback is returned by Validate when a terminal slot is nil.
var ErrMissingTerminalCallback = errors.New("abi: OnError, OnComplete and OnCancel must all be set")

// Validate checks that every terminal slot is wired.
func (c HTTPCallbacks) Validate() error {
	if c.OnError == nil || c.OnComplete == nil || c.OnCancel == nil {
		return ErrMissingTerminalCallback
	}
	return nil
}

// Handler is the method-set form of HTTPCallbacks.
type Handler interface {
	OnHeaders(headers Headers, endStream bool, ctx any) any
	OnData(data Buffer, endStream bool, ctx any) any
	OnMetadata(metadata Headers, ctx any) any
	OnTrailers(trailers Headers, ctx any) any
	OnError(err Error, ctx any) any
	OnComplete(ctx any) any
	OnCancel(ctx any) any
}

// HandlerCallbacks wires every slot of an HTTPCallbacks to h, with ctx as the initial context.
func HandlerCallbacks(h Handler, ctx any) HTTPCallbacks {
	return HTTPCallbacks{
		OnHeaders:  h.OnHeaders,
		OnData:     h.OnData,
		OnMetadata: h.OnMetadata,
		OnTrailers: h.OnTrailers,
		OnError:    h.OnError,
		OnComplete: h.OnComplete,
		OnCancel:   h.OnCancel,
		Context:    ctx,
	}
}

// OnExitFunc is called when the engine is exiting.
type OnExitFunc func(ctx any)

// EngineCallbacks is the set of handlers for engine lifecycle events.
type EngineCallbacks struct {
	OnExit  OnExitFunc
	Context any
}
