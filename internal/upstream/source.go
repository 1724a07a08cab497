// Package upstream contains producers that turn an upstream HTTP exchange into
// the event sequence of a stream: one from a net/http response and one that
// reads raw HTTP/2 frames for a single stream.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/stream"
)

// DefaultChunkSize is the body chunk size used when a source has none configured.
const DefaultChunkSize = 16 << 10

// ErrUpstreamFailed is wrapped by the error a source returns after it ended the
// stream with an error event of its own.
var ErrUpstreamFailed = errors.New("upstream: stream failed")

// Sink receives the events of one stream. *stream.Stream implements it.
type Sink interface {
	SendHeaders(headers abi.Headers, endStream bool) error
	SendData(data abi.Buffer, endStream bool) error
	SendMetadata(metadata abi.Headers) error
	SendTrailers(trailers abi.Headers) error
	SendError(err abi.Error) error
	SendComplete() error
	Cancel() bool
}

var _ Sink = (*stream.Stream)(nil)

// cancelOnDone cancels sink once ctx is done and closes c (if any) to unblock a
// pending read. The returned func detaches the watcher.
func cancelOnDone(ctx context.Context, sink Sink, c io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		sink.Cancel()
		if c != nil {
			c.Close()
		}
	})
}

// consumerGone reports whether err means the stream already reached a terminal
// event, typically because the consumer cancelled it.
func consumerGone(err error) bool {
	return errors.Is(err, stream.ErrStreamClosed)
}

// stopped maps the outcome of a send to a Run result. A stream ended by ctx
// reports ctx.Err().
func stopped(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUpstreamFailed):
		return err
	case ctx.Err() != nil && consumerGone(err):
		return ctx.Err()
	}
	return fmt.Errorf("upstream: %w", err)
}
