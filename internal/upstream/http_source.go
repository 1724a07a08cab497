package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/logger"
)

// HTTPResponseSource feeds a net/http response into a stream.
//
// The status line and header map become the headers event, the body is copied
// into owned Buffers of at most ChunkSize bytes, and declared trailers that
// arrived with the body end the response. A body read failure terminates the
// stream with CONNECTION_FAILURE.
type HTTPResponseSource struct {
	// ChunkSize bounds each data event. Zero means DefaultChunkSize.
	ChunkSize int
	// AttemptCount is reported on terminal errors. Use abi.AttemptCountNotApplicable
	// when the request was not part of a retry series.
	AttemptCount int32
	Logger       *logger.Logger
}

// Run streams resp into sink and closes resp.Body. It returns nil once the
// stream completed, ctx.Err() when ctx ended the stream (sink is cancelled),
// an error wrapping ErrUpstreamFailed when Run delivered an error event, and
// the sink's rejection otherwise.
//
// Chunks are forwarded as soon as they are read. When the body length is known
// and no trailers were announced, the final chunk carries end-of-stream;
// otherwise the response ends with trailers or an empty end-of-stream chunk.
func (src HTTPResponseSource) Run(ctx context.Context, sink Sink, resp *http.Response) error {
	body := resp.Body
	if body != nil {
		defer body.Close()
	}
	stop := cancelOnDone(ctx, sink, body)
	defer stop()

	if body == nil || body == http.NoBody {
		if err := sink.SendHeaders(abi.HeadersFromHTTP(resp.StatusCode, resp.Header), true); err != nil {
			return stopped(ctx, err)
		}
		return stopped(ctx, sink.SendComplete())
	}
	if err := sink.SendHeaders(abi.HeadersFromHTTP(resp.StatusCode, resp.Header), false); err != nil {
		return stopped(ctx, err)
	}

	size := src.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	knownLength := resp.ContentLength > 0 && len(resp.Trailer) == 0
	buf := make([]byte, size)
	var total int64

	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			end := knownLength && total >= resp.ContentLength
			if serr := sink.SendData(abi.CopyData(n, buf[:n]), end); serr != nil {
				return stopped(ctx, serr)
			}
			if end {
				src.Logger.Debug("Upstream response finished", logger.LogFields{"status": resp.StatusCode, "bytes": total})
				return stopped(ctx, sink.SendComplete())
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				sink.Cancel()
				return ctx.Err()
			}
			src.Logger.Warn("Upstream body read failed", logger.LogFields{"error": err.Error(), "bytes": total})
			msg := fmt.Sprintf("reading response body: %v", err)
			if serr := sink.SendError(abi.NewError(abi.ErrorCodeConnectionFailure, msg, src.AttemptCount)); serr != nil {
				return stopped(ctx, serr)
			}
			return fmt.Errorf("%w: reading response body: %w", ErrUpstreamFailed, err)
		}
	}

	if trailers := trailerHeaders(resp.Trailer); trailers.Len() > 0 {
		if err := sink.SendTrailers(trailers); err != nil {
			return stopped(ctx, err)
		}
	} else if err := sink.SendData(abi.CopyData(0, nil), true); err != nil {
		return stopped(ctx, err)
	}
	src.Logger.Debug("Upstream response finished", logger.LogFields{"status": resp.StatusCode, "bytes": total})
	return stopped(ctx, sink.SendComplete())
}

// trailerHeaders returns the trailers that actually carry values. net/http
// pre-declares announced trailer keys with nil values.
func trailerHeaders(t http.Header) abi.Headers {
	present := make(http.Header, len(t))
	for k, v := range t {
		if len(v) > 0 {
			present[k] = v
		}
	}
	if len(present) == 0 {
		return abi.Headers{}
	}
	return abi.HeadersFromHTTP(0, present)
}
