package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/logger"
)

const (
	// FrameMetadata is the extension frame type carrying an HPACK-encoded metadata block.
	FrameMetadata http2.FrameType = 0x4d
	// FlagEndMetadata marks the last METADATA frame of a block.
	FlagEndMetadata http2.Flags = 0x4

	defaultHeaderTableSize = 4096
)

// H2Source reads the server-to-client side of an HTTP/2 connection and feeds
// the frames of one stream into a sink.
//
// It only reads: SETTINGS, PING and WINDOW_UPDATE frames are skipped and
// acknowledging them is the writer's business. Frames of other streams are
// ignored.
type H2Source struct {
	StreamID uint32
	// HeaderTableSize is the HPACK dynamic table size announced to the peer.
	// Zero means 4096.
	HeaderTableSize uint32
	// MaxHeaderListSize bounds decoded header, trailer and metadata blocks.
	// Zero means abi.DefaultMaxHeaderListSize.
	MaxHeaderListSize uint32
	AttemptCount      int32
	Logger            *logger.Logger
}

// h2Run is the per-call state of H2Source.Run.
type h2Run struct {
	src         H2Source
	sink        Sink
	headersSeen bool
	metadata    *abi.HeaderCodec
	pendingMeta []byte
}

// Run reads frames from r until the stream ends, fails or ctx is done. If r is
// an io.Closer it is closed when ctx ends to unblock the read. Results follow
// HTTPResponseSource.Run.
//
// Frames map onto stream events as follows (RFC 9113 Section 8.1):
//   - The first HEADERS with a final status becomes the headers event. 1xx
//     blocks (RFC 9110 Section 15.2) are skipped.
//   - DATA becomes data events. END_STREAM on DATA or HEADERS ends the response
//     and Run sends complete.
//   - A second HEADERS must carry END_STREAM and no pseudo-headers
//     (RFC 9113 Section 8.1). It becomes the trailers event.
//   - METADATA (type 0x4d) fragments are joined until END_METADATA and decoded
//     with their own HPACK context.
//   - RST_STREAM ends the stream with STREAM_RESET.
//   - A GOAWAY that excludes this stream, or EOF, ends it with CONNECTION_FAILURE.
//   - Malformed frames for this stream, including header blocks the framer
//     rejects (RFC 9113 Section 8.2), end it with UNDEFINED_ERROR.
func (src H2Source) Run(ctx context.Context, sink Sink, r io.Reader) error {
	if src.StreamID == 0 {
		return errors.New("upstream: stream id 0 is the connection control stream")
	}
	closer, _ := r.(io.Closer)
	stop := cancelOnDone(ctx, sink, closer)
	defer stop()

	maxList := src.MaxHeaderListSize
	if maxList == 0 {
		maxList = abi.DefaultMaxHeaderListSize
	}
	tableSize := src.HeaderTableSize
	if tableSize == 0 {
		tableSize = defaultHeaderTableSize
	}
	fr := http2.NewFramer(nil, r)
	fr.ReadMetaHeaders = hpack.NewDecoder(tableSize, nil)
	fr.MaxHeaderListSize = maxList

	run := &h2Run{
		src:      src,
		sink:     sink,
		metadata: abi.NewHeaderCodec(tableSize, maxList),
	}

	for {
		f, err := fr.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				sink.Cancel()
				return ctx.Err()
			}
			var se http2.StreamError
			if errors.As(err, &se) {
				if se.StreamID != src.StreamID {
					continue
				}
				// The framer rejected a malformed frame of ours; only RST_STREAM is a reset.
				reason := se.Code.String()
				if se.Cause != nil {
					reason = se.Cause.Error()
				}
				return run.fail(ctx, abi.ErrorCodeUndefined, "protocol error: "+reason, err)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return run.fail(ctx, abi.ErrorCodeConnectionFailure, "connection closed before end of stream", err)
			}
			return run.fail(ctx, abi.ErrorCodeConnectionFailure, fmt.Sprintf("reading frame: %v", err), err)
		}

		if ga, ok := f.(*http2.GoAwayFrame); ok {
			if ga.LastStreamID >= src.StreamID {
				// Graceful shutdown: this stream is still processed.
				continue
			}
			msg := fmt.Sprintf("connection closed by GOAWAY (%v)", ga.ErrCode)
			if dbg := ga.DebugData(); len(dbg) > 0 {
				msg += ": " + string(dbg)
			}
			return run.fail(ctx, abi.ErrorCodeConnectionFailure, msg, nil)
		}
		if f.Header().StreamID != src.StreamID {
			continue
		}

		done, err := run.handle(f)
		if err != nil {
			return stopped(ctx, err)
		}
		if done {
			return stopped(ctx, sink.SendComplete())
		}
	}
}

// handle dispatches one frame of the stream. done reports that the response ended.
func (run *h2Run) handle(f http2.Frame) (done bool, err error) {
	switch f := f.(type) {
	case *http2.MetaHeadersFrame:
		return run.headers(f)
	case *http2.DataFrame:
		if !run.headersSeen {
			return true, run.protocolError("DATA before response headers")
		}
		data := f.Data()
		if len(data) == 0 && !f.StreamEnded() {
			return false, nil
		}
		if err := run.sink.SendData(abi.CopyData(len(data), data), f.StreamEnded()); err != nil {
			return true, err
		}
		return f.StreamEnded(), nil
	case *http2.RSTStreamFrame:
		msg := fmt.Sprintf("stream reset by peer (%v)", f.ErrCode)
		return true, run.sendError(abi.ErrorCodeStreamReset, msg)
	case *http2.UnknownFrame:
		if f.Header().Type != FrameMetadata {
			return false, nil
		}
		return run.metadataFragment(f)
	}
	return false, nil
}

func (run *h2Run) headers(f *http2.MetaHeadersFrame) (bool, error) {
	if f.Truncated {
		return true, run.protocolError(fmt.Sprintf("header block exceeds %d bytes", run.src.maxHeaderListSize()))
	}
	if !run.headersSeen {
		if status := f.PseudoValue("status"); strings.HasPrefix(status, "1") && !f.StreamEnded() {
			run.src.Logger.Debug("Skipping informational response", logger.LogFields{"status": status})
			return false, nil
		}
		run.headersSeen = true
		if err := run.sink.SendHeaders(abi.HeadersFromFields(f.Fields), f.StreamEnded()); err != nil {
			return true, err
		}
		return f.StreamEnded(), nil
	}
	if !f.StreamEnded() {
		return true, run.protocolError("second HEADERS frame without END_STREAM")
	}
	if pseudo := f.PseudoFields(); len(pseudo) > 0 {
		return true, run.protocolError(fmt.Sprintf("pseudo-header %s in trailers", pseudo[0].Name))
	}
	if err := run.sink.SendTrailers(abi.HeadersFromFields(f.Fields)); err != nil {
		return true, err
	}
	return true, nil
}

// metadataFragment buffers METADATA payloads until END_METADATA, then decodes the block.
func (run *h2Run) metadataFragment(f *http2.UnknownFrame) (bool, error) {
	if !run.headersSeen {
		return true, run.protocolError("METADATA before response headers")
	}
	run.pendingMeta = append(run.pendingMeta, f.Payload()...)
	if !f.Header().Flags.Has(FlagEndMetadata) {
		return false, nil
	}
	block := run.pendingMeta
	run.pendingMeta = nil
	md, err := run.metadata.Decode(block)
	if err != nil {
		return true, run.protocolError(err.Error())
	}
	return false, run.sink.SendMetadata(md)
}

func (run *h2Run) protocolError(reason string) error {
	return run.sendError(abi.ErrorCodeUndefined, "protocol error: "+reason)
}

func (run *h2Run) sendError(code abi.ErrorCode, msg string) error {
	run.src.Logger.Warn("Upstream stream failed", logger.LogFields{
		"stream_id": run.src.StreamID,
		"code":      code.String(),
		"error":     msg,
	})
	if err := run.sink.SendError(abi.NewError(code, msg, run.src.AttemptCount)); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrUpstreamFailed, msg)
}

// fail terminates the stream with an error event and returns cause (or the
// sink's rejection) to the caller.
func (run *h2Run) fail(ctx context.Context, code abi.ErrorCode, msg string, cause error) error {
	err := run.sendError(code, msg)
	if !errors.Is(err, ErrUpstreamFailed) {
		return stopped(ctx, err)
	}
	if cause == nil {
		return err
	}
	return fmt.Errorf("%w: %w", err, cause)
}

func (src H2Source) maxHeaderListSize() uint32 {
	if src.MaxHeaderListSize == 0 {
		return abi.DefaultMaxHeaderListSize
	}
	return src.MaxHeaderListSize
}
