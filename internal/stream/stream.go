package stream

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/logger"
)

const tracerName = "example.com/streambridge/internal/stream"

// Options configures a Stream. Every field is optional.
type Options struct {
	Logger  *logger.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
	// OnDone runs on the delivery goroutine after the terminal callback returned
	// and before Done is closed.
	OnDone func(s *Stream)
}

// event is one queued callback invocation together with the payload it hands over.
type event struct {
	kind      Event
	endStream bool
	headers   abi.Headers
	data      abi.Buffer
	err       abi.Error
}

// release frees the payload of an event that will never reach the consumer.
func (ev *event) release() {
	ev.headers.Release()
	ev.data.Release()
	ev.err.Release()
}

// Stream delivers the events of one HTTP exchange to a consumer's callbacks.
//
// Producers call the Send methods; the consumer may call Cancel. Every accepted
// event is queued in order and handed to the callbacks by a single delivery
// goroutine, so callbacks of one stream never run concurrently. The terminal
// event is chosen at one lock-protected point: once it is queued, all further
// events and cancellations are rejected.
type Stream struct {
	handle    abi.StreamHandle
	callbacks abi.HTTPCallbacks
	log       *logger.Logger
	metrics   *Metrics
	span      trace.Span
	onDone    func(*Stream)

	mu        sync.Mutex
	validator Validator
	queue     []event
	wake      chan struct{}

	done    chan struct{}
	outcome Outcome
}

// New creates a stream and starts its delivery goroutine.
// The callbacks must have every terminal slot set.
func New(handle abi.StreamHandle, callbacks abi.HTTPCallbacks, opts Options) (*Stream, error) {
	if err := callbacks.Validate(); err != nil {
		return nil, fmt.Errorf("stream %d: %w", handle, err)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	_, span := tracer.Start(context.Background(), "stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("stream.handle", int64(handle))),
	)

	s := &Stream{
		handle:    handle,
		callbacks: callbacks,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		span:      span,
		onDone:    opts.OnDone,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.metrics.streamStarted()
	go s.run()
	return s, nil
}

// Handle returns the stream's handle.
func (s *Stream) Handle() abi.StreamHandle { return s.handle }

// State returns the committed state. It may run ahead of delivery: a queued
// terminal event already counts.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validator.State()
}

// TraceContext returns a context carrying the stream's span, for propagating
// it to the upstream request.
func (s *Stream) TraceContext() context.Context {
	return trace.ContextWithSpan(context.Background(), s.span)
}

// Done is closed after the terminal callback returned.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome, or nil while the stream is still running.
func (s *Stream) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return nil
	}
}

// SendHeaders hands headers to the consumer. endStream marks a headers-only response.
func (s *Stream) SendHeaders(headers abi.Headers, endStream bool) error {
	return s.offer(event{kind: EventHeaders, headers: headers, endStream: endStream})
}

// SendData hands one body chunk to the consumer. endStream marks the last chunk.
func (s *Stream) SendData(data abi.Buffer, endStream bool) error {
	return s.offer(event{kind: EventData, data: data, endStream: endStream})
}

// SendMetadata hands a metadata block to the consumer.
func (s *Stream) SendMetadata(metadata abi.Headers) error {
	return s.offer(event{kind: EventMetadata, headers: metadata})
}

// SendTrailers hands trailers to the consumer and ends the response.
func (s *Stream) SendTrailers(trailers abi.Headers) error {
	return s.offer(event{kind: EventTrailers, headers: trailers})
}

// SendError terminates the stream with err.
func (s *Stream) SendError(err abi.Error) error {
	return s.offer(event{kind: EventError, err: err})
}

// SendComplete terminates a stream whose response has ended.
func (s *Stream) SendComplete() error {
	return s.offer(event{kind: EventComplete})
}

// Cancel asks for the stream to end with OnCancel. It reports whether the
// cancellation won; false means a terminal event was already committed and
// the request is a no-op.
func (s *Stream) Cancel() bool {
	return s.offer(event{kind: EventCancel}) == nil
}

// offer validates ev against the state machine and queues it. Ownership of the
// payload passes to the stream either way: a rejected event is released here.
//
// Validation and enqueueing happen under s.mu, so the queue order is the order
// in which events were accepted. A terminal event (error, complete or cancel)
// moves the validator to its final state in the same critical section. That
// makes the first terminal event the only winner of a race between Cancel and
// a producer's SendComplete or SendError; the loser gets a
// *ContractViolationError wrapping ErrStreamClosed.
//
// The delivery goroutine is woken with a non-blocking send on s.wake, which has
// a buffer of one; run drains the whole queue on each wake. Rejected cancels
// are not counted as violations.
func (s *Stream) offer(ev event) error {
	s.mu.Lock()
	if err := s.validator.Apply(ev.kind, ev.endStream); err != nil {
		s.mu.Unlock()
		ev.release()
		if cv, ok := err.(*ContractViolationError); ok {
			cv.Handle = s.handle
		}
		if ev.kind != EventCancel {
			s.metrics.violation(ev.kind)
			s.log.Warn("Rejected out-of-order stream event", logger.LogFields{
				"stream": int64(s.handle),
				"event":  ev.kind.String(),
				"error":  err.Error(),
			})
		}
		return err
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Stream) run() {
	ctx := s.callbacks.Context
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			ctx = s.deliver(ev, ctx)
			if ev.kind.Terminal() {
				s.finish(ev)
				return
			}
		}
	}
}

// deliver invokes the callback for ev and returns the context for the next one.
// A nil slot means the consumer does not want the event, so its payload is released here.
func (s *Stream) deliver(ev event, ctx any) (next any) {
	next = ctx
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic in stream callback", logger.LogFields{
				"stream": int64(s.handle),
				"event":  ev.kind.String(),
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			})
		}
	}()

	if s.log.DebugEnabled() {
		s.log.Debug("Delivering stream event", logger.LogFields{
			"stream":     int64(s.handle),
			"event":      ev.kind.String(),
			"end_stream": ev.endStream,
		})
	}
	s.span.AddEvent(ev.kind.String(), trace.WithAttributes(attribute.Bool("end_stream", ev.endStream)))
	s.metrics.delivered(ev.kind, ev.data.Len())

	cb := s.callbacks
	switch ev.kind {
	case EventHeaders:
		if cb.OnHeaders == nil {
			ev.headers.Release()
			return next
		}
		return cb.OnHeaders(ev.headers, ev.endStream, ctx)
	case EventData:
		if cb.OnData == nil {
			ev.data.Release()
			return next
		}
		return cb.OnData(ev.data, ev.endStream, ctx)
	case EventMetadata:
		if cb.OnMetadata == nil {
			ev.headers.Release()
			return next
		}
		return cb.OnMetadata(ev.headers, ctx)
	case EventTrailers:
		if cb.OnTrailers == nil {
			ev.headers.Release()
			return next
		}
		return cb.OnTrailers(ev.headers, ctx)
	case EventError:
		s.span.SetStatus(codes.Error, ev.err.Error())
		return cb.OnError(ev.err, ctx)
	case EventComplete:
		return cb.OnComplete(ctx)
	case EventCancel:
		return cb.OnCancel(ctx)
	}
	return next
}

func (s *Stream) finish(ev event) {
	switch ev.kind {
	case EventError:
		s.outcome = Errored{Code: ev.err.Code, AttemptCount: ev.err.AttemptCount}
	case EventComplete:
		s.outcome = Completed{}
	default:
		s.outcome = Cancelled{}
	}
	state := s.outcome.State()
	s.metrics.terminated(state)
	s.span.SetAttributes(attribute.String("stream.outcome", state.String()))
	s.span.End()
	s.log.Debug("Stream terminated", logger.LogFields{"stream": int64(s.handle), "outcome": state.String()})

	if s.onDone != nil {
		s.onDone(s)
	}
	close(s.done)
}
