// Package engine is the engine-side shell of the stream boundary: it hands out
// stream handles, routes cancellation to the right stream and fires the engine
// lifecycle callback when the instance shuts down. It does no networking itself;
// producers in package upstream feed events into the streams it creates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/config"
	"example.com/streambridge/internal/logger"
	"example.com/streambridge/internal/stream"
)

// ErrEngineTerminated is returned by Terminate when the engine already shut down.
var ErrEngineTerminated = errors.New("engine: already terminated")

var engineHandles atomic.Int64

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records stream metrics into m.
func WithMetrics(m *stream.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer creates stream spans with t instead of the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine owns the streams of one engine instance.
type Engine struct {
	handle    abi.EngineHandle
	cfg       *config.Config
	log       *logger.Logger
	callbacks abi.EngineCallbacks
	streams   *stream.Registry
	metrics   *stream.Metrics
	tracer    trace.Tracer
	network   atomic.Int32

	mu         sync.RWMutex // guards terminated against concurrent StartStream
	terminated bool
	exitOnce   sync.Once
}

// New creates an engine. A nil cfg uses config.Default(); a nil logger discards output.
func New(cfg *config.Config, callbacks abi.EngineCallbacks, lg *logger.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		config.ApplyDefaults(cfg)
	}
	if lg == nil {
		lg = logger.Nop()
	}
	network, err := abi.ParseNetworkType(*cfg.Engine.PreferredNetwork)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		handle:    abi.EngineHandle(engineHandles.Add(1)),
		cfg:       cfg,
		callbacks: callbacks,
		streams:   stream.NewRegistry(),
	}
	e.log = lg.With(logger.LogFields{"engine": int64(e.handle)})
	e.network.Store(int32(network))
	for _, opt := range opts {
		opt(e)
	}
	e.log.Info("Engine started", logger.LogFields{"preferred_network": network.String()})
	return e, nil
}

// Handle returns the engine's handle.
func (e *Engine) Handle() abi.EngineHandle { return e.handle }

// StartStream registers a new stream delivering to callbacks. It fails when the
// engine was terminated or a terminal callback slot is missing.
func (e *Engine) StartStream(callbacks abi.HTTPCallbacks) (abi.StreamHandle, *stream.Stream, abi.Status) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.terminated {
		e.log.Warn("StartStream called on terminated engine", nil)
		return 0, nil, abi.StatusFailure
	}

	h := e.streams.NextHandle()
	s, err := stream.New(h, callbacks, stream.Options{
		Logger:  e.log,
		Metrics: e.metrics,
		Tracer:  e.tracer,
		OnDone:  func(s *stream.Stream) { e.streams.Remove(s.Handle()) },
	})
	if err != nil {
		e.log.Error("Failed to start stream", logger.LogFields{"error": err.Error()})
		return 0, nil, abi.StatusFailure
	}
	if err := e.streams.Add(s); err != nil {
		s.Cancel()
		e.log.Error("Failed to register stream", logger.LogFields{"error": err.Error()})
		return 0, nil, abi.StatusFailure
	}
	e.log.Debug("Stream started", logger.LogFields{"stream": int64(h)})
	return h, s, abi.StatusSuccess
}

// Stream returns the live stream registered under h.
func (e *Engine) Stream(h abi.StreamHandle) (*stream.Stream, bool) {
	return e.streams.Get(h)
}

// ActiveStreams returns the number of streams without a delivered terminal event.
func (e *Engine) ActiveStreams() int {
	return e.streams.Len()
}

// CancelStream requests cancellation of h. It returns StatusSuccess only when
// the cancellation became the stream's terminal event; an unknown handle or a
// stream whose terminal event was already committed yields StatusFailure.
func (e *Engine) CancelStream(h abi.StreamHandle) abi.Status {
	s, ok := e.streams.Get(h)
	if !ok {
		e.log.Debug("CancelStream on unknown handle", logger.LogFields{"stream": int64(h)})
		return abi.StatusFailure
	}
	if !s.Cancel() {
		return abi.StatusFailure
	}
	return abi.StatusSuccess
}

// SetPreferredNetwork records the network new connections should prefer.
func (e *Engine) SetPreferredNetwork(n abi.NetworkType) abi.Status {
	switch n {
	case abi.NetworkGeneric, abi.NetworkWLAN, abi.NetworkWWAN:
	default:
		return abi.StatusFailure
	}
	e.network.Store(int32(n))
	e.log.Info("Preferred network changed", logger.LogFields{"network": n.String()})
	return abi.StatusSuccess
}

// PreferredNetwork returns the current preferred network.
func (e *Engine) PreferredNetwork() abi.NetworkType {
	return abi.NetworkType(e.network.Load())
}

// Terminate shuts the engine down. In-flight streams are cancelled and awaited
// until ctx expires (or the configured terminate timeout when ctx has no
// deadline); streams still running then are abandoned. OnExit fires exactly once.
func (e *Engine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return ErrEngineTerminated
	}
	e.terminated = true
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Engine.TerminateTimeout.Duration)
		defer cancel()
	}

	var inFlight []*stream.Stream
	e.streams.Range(func(s *stream.Stream) bool {
		inFlight = append(inFlight, s)
		return true
	})
	for _, s := range inFlight {
		s.Cancel()
	}

	for _, s := range inFlight {
		select {
		case <-s.Done():
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	// Only streams whose delivery goroutine is still running count as abandoned.
	abandoned := 0
	for _, s := range inFlight {
		select {
		case <-s.Done():
		default:
			abandoned++
		}
	}

	e.exitOnce.Do(func() {
		if e.callbacks.OnExit != nil {
			e.callbacks.OnExit(e.callbacks.Context)
		}
	})

	if abandoned > 0 {
		e.log.Warn("Engine terminated with abandoned streams", logger.LogFields{"abandoned": abandoned})
		return fmt.Errorf("engine: abandoned %d streams: %w", abandoned, ctx.Err())
	}
	e.log.Info("Engine terminated", logger.LogFields{"streams_cancelled": len(inFlight)})
	return nil
}
