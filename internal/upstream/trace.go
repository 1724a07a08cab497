package upstream

import (
	"net/http"

	"go.opentelemetry.io/otel/propagation"

	"example.com/streambridge/internal/stream"
)

var tracePropagator propagation.TextMapPropagator = propagation.TraceContext{}

// InjectTraceContext writes the W3C trace context of the stream's span into h,
// so the upstream request joins the stream's trace. Nothing is written when
// tracing is disabled.
func InjectTraceContext(s *stream.Stream, h http.Header) {
	tracePropagator.Inject(s.TraceContext(), propagation.HeaderCarrier(h))
}
