package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for stream delivery.
// A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	terminals  *prometheus.CounterVec
	violations *prometheus.CounterVec
	dataBytes  prometheus.Counter
	active     prometheus.Gauge
}

// NewMetrics registers the stream collectors with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_delivered_total",
				Help:      "Total number of stream events delivered to consumers",
			},
			[]string{"event"},
		),
		terminals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_terminated_total",
				Help:      "Total number of streams by terminal outcome",
			},
			[]string{"outcome"},
		),
		violations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_contract_violations_total",
				Help:      "Total number of events rejected as producer contract violations",
			},
			[]string{"event"},
		),
		dataBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_data_bytes_total",
				Help:      "Total number of body bytes delivered to consumers",
			},
		),
		active: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streams_active",
				Help:      "Current number of streams that have not delivered a terminal event",
			},
		),
	}
}

func (m *Metrics) streamStarted() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) delivered(ev Event, dataLen int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.String()).Inc()
	if dataLen > 0 {
		m.dataBytes.Add(float64(dataLen))
	}
}

func (m *Metrics) terminated(s State) {
	if m == nil {
		return
	}
	m.terminals.WithLabelValues(s.String()).Inc()
	m.active.Dec()
}

func (m *Metrics) violation(ev Event) {
	if m != nil {
		m.violations.WithLabelValues(ev.String()).Inc()
	}
}
