package pingpong

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors updated by the listener, handlers
// and client sessions. A nil *Metrics is valid and records nothing.
type Metrics struct {
	accepted       prometheus.Counter
	acceptErrors   prometheus.Counter
	activeHandlers prometheus.Gauge
	handled        *prometheus.CounterVec // by final handler state
	sendErrors     prometheus.Counter
	bytesReceived  prometheus.Counter
	clientRuns     *prometheus.CounterVec // by outcome
	clientRTT      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_connections_accepted_total",
			Help: "Total number of accepted TCP connections",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_accept_errors_total",
			Help: "Total number of failed accept calls",
		}),
		activeHandlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingpong_active_handlers",
			Help: "Number of connection handlers currently receiving",
		}),
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pingpong_connections_handled_total",
				Help: "Total number of handled connections by final state",
			},
			[]string{"state"},
		),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_send_errors_total",
			Help: "Total number of failed reply sends",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_received_bytes_total",
			Help: "Total number of payload bytes received by handlers",
		}),
		clientRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pingpong_client_sessions_total",
				Help: "Total number of client sessions by outcome",
			},
			[]string{"outcome"},
		),
		clientRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pingpong_client_rtt_seconds",
			Help:    "Round-trip time of successful client sessions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.accepted,
		m.acceptErrors,
		m.activeHandlers,
		m.handled,
		m.sendErrors,
		m.bytesReceived,
		m.clientRuns,
		m.clientRTT,
	)
	return m
}

func (m *Metrics) connAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) acceptFailed() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *Metrics) handlerStarted() {
	if m != nil {
		m.activeHandlers.Inc()
	}
}

func (m *Metrics) handlerFinished(state HandlerState, received int) {
	if m == nil {
		return
	}
	m.activeHandlers.Dec()
	m.handled.WithLabelValues(state.String()).Inc()
	m.bytesReceived.Add(float64(received))
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) clientFinished(outcome string, rtt time.Duration) {
	if m == nil {
		return
	}
	m.clientRuns.WithLabelValues(outcome).Inc()
	if outcome == outcomeOK {
		m.clientRTT.Observe(rtt.Seconds())
	}
}
