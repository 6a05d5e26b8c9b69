// Package metrics exposes Prometheus collectors for handshakes and streaming
// sessions. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "noisr"

// Handshake and session outcomes used as label values.
const (
	ResultOK           = "ok"
	ResultTimeout      = "timeout"
	ResultUnavailable  = "unavailable"
	ResultTransport    = "transport_error"
	ResultCanceled     = "canceled"
	OutcomeStopped     = "stopped"
	OutcomeFailed      = "failed"
	OutcomeStartFailed = "start_failed"
)

// Collector groups the protocol metrics.
type Collector struct {
	handshakes        *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	sessionsActive    prometheus.Gauge
	sessions          *prometheus.CounterVec
	samples           prometheus.Counter
	decodeErrors      prometheus.Counter
	rate              prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handshake",
				Name:      "total",
				Help:      "Handshakes by result.",
			},
			[]string{"result"},
		),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Handshake duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Streaming sessions currently running.",
		}),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "finished_total",
				Help:      "Streaming sessions by outcome.",
			},
			[]string{"outcome"},
		),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "samples_total",
			Help:      "Samples delivered to consumers.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Malformed sample frames.",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rate_hz",
			Help:      "Configured sampling rate of the latest session.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.handshakes, c.handshakeDuration, c.sessionsActive,
			c.sessions, c.samples, c.decodeErrors, c.rate)
	}
	return c
}

// ObserveHandshake records one handshake attempt.
func (c *Collector) ObserveHandshake(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.handshakes.WithLabelValues(result).Inc()
	c.handshakeDuration.Observe(d.Seconds())
}

// SessionStarted marks a session as streaming.
func (c *Collector) SessionStarted(rate int) {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
	c.rate.Set(float64(rate))
}

// SessionFinished records how a streaming session ended.
func (c *Collector) SessionFinished(outcome string) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.sessions.WithLabelValues(outcome).Inc()
}

// SessionStartFailed records a session that never reached streaming.
func (c *Collector) SessionStartFailed() {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(OutcomeStartFailed).Inc()
}

// RateChanged records a live rate update.
func (c *Collector) RateChanged(rate int) {
	if c == nil {
		return
	}
	c.rate.Set(float64(rate))
}

// SampleDelivered counts one delivered sample.
func (c *Collector) SampleDelivered() {
	if c == nil {
		return
	}
	c.samples.Inc()
}

// DecodeError counts one malformed frame.
func (c *Collector) DecodeError() {
	if c == nil {
		return
	}
	c.decodeErrors.Inc()
}
