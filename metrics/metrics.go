// Package metrics defines the instrumentation seam for the facilitator
// service. A Recorder counts protocol operations; the Prometheus
// implementation exposes them on /metrics and the Noop implementation makes
// instrumentation optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/open-aibank/x402-tron"
)

// Recorder observes protocol operations.
type Recorder interface {
	// RecordVerify counts one verification and its outcome.
	RecordVerify(network x402.Network, scheme string, valid bool)

	// RecordSettle counts one settlement, its outcome and how long the
	// chain round-trip took.
	RecordSettle(network x402.Network, scheme string, success bool, duration time.Duration)

	// RecordFeeQuote counts one fee quote.
	RecordFeeQuote(network x402.Network, scheme string)
}

// Noop discards all observations.
type Noop struct{}

func (Noop) RecordVerify(x402.Network, string, bool)                {}
func (Noop) RecordSettle(x402.Network, string, bool, time.Duration) {}
func (Noop) RecordFeeQuote(x402.Network, string)                    {}

// Prometheus records operations into a Prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry

	verifies      *prometheus.CounterVec
	settles       *prometheus.CounterVec
	settleLatency *prometheus.HistogramVec
	feeQuotes     *prometheus.CounterVec
}

// NewPrometheus creates a recorder with its own registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	p := &Prometheus{
		registry: registry,
		verifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_verifications_total",
			Help: "Payment verifications by network, scheme and outcome.",
		}, []string{"network", "scheme", "outcome"}),
		settles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_settlements_total",
			Help: "Payment settlements by network, scheme and outcome.",
		}, []string{"network", "scheme", "outcome"}),
		settleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "x402_settlement_duration_seconds",
			Help:    "Settlement latency including receipt confirmation.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"network", "scheme"}),
		feeQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_fee_quotes_total",
			Help: "Fee quotes by network and scheme.",
		}, []string{"network", "scheme"}),
	}

	registry.MustRegister(p.verifies, p.settles, p.settleLatency, p.feeQuotes)
	return p
}

func (p *Prometheus) RecordVerify(network x402.Network, scheme string, valid bool) {
	p.verifies.WithLabelValues(string(network), scheme, outcome(valid)).Inc()
}

func (p *Prometheus) RecordSettle(network x402.Network, scheme string, success bool, duration time.Duration) {
	p.settles.WithLabelValues(string(network), scheme, outcome(success)).Inc()
	p.settleLatency.WithLabelValues(string(network), scheme).Observe(duration.Seconds())
}

func (p *Prometheus) RecordFeeQuote(network x402.Network, scheme string) {
	p.feeQuotes.WithLabelValues(string(network), scheme).Inc()
}

// Handler serves the recorder's registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
