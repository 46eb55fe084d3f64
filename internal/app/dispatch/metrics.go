package dispatch

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// outcomeReplied is the outcome label for successful calls; failures use
	// the failure kind.
	outcomeReplied      = "replied"
	unknownAddressLabel = "unknown"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewMetrics creates the dispatcher collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actionbus",
			Name:      "dispatch_calls_total",
			Help:      "Dispatched action calls by address and outcome.",
		}, []string{"address", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actionbus",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from receipt to reply or failure, by address.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"address"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "actionbus",
			Name:      "dispatch_inflight",
			Help:      "Calls received and not yet replied or failed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.calls, m.duration, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering dispatch metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) begin() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) end(address, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.calls.WithLabelValues(address, outcome).Inc()
	m.duration.WithLabelValues(address).Observe(seconds)
}
