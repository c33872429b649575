package callcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallMetrics collects the Prometheus series specific to call-lifecycle
// bookkeeping, complementing the counters pkg/invite.Metrics already shares
// with pkg/rel100 (active/total/rejected calls, transfer outcomes).
type CallMetrics struct {
	CallDuration prometheus.Histogram
	HoldActive   prometheus.Gauge
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sipcallcore", Name: "call_duration_seconds",
			Help:    "Wall-clock duration of confirmed calls, from answer to hangup.",
			Buckets: prometheus.DefBuckets,
		}),
		HoldActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipcallcore", Name: "hold_active",
			Help: "Number of calls currently locally held.",
		}),
	}
	for _, c := range []prometheus.Collector{m.CallDuration, m.HoldActive} {
		if reg != nil {
			reg.Register(c)
		}
	}
	return m
}

// NewNoopCallMetrics returns a CallMetrics whose collectors are never
// registered, for tests that do not care about Prometheus wiring.
func NewNoopCallMetrics() *CallMetrics { return NewCallMetrics(nil) }

func (m *CallMetrics) observeCallDuration(connTime, disTime time.Time) {
	if connTime.IsZero() || disTime.IsZero() {
		return
	}
	m.CallDuration.Observe(disTime.Sub(connTime).Seconds())
}
