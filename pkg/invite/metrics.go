package invite

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the Prometheus series shared by pkg/rel100 and
// pkg/callcore. Constructed once per process and registered against the
// registry passed to NewMetrics; with a nil registry nothing is registered.
type Metrics struct {
	CallsActive         prometheus.Gauge
	CallsTotal          prometheus.Counter
	CallsRejected       prometheus.Counter
	ReliableRetransmits prometheus.Counter
	ReliableTimeouts    prometheus.Counter
	PrackRoundtrip      prometheus.Histogram
	TransfersTotal      *prometheus.CounterVec

	once sync.Once
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sipcallcore", Name: "calls_active",
			Help: "Number of call slots currently allocated.",
		}),
		CallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcallcore", Name: "calls_total",
			Help: "Total calls allocated since startup.",
		}),
		CallsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcallcore", Name: "calls_rejected_total",
			Help: "Incoming INVITEs rejected for lack of a free slot.",
		}),
		ReliableRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcallcore", Name: "reliable_retransmits_total",
			Help: "100rel provisional retransmissions sent.",
		}),
		ReliableTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipcallcore", Name: "reliable_timeouts_total",
			Help: "Calls ended because a reliable provisional went unacknowledged.",
		}),
		PrackRoundtrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sipcallcore", Name: "prack_roundtrip_seconds",
			Help:    "Time between a reliable provisional being sent and its PRACK arriving.",
			Buckets: prometheus.DefBuckets,
		}),
		TransfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipcallcore", Name: "transfers_total",
			Help: "Transfer attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	for _, c := range []prometheus.Collector{
		m.CallsActive, m.CallsTotal, m.CallsRejected,
		m.ReliableRetransmits, m.ReliableTimeouts, m.PrackRoundtrip, m.TransfersTotal,
	} {
		if reg != nil {
			reg.Register(c)
		}
	}
	return m
}

// NewNoopMetrics returns a Metrics whose collectors are never registered,
// for use in tests that do not care about Prometheus wiring.
func NewNoopMetrics() *Metrics { return NewMetrics(nil) }
