package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	devices     prometheus.Gauge
	pending     prometheus.Gauge
	resolutions *prometheus.CounterVec
	droppedAcks prometheus.Counter
	ackLatency  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotm",
			Subsystem: "gateway",
			Name:      "devices_connected",
			Help:      "Registered sending devices.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autotm",
			Subsystem: "gateway",
			Name:      "requests_pending",
			Help:      "Delivery requests awaiting a device ack.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotm",
			Subsystem: "gateway",
			Name:      "resolutions_total",
			Help:      "Delivery request outcomes.",
		}, []string{"status", "reason"}),
		droppedAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotm",
			Subsystem: "gateway",
			Name:      "acks_dropped_total",
			Help:      "Acks with no matching pending request (late, duplicate or foreign).",
		}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autotm",
			Subsystem: "gateway",
			Name:      "ack_latency_seconds",
			Help:      "Time from push to device ack.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.devices, m.pending, m.resolutions, m.droppedAcks, m.ackLatency)
	}
	return m
}

func (m *Metrics) setCounts(devices, pending int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(devices))
	m.pending.Set(float64(pending))
}

func (m *Metrics) observeResolution(r Resolution, acked bool) {
	if m == nil {
		return
	}
	reason := "ack"
	if !acked {
		reason = r.Error
	}
	m.resolutions.WithLabelValues(string(r.Status), reason).Inc()
	if acked {
		m.ackLatency.Observe(r.Latency.Seconds())
	}
}

func (m *Metrics) observeDroppedAck() {
	if m == nil {
		return
	}
	m.droppedAcks.Inc()
}

