package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session events. A nil *Metrics records nothing.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotm",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events by kind.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.events)
	}
	return m
}

func (m *Metrics) inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}
