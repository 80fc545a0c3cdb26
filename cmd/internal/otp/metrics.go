package otp

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors for the code lifecycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	issued   *prometheus.CounterVec
	verified *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
// A nil reg leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotm",
			Subsystem: "otp",
			Name:      "issued_total",
			Help:      "One-time codes issued, by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotm",
			Subsystem: "otp",
			Name:      "verifications_total",
			Help:      "Verification attempts, by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.issued, m.verified)
	}
	return m
}

func (m *Metrics) observeIssue(purpose Purpose, outcome string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(string(purpose), outcome).Inc()
}

func (m *Metrics) observeVerify(purpose Purpose, outcome string) {
	if m == nil {
		return
	}
	m.verified.WithLabelValues(string(purpose), outcome).Inc()
}
