package tracker

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	live       *prometheus.GaugeVec
	registered *prometheus.CounterVec
	reclaimed  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tuff",
			Subsystem: "sandbox",
			Name:      "live_handles",
			Help:      "Tracked runtime handles that have not exited, per plugin.",
		}, []string{"plugin"}),
		registered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuff",
			Subsystem: "sandbox",
			Name:      "handles_registered_total",
			Help:      "Runtime handles registered, per plugin.",
		}, []string{"plugin"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuff",
			Subsystem: "sandbox",
			Name:      "handles_reclaimed_total",
			Help:      "Runtime handles forcibly reclaimed, per plugin.",
		}, []string{"plugin"}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.registered, m.reclaimed)
	}
	return m
}

// forget drops the plugin's live gauge series once it owns no handles.
func (m *metrics) forget(plugin string) {
	m.live.DeleteLabelValues(plugin)
}
