// Package metrics holds the small gauge registry backing the control
// plane's ad-hoc metric push endpoint: an operator or external job can name
// any metric and a value, and it shows up on the shared Prometheus
// exposition alongside the daily rollup and health-transition counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauges is a single gauge vector keyed by metric name.
type Gauges struct {
	gauge *prometheus.GaugeVec
}

// New constructs the gauge vector. reg may be nil to skip registration, as
// the rest of the ambient-metrics constructors do.
func New(reg prometheus.Registerer) *Gauges {
	g := &Gauges{gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "engine",
		Subsystem: "custom",
		Name:      "metric",
		Help:      "Ad-hoc named metric values pushed through the control plane.",
	}, []string{"name"})}
	if reg != nil {
		reg.MustRegister(g.gauge)
	}
	return g
}

// Push sets name's current value.
func (g *Gauges) Push(name string, value float64) {
	g.gauge.WithLabelValues(name).Set(value)
}
