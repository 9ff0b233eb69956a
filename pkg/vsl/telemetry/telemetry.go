// Package telemetry wires the scheduler's pump loop to Prometheus
// metrics and an optional websocket dashboard bridge (SPEC_FULL.md
// §4.8). Nothing here is required by any of spec.md's testable
// properties -- it is a host-dashboard convenience.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the counters/gauges the scheduler updates on every
// pump iteration and segment transition.
type Registry struct {
	PumpIterations     prometheus.Counter
	SegmentTransitions prometheus.Counter
	CachePercent       prometheus.Gauge

	reg *prometheus.Registry
}

// NewRegistry builds a fresh, unregistered-with-default Registry so
// multiple Scheduler instances in one process never collide on metric
// names.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		PumpIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsl_pump_iterations_total",
			Help: "Number of scheduler pump iterations executed.",
		}),
		SegmentTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsl_segment_transitions_total",
			Help: "Number of segment advances performed by the scheduler.",
		}),
		CachePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsl_cache_percent",
			Help: "Last reported global cache fraction, as a percent.",
		}),
	}

	reg.MustRegister(r.PumpIterations, r.SegmentTransitions, r.CachePercent)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP
// metrics handler (see cmd/vslplay).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
