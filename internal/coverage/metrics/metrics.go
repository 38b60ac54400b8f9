// Package metrics exposes engine statistics as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/probe"
	errs "github.com/coral-mesh/jitcov/internal/errors"
)

// Namespace prefixes every metric name.
const Namespace = "jitcov"

// Stats collects engine statistics. Model gauges are computed at scrape
// time; JIT and module outcomes are counted as they happen.
type Stats struct {
	model    *metadata.Model
	registry *prometheus.Registry

	jit     *prometheus.CounterVec
	modules *prometheus.CounterVec

	modulesDesc     *prometheus.Desc
	typesDesc       *prometheus.Desc
	methodsDesc     *prometheus.Desc
	coveredDesc     *prometheus.Desc
	invocationsDesc *prometheus.Desc
}

// New creates statistics over model and registers them in a fresh
// registry.
func New(model *metadata.Model) *Stats {
	s := &Stats{
		model:    model,
		registry: prometheus.NewRegistry(),
		jit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jit_compilations_total",
			Help:      "JIT compilations handled, by outcome.",
		}, []string{"outcome"}),
		modules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "module_loads_total",
			Help:      "Module load notifications, by filter decision.",
		}, []string{"decision"}),
		modulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "modules"),
			"Tracked modules, by state.",
			[]string{"state"}, nil,
		),
		typesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "types"),
			"Tracked type definitions.",
			nil, nil,
		),
		methodsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "methods"),
			"Tracked method definitions.",
			nil, nil,
		),
		coveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "methods_covered"),
			"Tracked methods invoked at least once.",
			nil, nil,
		),
		invocationsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "invocations_total"),
			"Invocations recorded across all tracked methods.",
			nil, nil,
		),
	}
	errs.Must(s.registry.Register(s.jit), "register jit counter")
	errs.Must(s.registry.Register(s.modules), "register module counter")
	errs.Must(s.registry.Register(s), "register model collector")
	return s
}

// Registry returns the registry holding every engine metric.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// ObserveJIT implements probe.Observer.
func (s *Stats) ObserveJIT(outcome probe.Outcome) {
	s.jit.WithLabelValues(outcome.String()).Inc()
}

// ObserveModule counts one module load notification.
func (s *Stats) ObserveModule(accepted bool) {
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	s.modules.WithLabelValues(decision).Inc()
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.modulesDesc
	ch <- s.typesDesc
	ch <- s.methodsDesc
	ch <- s.coveredDesc
	ch <- s.invocationsDesc
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	st := s.model.Stats()

	var covered int
	var invocations uint64
	s.model.Walk(func(_ *metadata.Module, _ *metadata.Type, m *metadata.Method) {
		n := m.Invocations()
		if n > 0 {
			covered++
		}
		invocations += n
	})

	ch <- prometheus.MustNewConstMetric(s.modulesDesc, prometheus.GaugeValue, float64(st.Modules), "loaded")
	ch <- prometheus.MustNewConstMetric(s.modulesDesc, prometheus.GaugeValue, float64(st.Unloaded), "unloaded")
	ch <- prometheus.MustNewConstMetric(s.typesDesc, prometheus.GaugeValue, float64(st.Types))
	ch <- prometheus.MustNewConstMetric(s.methodsDesc, prometheus.GaugeValue, float64(st.Methods))
	ch <- prometheus.MustNewConstMetric(s.coveredDesc, prometheus.GaugeValue, float64(covered))
	ch <- prometheus.MustNewConstMetric(s.invocationsDesc, prometheus.CounterValue, float64(invocations))
}

var _ probe.Observer = (*Stats)(nil)
