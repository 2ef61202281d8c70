// Package metrics exposes profiler state and events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/scope-profiler/pkg/profiler"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "scopeprof"

// Collector counts profiler events and samples service state on scrape. It
// implements profiler.Observer; register it with profiler.WithObserver and
// call Bind once the service exists.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	rootsSealed  prometheus.Counter
	nodesSealed  prometheus.Counter
	rootsEvicted prometheus.Counter
	usageErrors  *prometheus.CounterVec
	treeSize     prometheus.Histogram
}

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(c *Collector) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithRuntimeMetrics adds the Go runtime and process collectors.
func WithRuntimeMetrics() Option {
	return func(c *Collector) {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// New creates a Collector with its own registry.
func New(opts ...Option) *Collector {
	c := &Collector{
		namespace: DefaultNamespace,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.rootsSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "roots_sealed_total",
		Help:      "Number of root scopes sealed into history.",
	})
	c.nodesSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "nodes_sealed_total",
		Help:      "Number of scope nodes in sealed trees.",
	})
	c.rootsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "roots_evicted_total",
		Help:      "Number of roots dropped from history by age, cap or shutdown.",
	})
	c.usageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "usage_errors_total",
		Help:      "Instrumentation usage errors by code.",
	}, []string{"code"})
	c.treeSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      "tree_nodes",
		Help:      "Nodes per sealed tree.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	c.registry.MustRegister(c.rootsSealed, c.nodesSealed, c.rootsEvicted, c.usageErrors, c.treeSize)
	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Bind registers gauges sampled from svc on every scrape.
func (c *Collector) Bind(svc *profiler.Service) error {
	gauge := func(name, help string, fn func(profiler.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(svc.Stats()) })
	}

	gauges := []prometheus.Collector{
		gauge("live_nodes", "Nodes currently out of the pool.",
			func(s profiler.Stats) float64 { return float64(s.LiveNodes) }),
		gauge("history_roots", "Roots currently retained in history.",
			func(s profiler.Stats) float64 { return float64(s.HistoryRoots) }),
		gauge("history_slots", "Allocated history slots.",
			func(s profiler.Stats) float64 { return float64(s.HistorySlots) }),
		gauge("recorders", "Recorders created.",
			func(s profiler.Stats) float64 { return float64(s.Recorders) }),
		gauge("paused", "1 while recording is paused.",
			func(s profiler.Stats) float64 {
				if s.Paused {
					return 1
				}
				return 0
			}),
		gauge("max_history_age_seconds", "Retention age of finished trees.",
			func(s profiler.Stats) float64 { return s.MaxHistoryAge.Seconds() }),
		gauge("memory_outstanding_bytes", "Bytes allocated minus bytes freed through recorders.",
			func(s profiler.Stats) float64 { return float64(s.Memory.Bytes) }),
	}
	for _, g := range gauges {
		if err := c.registry.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// RootSealed implements profiler.Observer.
func (c *Collector) RootSealed(_ profiler.ThreadID, nodes int) {
	c.rootsSealed.Inc()
	c.nodesSealed.Add(float64(nodes))
	c.treeSize.Observe(float64(nodes))
}

// RootsEvicted implements profiler.Observer.
func (c *Collector) RootsEvicted(count int) {
	c.rootsEvicted.Add(float64(count))
}

// UsageError implements profiler.Observer.
func (c *Collector) UsageError(code string) {
	c.usageErrors.WithLabelValues(code).Inc()
}

var _ profiler.Observer = (*Collector)(nil)
