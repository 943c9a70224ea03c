// Package metrics exports commit statistics of a World to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	worldview "github.com/goliatone/go-worldview"
)

const (
	namespace = "worldview"
	subsystem = "commit"
)

// Collector implements worldview.CommitObserver.
type Collector struct {
	commits          *prometheus.CounterVec
	mutations        prometheus.Counter
	listenerPanics   prometheus.Counter
	mutationFailures prometheus.Counter
	changedPaths     prometheus.Histogram
	duration         prometheus.Histogram
	seq              prometheus.Gauge
}

var _ worldview.CommitObserver = (*Collector)(nil)

// NewCollector registers the commit metrics with reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		// Labels: outcome (applied, noop)
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total",
			Help:      "Commit attempts by outcome",
		}, []string{"outcome"}),
		mutations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_total",
			Help:      "Mutations folded into commits",
		}),
		listenerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "listener_panics_total",
			Help:      "Listener and commit callback panics recovered during commits",
		}),
		mutationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutation_failures_total",
			Help:      "Mutations skipped because they panicked",
		}),
		changedPaths: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "changed_paths",
			Help:      "Top-level keys changed per applied commit",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Time spent folding and dispatching one commit",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		seq: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "seq",
			Help:      "Sequence number of the last applied commit",
		}),
	}
}

// ObserveCommit implements worldview.CommitObserver.
func (c *Collector) ObserveCommit(report worldview.CommitReport) {
	c.mutations.Add(float64(report.Mutations))
	c.listenerPanics.Add(float64(report.ListenerPanics))
	c.mutationFailures.Add(float64(report.MutationFailures))
	c.duration.Observe(report.Duration.Seconds())
	if report.NoOp {
		c.commits.WithLabelValues("noop").Inc()
		return
	}
	c.commits.WithLabelValues("applied").Inc()
	c.changedPaths.Observe(float64(len(report.Changed)))
	c.seq.Set(float64(report.Seq))
}
