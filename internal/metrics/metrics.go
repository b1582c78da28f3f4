// Package metrics exposes the Prometheus surface named in SPEC_FULL.md
// §12: queue depth, assignment latency, SLA violations,
// warnings/violations/suspensions issued, and event-bus drop count,
// alongside /healthz and /readyz.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters and gauges the dispatch core's
// components report into.
type Registry struct {
	QueueDepth          prometheus.Gauge
	AssignmentLatency   prometheus.Histogram
	SLAViolationsTotal  prometheus.Counter
	WarningsTotal       prometheus.Counter
	ViolationsTotal     prometheus.Counter
	SuspensionsTotal    prometheus.Counter
	EventBusDroppedTotal prometheus.Counter
}

// NewRegistry constructs and registers the metrics surface on its own
// prometheus.Registry, independent of the global default registry.
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskcore_queue_depth",
			Help: "Number of tasks currently in the queued state.",
		}),
		AssignmentLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskcore_assignment_latency_seconds",
			Help:    "Time between task enqueue and assignment.",
			Buckets: prometheus.DefBuckets,
		}),
		SLAViolationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_sla_violations_total",
			Help: "Total number of tasks expired past their SLA deadline.",
		}),
		WarningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_reviewer_warnings_total",
			Help: "Total number of warning-kind strikes issued.",
		}),
		ViolationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_reviewer_violations_total",
			Help: "Total number of violation-kind strikes issued.",
		}),
		SuspensionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_reviewer_suspensions_total",
			Help: "Total number of reviewer suspensions.",
		}),
		EventBusDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskcore_event_bus_dropped_total",
			Help: "Total number of events dropped by a full subscriber channel.",
		}),
	}
	return r, reg
}

// ReadinessCheck reports whether a dependency is reachable, for the
// /readyz aggregate.
type ReadinessCheck func(ctx context.Context) error

// Handler builds the /metrics, /healthz, and /readyz mux for addr.
func Handler(reg *prometheus.Registry, checks map[string]ReadinessCheck) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(name + ": " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
