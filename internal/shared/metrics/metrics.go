// Package metrics exposes pool activity as prometheus metrics. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	taskLatency    *prometheus.HistogramVec

	workersSpawned prometheus.Counter
	workersRetired prometheus.Counter

	workersLive prometheus.Gauge
	workersBusy prometheus.Gauge
	queueDepth  prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector creates the collector and registers it with reg. When reg is
// nil a private registry is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goparallel_tasks_submitted_total",
			Help: "Total number of tasks submitted to the pool",
		}, []string{"kind"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goparallel_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}, []string{"kind"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goparallel_tasks_failed_total",
			Help: "Total number of tasks that failed",
		}, []string{"kind"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goparallel_task_latency_seconds",
			Help:    "Time from dispatch to result in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		workersSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goparallel_workers_spawned_total",
			Help: "Total number of worker contexts started",
		}),
		workersRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goparallel_workers_retired_total",
			Help: "Total number of worker contexts terminated",
		}),
		workersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goparallel_workers_live",
			Help: "Current number of live worker contexts",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goparallel_workers_busy",
			Help: "Current number of workers running a task",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goparallel_queue_depth",
			Help: "Current number of tasks waiting for a worker",
		}),
	}

	reg.MustRegister(
		c.tasksSubmitted,
		c.tasksCompleted,
		c.tasksFailed,
		c.taskLatency,
		c.workersSpawned,
		c.workersRetired,
		c.workersLive,
		c.workersBusy,
		c.queueDepth,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

func (c *Collector) RecordSubmit(kind string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordResult(kind string, failed bool, latencySeconds float64) {
	if c == nil {
		return
	}
	if failed {
		c.tasksFailed.WithLabelValues(kind).Inc()
	} else {
		c.tasksCompleted.WithLabelValues(kind).Inc()
	}
	c.taskLatency.WithLabelValues(kind).Observe(latencySeconds)
}

func (c *Collector) RecordSpawn() {
	if c == nil {
		return
	}
	c.workersSpawned.Inc()
}

func (c *Collector) RecordRetire() {
	if c == nil {
		return
	}
	c.workersRetired.Inc()
}

func (c *Collector) UpdatePoolStats(live, busy, queued int) {
	if c == nil {
		return
	}
	c.workersLive.Set(float64(live))
	c.workersBusy.Set(float64(busy))
	c.queueDepth.Set(float64(queued))
}

// Handler serves the registry the collector was registered with.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
