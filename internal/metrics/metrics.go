// ============================================================================
// Eventbus Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose Prometheus metrics for the bus and its two
// pools (spec.md §10 metrics table).
//
// Directly adapted from internal/metrics/metrics.go: same Collector shape
// (Counter/Histogram/Gauge fields, RecordX methods, /metrics over
// promhttp), renamed from job-queue counters to bus/event counters.
// Collector satisfies internal/bus.Recorder structurally, so internal/bus
// never imports this package.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the event bus.
type Collector struct {
	eventsPublished prometheus.Counter
	eventsCompleted prometheus.Counter
	eventsFailed    prometheus.Counter
	eventsRetried   prometheus.Counter

	eventLatency prometheus.Histogram

	threadQueueDepth    prometheus.Gauge
	coreletWorkersAlive prometheus.Gauge

	mu sync.Mutex
}

// NewCollector creates and registers a metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_events_published_total",
			Help: "Total number of events published to the bus",
		}),
		eventsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_events_completed_total",
			Help: "Total number of events that completed successfully",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_events_failed_total",
			Help: "Total number of events that failed permanently",
		}),
		eventsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventbus_events_retried_total",
			Help: "Total number of event retry attempts",
		}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventbus_event_latency_seconds",
			Help:    "Event end-to-end latency in seconds, from publish to completion",
			Buckets: prometheus.DefBuckets,
		}),
		threadQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventbus_thread_pool_queue_depth",
			Help: "Current number of tasks waiting in the worker-thread pool's queue",
		}),
		coreletWorkersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventbus_corelet_workers_alive",
			Help: "Current number of live worker processes in the corelet pool",
		}),
	}

	prometheus.MustRegister(c.eventsPublished)
	prometheus.MustRegister(c.eventsCompleted)
	prometheus.MustRegister(c.eventsFailed)
	prometheus.MustRegister(c.eventsRetried)
	prometheus.MustRegister(c.eventLatency)
	prometheus.MustRegister(c.threadQueueDepth)
	prometheus.MustRegister(c.coreletWorkersAlive)

	return c
}

// RecordPublished implements internal/bus.Recorder.
func (c *Collector) RecordPublished() {
	c.eventsPublished.Inc()
}

// RecordCompleted implements internal/bus.Recorder.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.eventsCompleted.Inc()
	c.eventLatency.Observe(latencySeconds)
}

// RecordFailed implements internal/bus.Recorder.
func (c *Collector) RecordFailed() {
	c.eventsFailed.Inc()
}

// RecordRetried implements internal/bus.Recorder.
func (c *Collector) RecordRetried() {
	c.eventsRetried.Inc()
}

// UpdateGauges sets the point-in-time gauges from a bus.Stats snapshot.
// Called on a polling interval by internal/cli, since neither pool's
// queue depth nor worker count is itself an event.
func (c *Collector) UpdateGauges(threadQueueDepth, coreletWorkersAlive int) {
	c.threadQueueDepth.Set(float64(threadQueueDepth))
	c.coreletWorkersAlive.Set(float64(coreletWorkersAlive))
}

// StartServer starts the Prometheus metrics HTTP server on port.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
