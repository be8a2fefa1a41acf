package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "confbackup"

// Collector 备份编排指标，实现 prometheus.Collector
type Collector struct {
	submitted       *prometheus.CounterVec
	finished        *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	running         prometheus.Gauge
	queued          prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *Collector {
	return &Collector{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_submitted_total",
				Help:      "The number of backup tasks submitted.",
			}, []string{"task_type"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_finished_total",
				Help:      "The number of backup tasks reaching a terminal status.",
			}, []string{"status"},
		),
		attemptFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attempt_failures_total",
				Help:      "The number of failed backup attempts by error kind.",
			}, []string{"kind"},
		),
		attemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "attempt_duration_seconds",
				Help:      "The time taken by a single backup attempt.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "running_tasks",
				Help:      "The number of backup attempts currently running.",
			},
		),
		queued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "queued_tasks",
				Help:      "The number of pending backup tasks waiting for dispatch.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.submitted.Describe(ch)
	c.finished.Describe(ch)
	c.attemptFailures.Describe(ch)
	c.attemptDuration.Describe(ch)
	c.running.Describe(ch)
	c.queued.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.submitted.Collect(ch)
	c.finished.Collect(ch)
	c.attemptFailures.Collect(ch)
	c.attemptDuration.Collect(ch)
	c.running.Collect(ch)
	c.queued.Collect(ch)
}
