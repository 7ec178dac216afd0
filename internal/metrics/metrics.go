// Package metrics exposes the Prometheus collectors the HTTP surface
// publishes at /metrics: execution latency, RMS rejections, and
// allocation-planner duration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config names the namespace/subsystem prefix applied to every metric.
type Config struct {
	Namespace string
	Subsystem string
}

func DefaultConfig() Config {
	return Config{Namespace: "execcore", Subsystem: "orchestrator"}
}

// Collectors holds every metric this module publishes, registered
// against its own *prometheus.Registry so handler tests never touch
// the global default registry.
type Collectors struct {
	Registry *prometheus.Registry

	ExecutionLatency  *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	LegsTotal         *prometheus.CounterVec
	RmsRejections     *prometheus.CounterVec
	PlannerDuration   prometheus.Histogram
	WebhookDeliveries *prometheus.CounterVec
}

// New builds and registers every collector.
func New(cfg Config) *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		Registry: reg,
		ExecutionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "leg_latency_seconds",
			Help:      "Per-leg dispatch latency, requested_at to completed_at.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "runs_total",
			Help:      "ExecutionRuns by terminal status.",
		}, []string{"status"}),
		LegsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "legs_total",
			Help:      "ExecutionEvents by terminal leg status.",
		}, []string{"status"}),
		RmsRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "rms",
			Name:      "rejections_total",
			Help:      "Pre-trade RMS rejections by breached rule code.",
		}, []string{"code"}),
		PlannerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "allocation",
			Name:      "plan_duration_seconds",
			Help:      "Wall-clock duration of one Allocation Planner call.",
			Buckets:   prometheus.DefBuckets,
		}),
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Inbound webhook deliveries by outcome (accepted, duplicate, unauthorized).",
		}, []string{"outcome"}),
	}
}

// ObservePlan times a single allocation.Plan call.
func (c *Collectors) ObservePlan(start time.Time) {
	c.PlannerDuration.Observe(time.Since(start).Seconds())
}

// RecordRun increments the run-status counter and the per-leg latency
// histogram for every leg in the run that carries a latency sample.
func (c *Collectors) RecordRun(mode string, status string, legLatenciesMs []float64) {
	c.RunsTotal.WithLabelValues(status).Inc()
	for _, ms := range legLatenciesMs {
		c.ExecutionLatency.WithLabelValues(mode).Observe(ms / 1000.0)
	}
}

// RecordLeg increments the terminal leg-status counter.
func (c *Collectors) RecordLeg(status string) {
	c.LegsTotal.WithLabelValues(status).Inc()
}

// RecordRmsRejection increments the rejection counter for one breached
// rule code (RMS_MAX_LOTS, RMS_MARGIN, ...).
func (c *Collectors) RecordRmsRejection(code string) {
	c.RmsRejections.WithLabelValues(code).Inc()
}

// RecordWebhook increments the delivery-outcome counter.
func (c *Collectors) RecordWebhook(outcome string) {
	c.WebhookDeliveries.WithLabelValues(outcome).Inc()
}
