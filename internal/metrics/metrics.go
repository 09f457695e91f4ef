// Package metrics collects and exposes Prometheus metrics for the
// scheduling and delivery pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the scheduler and delivery layers report
// through. Tests use a no-op implementation.
type Recorder interface {
	RecordDelivery(outcome string, attempts int)
	RecordDeactivation()
	RecordReconcile(rescheduled int, took time.Duration)
	SetPendingJobs(n int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	deliveries    *prometheus.CounterVec
	retries       prometheus.Counter
	deactivations prometheus.Counter
	reconciles    prometheus.Counter
	reconcileTook prometheus.Histogram
	pendingJobs   prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yogabot_deliveries_total",
			Help: "Completed deliveries by final outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yogabot_delivery_retries_total",
			Help: "Extra send attempts beyond the first.",
		}),
		deactivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yogabot_deactivations_total",
			Help: "Subscriptions deactivated after a permanent delivery failure.",
		}),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yogabot_reconcile_sweeps_total",
			Help: "Reconciler sweeps over active subscriptions.",
		}),
		reconcileTook: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yogabot_reconcile_duration_seconds",
			Help:    "Duration of a reconciler sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yogabot_pending_jobs",
			Help: "Jobs currently armed in the in-memory job table.",
		}),
	}

	reg.MustRegister(
		c.deliveries,
		c.retries,
		c.deactivations,
		c.reconciles,
		c.reconcileTook,
		c.pendingJobs,
	)

	return c
}

func (c *Collector) RecordDelivery(outcome string, attempts int) {
	c.deliveries.WithLabelValues(outcome).Inc()
	if attempts > 1 {
		c.retries.Add(float64(attempts - 1))
	}
}

func (c *Collector) RecordDeactivation() {
	c.deactivations.Inc()
}

func (c *Collector) RecordReconcile(rescheduled int, took time.Duration) {
	c.reconciles.Inc()
	c.reconcileTook.Observe(took.Seconds())
}

func (c *Collector) SetPendingJobs(n int) {
	c.pendingJobs.Set(float64(n))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) RecordDelivery(string, int)         {}
func (Nop) RecordDeactivation()                {}
func (Nop) RecordReconcile(int, time.Duration) {}
func (Nop) SetPendingJobs(int)                 {}
