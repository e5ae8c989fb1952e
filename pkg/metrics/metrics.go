package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts the money-moving operations the service performs.
type LedgerMetrics struct {
	webhookEvents *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	cartSweeps    prometheus.Counter
	expiredItems  prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by gateway and outcome.",
	}, []string{"gateway", "outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Refund transactions recorded, by method.",
	}, []string{"method"})
	cartSweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_sweeps_total",
		Help: "Expired-cart sweep runs.",
	})
	expiredItems := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_expired_items_total",
		Help: "Cart items released back to inventory by sweeps.",
	})
	reg.MustRegister(webhookEvents, refunds, cartSweeps, expiredItems)
	return &LedgerMetrics{
		webhookEvents: webhookEvents,
		refunds:       refunds,
		cartSweeps:    cartSweeps,
		expiredItems:  expiredItems,
	}
}

// IncWebhook records one webhook delivery outcome.
func (m *LedgerMetrics) IncWebhook(gateway, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(gateway, outcome).Inc()
}

// IncRefund records one refund ledger row.
func (m *LedgerMetrics) IncRefund(method string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(method).Inc()
}

// IncCartSweep records one sweep run.
func (m *LedgerMetrics) IncCartSweep() {
	if m == nil || m.cartSweeps == nil {
		return
	}
	m.cartSweeps.Inc()
}

// AddExpiredItems records items released by a sweep.
func (m *LedgerMetrics) AddExpiredItems(n int) {
	if m == nil || m.expiredItems == nil || n <= 0 {
		return
	}
	m.expiredItems.Add(float64(n))
}

// CronJobMetrics records metadata for scheduled jobs.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewCronJobMetrics registers the cron job metrics on the provided registerer.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of cron jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful cron job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed cron job executions.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure)
	return &CronJobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named job.
func (c *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (c *CronJobMetrics) IncSuccess(job string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (c *CronJobMetrics) IncFailure(job string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
