// Package metrics exposes live subscription counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/pglive/internal/throttle"
)

const metricsNamespace = "pglive"

// Collector is a prometheus.Collector for the live subscription pipeline.
type Collector struct {
	activeSubscriptions prometheus.Gauge
	enqueued            prometheus.Counter
	delivered           prometheus.Counter
	dropped             *prometheus.CounterVec
	deliveryLatency     prometheus.Histogram
}

// NewCollector returns a Collector. Register it with a prometheus.Registerer.
func NewCollector() *Collector {
	return &Collector{
		activeSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_subscriptions",
				Help:      "The number of open live subscriptions.",
			},
		),
		enqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_enqueued_total",
				Help:      "Broker messages queued by subscription throttles.",
			},
		),
		delivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_delivered_total",
				Help:      "Messages delivered to subscribers.",
			},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_dropped_total",
				Help:      "Messages discarded before delivery, by reason.",
			}, []string{"reason"},
		),
		deliveryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_latency_seconds",
				Help:      "Time from broker arrival to delivery.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeSubscriptions.Describe(ch)
	c.enqueued.Describe(ch)
	c.delivered.Describe(ch)
	c.dropped.Describe(ch)
	c.deliveryLatency.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeSubscriptions.Collect(ch)
	c.enqueued.Collect(ch)
	c.delivered.Collect(ch)
	c.dropped.Collect(ch)
	c.deliveryLatency.Collect(ch)
}

// SubscriptionOpened increments the active subscription gauge.
func (c *Collector) SubscriptionOpened() { c.activeSubscriptions.Inc() }

// SubscriptionClosed decrements the active subscription gauge.
func (c *Collector) SubscriptionClosed() { c.activeSubscriptions.Dec() }

// Enqueued implements throttle.Observer.
func (c *Collector) Enqueued() { c.enqueued.Inc() }

// Dropped implements throttle.Observer.
func (c *Collector) Dropped(_ throttle.Message, reason throttle.DropReason) {
	c.dropped.WithLabelValues(string(reason)).Inc()
}

// Delivered implements throttle.Observer.
func (c *Collector) Delivered(msg throttle.Message, at time.Time) {
	c.delivered.Inc()
	if !msg.EnqueuedAt.IsZero() {
		c.deliveryLatency.Observe(at.Sub(msg.EnqueuedAt).Seconds())
	}
}

var _ throttle.Observer = (*Collector)(nil)
