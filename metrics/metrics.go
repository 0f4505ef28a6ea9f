// Package metrics exports broker channel stats and handler outcomes as
// Prometheus metrics, served on the management port.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoplane/brokerkit/rabbitmq"
)

// StatsSource supplies channel occupancy snapshots on scrape.
type StatsSource interface {
	Stats() rabbitmq.Stats
}

// BrokerCollector is a prometheus.Collector that pulls the connection
// manager's stats accessor on every scrape.
type BrokerCollector struct {
	source StatsSource

	publisherTotal     *prometheus.Desc
	publisherInUse     *prometheus.Desc
	publisherAvailable *prometheus.Desc
	consumerTotal      *prometheus.Desc
}

// NewBrokerCollector creates a collector over the given stats source.
func NewBrokerCollector(source StatsSource) *BrokerCollector {
	return &BrokerCollector{
		source: source,
		publisherTotal: prometheus.NewDesc(
			"broker_publisher_channels_total",
			"Publisher channels in the pool.",
			nil, nil),
		publisherInUse: prometheus.NewDesc(
			"broker_publisher_channels_in_use",
			"Publisher channels currently borrowed.",
			nil, nil),
		publisherAvailable: prometheus.NewDesc(
			"broker_publisher_channels_available",
			"Publisher channels available for borrowing.",
			nil, nil),
		consumerTotal: prometheus.NewDesc(
			"broker_consumer_channels_total",
			"Dedicated consumer channels currently tracked.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *BrokerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.publisherTotal
	ch <- c.publisherInUse
	ch <- c.publisherAvailable
	ch <- c.consumerTotal
}

// Collect implements prometheus.Collector.
func (c *BrokerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.publisherTotal, prometheus.GaugeValue,
		float64(stats.PublisherChannels.Total))
	ch <- prometheus.MustNewConstMetric(c.publisherInUse, prometheus.GaugeValue,
		float64(stats.PublisherChannels.InUse))
	ch <- prometheus.MustNewConstMetric(c.publisherAvailable, prometheus.GaugeValue,
		float64(stats.PublisherChannels.Available))
	ch <- prometheus.MustNewConstMetric(c.consumerTotal, prometheus.GaugeValue,
		float64(stats.ConsumerChannels.Total))
}

// HandlerMetrics implements messaging.MetricsCollector with Prometheus
// counters and histograms.
type HandlerMetrics struct {
	handleDuration *prometheus.HistogramVec
	handleOutcomes *prometheus.CounterVec
	retries        *prometheus.CounterVec
	publishes      *prometheus.CounterVec
}

// NewHandlerMetrics creates and registers handler metrics on the registry.
func NewHandlerMetrics(reg prometheus.Registerer) *HandlerMetrics {
	m := &HandlerMetrics{
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_handler_duration_seconds",
			Help:    "Duration of handler invocation chains, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		handleOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_handler_outcomes_total",
			Help: "Handler invocation chains by outcome.",
		}, []string{"event_type", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_handler_retries_total",
			Help: "Handler retries scheduled.",
		}, []string{"event_type"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_publishes_total",
			Help: "Publish attempts by outcome.",
		}, []string{"exchange", "outcome"}),
	}

	reg.MustRegister(m.handleDuration, m.handleOutcomes, m.retries, m.publishes)
	return m
}

// RecordHandle implements messaging.MetricsCollector.
func (m *HandlerMetrics) RecordHandle(eventType string, duration time.Duration, success bool) {
	m.handleDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	m.handleOutcomes.WithLabelValues(eventType, outcome(success)).Inc()
}

// RecordRetry implements messaging.MetricsCollector.
func (m *HandlerMetrics) RecordRetry(eventType string, attempt int) {
	m.retries.WithLabelValues(eventType).Inc()
}

// RecordPublish implements messaging.MetricsCollector.
func (m *HandlerMetrics) RecordPublish(exchange, routingKey string, success bool) {
	m.publishes.WithLabelValues(exchange, outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// NewServer builds the management HTTP server exposing the registry at
// /metrics and, when given, the health handler at /healthz.
func NewServer(port int, reg *prometheus.Registry, health http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if health != nil {
		mux.Handle("/healthz", health)
	}

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
