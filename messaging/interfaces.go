package messaging

import "time"

// MetricsCollector records messaging outcomes for diagnostics.
type MetricsCollector interface {
	// RecordHandle records one completed handler invocation chain
	RecordHandle(eventType string, duration time.Duration, success bool)

	// RecordRetry records a scheduled retry for an event type
	RecordRetry(eventType string, attempt int)

	// RecordPublish records a publish outcome
	RecordPublish(exchange, routingKey string, success bool)
}

// NoOpMetricsCollector discards all measurements.
type NoOpMetricsCollector struct{}

// RecordHandle does nothing.
func (NoOpMetricsCollector) RecordHandle(eventType string, duration time.Duration, success bool) {}

// RecordRetry does nothing.
func (NoOpMetricsCollector) RecordRetry(eventType string, attempt int) {}

// RecordPublish does nothing.
func (NoOpMetricsCollector) RecordPublish(exchange, routingKey string, success bool) {}
