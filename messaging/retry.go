package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/shoplane/brokerkit/contracts"
	"github.com/shoplane/brokerkit/internal/reliability"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// RetryOption configures the retrying handler wrapper.
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	metrics    MetricsCollector
}

// WithMaxRetries bounds the number of retries after the initial attempt.
func WithMaxRetries(n int) RetryOption {
	return func(c *retryConfig) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the first backoff delay; each retry doubles it.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.baseDelay = d
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *retryConfig) {
		c.logger = logger
	}
}

// WithRetryMetrics sets the metrics collector.
func WithRetryMetrics(metrics MetricsCollector) RetryOption {
	return func(c *retryConfig) {
		c.metrics = metrics
	}
}

// retryingHandler wraps a business handler with bounded exponential-backoff
// retries. The backoff delay suspends only the goroutine processing the one
// event, never other concurrent handlers.
type retryingHandler struct {
	handler EventHandler
	cfg     retryConfig
	backoff reliability.BackoffPolicy
}

// WithRetry wraps handler so failures are retried with exponential backoff
// (baseDelay * 2^attempt, default 1s, 2s, 4s) up to maxRetries (default 3).
// When retries are exhausted the last handler error is returned unmodified so
// the consumer loop can decide the delivery's disposition.
func WithRetry(handler EventHandler, opts ...RetryOption) EventHandler {
	cfg := retryConfig{
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		logger:     slog.Default(),
		metrics:    NoOpMetricsCollector{},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &retryingHandler{
		handler: handler,
		cfg:     cfg,
		backoff: reliability.NewExponentialBackoff(cfg.baseDelay, 0, 2),
	}
}

// Handle implements EventHandler.
func (r *retryingHandler) Handle(ctx context.Context, event *contracts.Envelope) error {
	start := time.Now()

	for attempt := 0; ; attempt++ {
		r.cfg.logger.Info("handling event",
			"eventType", event.Type,
			"eventId", event.ID,
			"attempt", attempt)

		err := r.handler.Handle(ctx, event)
		if err == nil {
			r.cfg.logger.Info("event handled",
				"eventType", event.Type,
				"eventId", event.ID,
				"attempt", attempt)
			r.cfg.metrics.RecordHandle(event.Type, time.Since(start), true)
			return nil
		}

		r.cfg.logger.Error("event handler failed",
			"eventType", event.Type,
			"eventId", event.ID,
			"attempt", attempt,
			"error", err)

		if attempt == r.cfg.maxRetries {
			r.cfg.logger.Error("event handler retries exhausted",
				"eventType", event.Type,
				"eventId", event.ID,
				"attempts", attempt+1)
			r.cfg.metrics.RecordHandle(event.Type, time.Since(start), false)
			return err
		}

		delay := r.backoff.NextDelay(attempt)
		r.cfg.logger.Warn("retrying event handler",
			"eventType", event.Type,
			"eventId", event.ID,
			"nextAttempt", attempt+1,
			"delay", delay)
		r.cfg.metrics.RecordRetry(event.Type, attempt+1)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
