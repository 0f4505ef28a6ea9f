// Package brokerkit wires the broker connection layer together: one
// connection manager per process, a publisher channel pool, dedicated
// consumer channels, and retry-wrapped event dispatch. The Client is
// constructed once at process start and passed to collaborators explicitly;
// there is no framework-managed singleton.
package brokerkit

import (
	"context"
	"log/slog"

	"github.com/shoplane/brokerkit/config"
	"github.com/shoplane/brokerkit/contracts"
	"github.com/shoplane/brokerkit/messaging"
	"github.com/shoplane/brokerkit/rabbitmq"
)

// Client is the entry point for publishing and consuming events.
type Client struct {
	manager    *rabbitmq.ConnectionManager
	dispatcher *messaging.Dispatcher
	publisher  *messaging.EventPublisher
	subscriber *messaging.Subscriber
	logger     *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger    *slog.Logger
	metrics   messaging.MetricsCollector
	dialer    rabbitmq.Dialer
	retryOpts []messaging.RetryOption
}

// WithClientLogger sets the logger shared by all components.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithClientMetrics sets the metrics collector for publish and handler
// outcomes.
func WithClientMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(c *clientConfig) {
		c.metrics = metrics
	}
}

// WithClientDialer overrides how the broker connection is established.
func WithClientDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(c *clientConfig) {
		c.dialer = dialer
	}
}

// WithHandlerRetry configures the retry wrapper applied to event handlers.
func WithHandlerRetry(opts ...messaging.RetryOption) ClientOption {
	return func(c *clientConfig) {
		c.retryOpts = opts
	}
}

// NewClient builds a client from configuration. Nothing touches the broker
// until Connect is called.
func NewClient(cfg config.Config, options ...ClientOption) *Client {
	cc := &clientConfig{
		logger:  slog.Default(),
		metrics: messaging.NoOpMetricsCollector{},
		dialer:  rabbitmq.AMQPDialer,
	}

	for _, opt := range options {
		opt(cc)
	}

	manager := rabbitmq.NewConnectionManager(
		cfg.Broker.URL(),
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithHeartbeat(cfg.Broker.Heartbeat),
		rabbitmq.WithReconnectDelay(cfg.Broker.ReconnectDelay),
		rabbitmq.WithPoolSize(cfg.Pool.InitialSize),
		rabbitmq.WithExchanges(rabbitmq.DefaultExchanges(cfg.Application)),
		rabbitmq.WithDialer(cc.dialer),
	)

	dispatcher := messaging.NewDispatcher(
		messaging.WithDispatcherLogger(cc.logger),
	)

	publisher := messaging.NewEventPublisher(
		manager,
		messaging.WithPublisherLogger(cc.logger),
		messaging.WithPublisherMetrics(cc.metrics),
	)

	retryOpts := append([]messaging.RetryOption{
		messaging.WithRetryMetrics(cc.metrics),
	}, cc.retryOpts...)

	subscriber := messaging.NewSubscriber(
		manager,
		dispatcher,
		messaging.WithSubscriberLogger(cc.logger),
		messaging.WithSubscriberRetry(retryOpts...),
	)

	return &Client{
		manager:    manager,
		dispatcher: dispatcher,
		publisher:  publisher,
		subscriber: subscriber,
		logger:     cc.logger,
	}
}

// Connect establishes the broker connection, declares the well-known
// exchanges, and fills the publisher channel pool.
func (c *Client) Connect(ctx context.Context) error {
	return c.manager.Connect(ctx)
}

// Disconnect closes consumer channels, then publisher channels, then the
// connection.
func (c *Client) Disconnect() error {
	c.subscriber.Close()
	return c.manager.Disconnect()
}

// On registers a handler for an event type in the dispatch table.
func (c *Client) On(eventType string, handler messaging.EventHandler) {
	c.dispatcher.Register(eventType, handler)
}

// OnFunc registers a handler function for an event type.
func (c *Client) OnFunc(eventType string, handler messaging.EventHandlerFunc) {
	c.dispatcher.RegisterFunc(eventType, handler)
}

// Subscribe provisions a consumer channel and starts consuming through the
// dispatch table.
func (c *Client) Subscribe(ctx context.Context, opts rabbitmq.ConsumerOptions) error {
	return c.subscriber.Subscribe(ctx, opts)
}

// PublishEvent publishes an envelope to the events exchange.
func (c *Client) PublishEvent(ctx context.Context, event *contracts.Envelope, routingKey string) error {
	return c.publisher.PublishEvent(ctx, event, routingKey)
}

// PublishCommand publishes an envelope to the commands exchange.
func (c *Client) PublishCommand(ctx context.Context, command *contracts.Envelope, routingKey string) error {
	return c.publisher.PublishCommand(ctx, command, routingKey)
}

// Stats returns a snapshot of channel occupancy for diagnostics.
func (c *Client) Stats() rabbitmq.Stats {
	return c.manager.Stats()
}

// Manager exposes the connection manager for health checks and state
// listeners.
func (c *Client) Manager() *rabbitmq.ConnectionManager {
	return c.manager
}
