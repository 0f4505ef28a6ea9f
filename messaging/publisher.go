package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shoplane/brokerkit/contracts"
	"github.com/shoplane/brokerkit/rabbitmq"
)

// EventPublisher publishes envelopes through borrowed pool channels. Each
// publish borrows a channel, uses it, and releases it; concurrent publishes
// get distinct channels.
type EventPublisher struct {
	manager *rabbitmq.ConnectionManager
	logger  *slog.Logger
	metrics MetricsCollector
}

// PublisherOption configures the event publisher.
type PublisherOption func(*EventPublisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(metrics MetricsCollector) PublisherOption {
	return func(p *EventPublisher) {
		p.metrics = metrics
	}
}

// NewEventPublisher creates a publisher backed by the manager's channel pool.
func NewEventPublisher(manager *rabbitmq.ConnectionManager, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		manager: manager,
		logger:  slog.Default(),
		metrics: NoOpMetricsCollector{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublishEvent publishes an envelope to the events exchange under the given
// routing key (convention: "{domain}.{action}", e.g. "order.paid").
func (p *EventPublisher) PublishEvent(ctx context.Context, event *contracts.Envelope, routingKey string) error {
	return p.publish(ctx, p.manager.Exchanges().Events, routingKey, event)
}

// PublishCommand publishes an envelope to the commands exchange for targeted
// dispatch.
func (p *EventPublisher) PublishCommand(ctx context.Context, command *contracts.Envelope, routingKey string) error {
	return p.publish(ctx, p.manager.Exchanges().Commands, routingKey, command)
}

func (p *EventPublisher) publish(ctx context.Context, exchange, routingKey string, env *contracts.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	pool := p.manager.Pool()
	if pool == nil {
		return rabbitmq.ErrConnectionNotReady
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ch, err := pool.Get()
	if err != nil {
		p.metrics.RecordPublish(exchange, routingKey, false)
		return err
	}
	defer pool.Release(ch)

	err = ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Type:         env.Type,
			Timestamp:    env.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.metrics.RecordPublish(exchange, routingKey, false)
		return fmt.Errorf("failed to publish %s to %s/%s: %w", env.Type, exchange, routingKey, err)
	}

	p.logger.Debug("event published",
		"eventType", env.Type,
		"eventId", env.ID,
		"exchange", exchange,
		"routingKey", routingKey)
	p.metrics.RecordPublish(exchange, routingKey, true)

	return nil
}
