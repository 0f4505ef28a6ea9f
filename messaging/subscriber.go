package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shoplane/brokerkit/contracts"
	"github.com/shoplane/brokerkit/rabbitmq"
)

// ErrAlreadySubscribed is returned when a queue already has an active
// subscription.
var ErrAlreadySubscribed = errors.New("messaging: queue already subscribed")

// Subscriber binds dedicated consumer channels to the dispatcher. Each
// subscription owns one consumer channel; deliveries run through the
// retry-wrapped dispatcher and are acked on success or dead-lettered once
// retries are exhausted.
type Subscriber struct {
	manager    *rabbitmq.ConnectionManager
	dispatcher *Dispatcher
	logger     *slog.Logger
	retryOpts  []RetryOption

	mu            sync.Mutex
	subscriptions map[string]*subscription
}

type subscription struct {
	channel *rabbitmq.ConsumerChannel
	cancel  context.CancelFunc
	done    chan struct{}
}

// SubscriberOption configures the subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithSubscriberRetry configures the retry wrapper applied to dispatch.
func WithSubscriberRetry(opts ...RetryOption) SubscriberOption {
	return func(s *Subscriber) {
		s.retryOpts = opts
	}
}

// NewSubscriber creates a subscriber dispatching to the given dispatcher.
func NewSubscriber(manager *rabbitmq.ConnectionManager, dispatcher *Dispatcher, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		manager:       manager,
		dispatcher:    dispatcher,
		logger:        slog.Default(),
		subscriptions: make(map[string]*subscription),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscribe provisions a consumer channel for the given options and starts
// consuming. A consumer that cannot be provisioned returns an error rather
// than running unbound. Each queue supports at most one active subscription;
// subscribing to a queue that already has one fails with ErrAlreadySubscribed.
func (s *Subscriber) Subscribe(ctx context.Context, opts rabbitmq.ConsumerOptions) error {
	s.mu.Lock()
	if _, taken := s.subscriptions[opts.QueueName]; taken {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, opts.QueueName)
	}
	s.mu.Unlock()

	cc, err := s.manager.CreateConsumerChannel(ctx, opts)
	if err != nil {
		return err
	}

	deliveries, err := cc.Consume(
		cc.Queue().Name,
		"", // consumer tag assigned by broker
		false,
		opts.QueueOptions.Exclusive,
		false,
		false,
		nil,
	)
	if err != nil {
		s.manager.RemoveConsumerChannel(cc)
		return err
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		channel: cc,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if _, taken := s.subscriptions[cc.Queue().Name]; taken {
		s.mu.Unlock()
		cancel()
		s.manager.RemoveConsumerChannel(cc)
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, cc.Queue().Name)
	}
	s.subscriptions[cc.Queue().Name] = sub
	s.mu.Unlock()

	retryOpts := append([]RetryOption{WithRetryLogger(s.logger)}, s.retryOpts...)
	handler := WithRetry(s.dispatcher, retryOpts...)

	go s.consume(consumeCtx, sub, deliveries, handler)

	s.logger.Info("subscribed",
		"queue", cc.Queue().Name,
		"exchange", opts.ExchangeName,
		"routingKey", opts.RoutingKey)

	return nil
}

// Unsubscribe stops the consumer for a queue and removes its channel.
func (s *Subscriber) Unsubscribe(queue string) {
	s.mu.Lock()
	sub, ok := s.subscriptions[queue]
	if ok {
		delete(s.subscriptions, queue)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("unsubscribe for unknown queue", "queue", queue)
		return
	}

	sub.cancel()
	<-sub.done
}

// Close stops every active consumer.
func (s *Subscriber) Close() {
	s.mu.Lock()
	queues := make([]string, 0, len(s.subscriptions))
	for queue := range s.subscriptions {
		queues = append(queues, queue)
	}
	s.mu.Unlock()

	for _, queue := range queues {
		s.Unsubscribe(queue)
	}
}

func (s *Subscriber) consume(ctx context.Context, sub *subscription, deliveries <-chan amqp.Delivery, handler EventHandler) {
	queue := sub.channel.Queue().Name
	defer func() {
		s.manager.RemoveConsumerChannel(sub.channel)
		close(sub.done)
		s.logger.Info("consumer stopped", "queue", queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("delivery channel closed", "queue", queue)
				return
			}
			s.handleDelivery(ctx, queue, delivery, handler)
		}
	}
}

// handleDelivery decodes one delivery and decides its disposition: ack on
// success, dead-letter via Nack without requeue once the retry wrapper gives
// up or the body cannot be decoded.
func (s *Subscriber) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler EventHandler) {
	var env contracts.Envelope
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		s.logger.Error("failed to decode envelope",
			"queue", queue,
			"messageId", delivery.MessageId,
			"error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.logger.Error("failed to nack message", "queue", queue, "error", nackErr)
		}
		return
	}

	if err := handler.Handle(ctx, &env); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The consumer is shutting down, not the handler giving up.
			// Leave the delivery unsettled; the broker requeues it when
			// the channel closes.
			s.logger.Warn("consumer stopping mid-delivery, leaving message for requeue",
				"queue", queue,
				"eventType", env.Type,
				"eventId", env.ID)
			return
		}
		s.logger.Error("event processing failed, dead-lettering",
			"queue", queue,
			"eventType", env.Type,
			"eventId", env.ID,
			"error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			s.logger.Error("failed to nack message", "queue", queue, "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		s.logger.Error("failed to ack message",
			"queue", queue,
			"eventId", env.ID,
			"error", err)
	}
}
