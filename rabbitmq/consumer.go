package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeOptions carries exchange durability flags for a consumer channel.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
}

// QueueOptions carries queue flags and the optional broker arguments. Only
// arguments that are set end up in the declaration's argument table.
type QueueOptions struct {
	Durable              bool
	Exclusive            bool
	AutoDelete           bool
	MaxPriority          int
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	MessageTTL           time.Duration
	MaxLength            int
}

// ConsumerOptions configures a dedicated consumer channel and the topology it
// provisions for itself. Treat a value as immutable once passed.
type ConsumerOptions struct {
	QueueName       string
	ExchangeName    string
	ExchangeType    string
	ExchangeOptions ExchangeOptions
	RoutingKey      string
	QueueOptions    QueueOptions
	PrefetchCount   int
}

// ConsumerOption adjusts consumer channel options.
type ConsumerOption func(*ConsumerOptions)

// WithExchange sets the exchange the queue binds to.
func WithExchange(name, kind string) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.ExchangeName = name
		o.ExchangeType = kind
	}
}

// WithRoutingKey sets the binding key. Without a routing key no binding is
// created.
func WithRoutingKey(key string) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.RoutingKey = key
	}
}

// WithPrefetch sets the channel prefetch count.
func WithPrefetch(count int) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.PrefetchCount = count
	}
}

// WithDeadLetter routes rejected and expired messages to the given exchange.
func WithDeadLetter(exchange, routingKey string) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.DeadLetterExchange = exchange
		o.QueueOptions.DeadLetterRoutingKey = routingKey
	}
}

// WithMessageTTL expires queued messages after the given duration.
func WithMessageTTL(ttl time.Duration) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.MessageTTL = ttl
	}
}

// WithMaxLength bounds the queue length.
func WithMaxLength(n int) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.MaxLength = n
	}
}

// WithMaxPriority enables priority queueing up to the given level.
func WithMaxPriority(n int) ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.MaxPriority = n
	}
}

// WithTransientQueue declares the queue non-durable.
func WithTransientQueue() ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.Durable = false
	}
}

// WithExclusiveQueue declares the queue exclusive to this connection.
func WithExclusiveQueue() ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.Exclusive = true
	}
}

// WithAutoDeleteQueue deletes the queue once its last consumer departs.
func WithAutoDeleteQueue() ConsumerOption {
	return func(o *ConsumerOptions) {
		o.QueueOptions.AutoDelete = true
	}
}

// NewConsumerOptions builds consumer options for a queue with the defaults
// used across the system: durable topic exchange, durable queue, prefetch 1
// for strict one-message-in-flight fairness.
func NewConsumerOptions(queueName string, opts ...ConsumerOption) ConsumerOptions {
	o := ConsumerOptions{
		QueueName:       queueName,
		ExchangeType:    ExchangeTopic,
		ExchangeOptions: ExchangeOptions{Durable: true},
		QueueOptions:    QueueOptions{Durable: true},
		PrefetchCount:   1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// queueArguments builds the declaration argument table from the optional
// queue fields. Unset fields are omitted.
func (o ConsumerOptions) queueArguments() amqp.Table {
	args := amqp.Table{}
	if o.QueueOptions.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = o.QueueOptions.DeadLetterExchange
	}
	if o.QueueOptions.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = o.QueueOptions.DeadLetterRoutingKey
	}
	if o.QueueOptions.MessageTTL > 0 {
		args["x-message-ttl"] = o.QueueOptions.MessageTTL.Milliseconds()
	}
	if o.QueueOptions.MaxLength > 0 {
		args["x-max-length"] = int64(o.QueueOptions.MaxLength)
	}
	if o.QueueOptions.MaxPriority > 0 {
		args["x-max-priority"] = int64(o.QueueOptions.MaxPriority)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// ConsumerChannel is a dedicated, long-lived channel bound to the topology it
// provisioned at creation.
type ConsumerChannel struct {
	Channel
	id    string
	opts  ConsumerOptions
	queue amqp.Queue
}

// ID returns the registry identifier of the channel.
func (cc *ConsumerChannel) ID() string {
	return cc.id
}

// Options returns the options the channel was provisioned with.
func (cc *ConsumerChannel) Options() ConsumerOptions {
	return cc.opts
}

// Queue returns the declared queue.
func (cc *ConsumerChannel) Queue() amqp.Queue {
	return cc.queue
}

// provision runs the channel setup routine in order: exchange assert, queue
// assert, optional binding, prefetch. The channel is not ready until every
// step has succeeded.
func (cc *ConsumerChannel) provision() error {
	o := cc.opts

	if err := cc.ExchangeDeclare(
		o.ExchangeName,
		o.ExchangeType,
		o.ExchangeOptions.Durable,
		o.ExchangeOptions.AutoDelete,
		o.ExchangeOptions.Internal,
		false, // no-wait
		nil,
	); err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      o.ExchangeName,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	queue, err := cc.QueueDeclare(
		o.QueueName,
		o.QueueOptions.Durable,
		o.QueueOptions.AutoDelete,
		o.QueueOptions.Exclusive,
		false, // no-wait
		o.queueArguments(),
	)
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      o.QueueName,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	cc.queue = queue

	if o.RoutingKey != "" {
		if err := cc.QueueBind(
			o.QueueName,
			o.RoutingKey,
			o.ExchangeName,
			false, // no-wait
			nil,
		); err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      o.QueueName,
				Op:        "bind",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	if err := cc.Qos(o.PrefetchCount, 0, false); err != nil {
		return &ChannelError{
			Op:        "set prefetch",
			ChannelID: cc.id,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	return nil
}
