package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// eventLog records operations across fakes so tests can assert ordering.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

type exchangeDeclareCall struct {
	name, kind          string
	durable, autoDelete bool
	internal            bool
}

type queueDeclareCall struct {
	name                          string
	durable, autoDelete, exclusive bool
	args                          amqp.Table
}

type queueBindCall struct {
	name, key, exchange string
}

type qosCall struct {
	prefetchCount, prefetchSize int
	global                      bool
}

type publishCall struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel implements Channel and records every operation.
type fakeChannel struct {
	mu    sync.Mutex
	label string
	log   *eventLog

	closed bool
	ops    []string

	exchangeDeclares []exchangeDeclareCall
	queueDeclares    []queueDeclareCall
	queueBinds       []queueBindCall
	qosCalls         []qosCall
	publishes        []publishCall

	exchangeDeclareErr error
	queueDeclareErr    error
	queueBindErr       error
	qosErr             error
	publishErr         error
	closeErr           error

	deliveries chan amqp.Delivery
	consumeErr error
}

func newFakeChannel(label string, log *eventLog) *fakeChannel {
	return &fakeChannel{
		label:      label,
		log:        log,
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (f *fakeChannel) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
	if f.log != nil {
		f.log.add(fmt.Sprintf("%s %s", op, f.label))
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.record("exchange-declare")
	f.mu.Lock()
	f.exchangeDeclares = append(f.exchangeDeclares, exchangeDeclareCall{name, kind, durable, autoDelete, internal})
	f.mu.Unlock()
	return f.exchangeDeclareErr
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.record("queue-declare")
	f.mu.Lock()
	f.queueDeclares = append(f.queueDeclares, queueDeclareCall{name, durable, autoDelete, exclusive, args})
	f.mu.Unlock()
	if f.queueDeclareErr != nil {
		return amqp.Queue{}, f.queueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.record("queue-bind")
	f.mu.Lock()
	f.queueBinds = append(f.queueBinds, queueBindCall{name, key, exchange})
	f.mu.Unlock()
	return f.queueBindErr
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.record("qos")
	f.mu.Lock()
	f.qosCalls = append(f.qosCalls, qosCall{prefetchCount, prefetchSize, global})
	f.mu.Unlock()
	return f.qosErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.record("publish")
	f.mu.Lock()
	f.publishes = append(f.publishes, publishCall{exchange, key, msg})
	f.mu.Unlock()
	return f.publishErr
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.record("consume")
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.record("close")
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.closeErr
}

// fakeConnection implements Connection and hands out fake channels.
type fakeConnection struct {
	mu       sync.Mutex
	log      *eventLog
	channels []*fakeChannel
	closed   bool

	channelErr     error
	closeErr       error
	prepareChannel func(*fakeChannel)

	notifyClose   chan *amqp.Error
	notifyBlocked chan amqp.Blocking
}

func newFakeConnection(log *eventLog) *fakeConnection {
	return &fakeConnection{log: log}
}

func (f *fakeConnection) Channel() (Channel, error) {
	f.mu.Lock()
	if f.channelErr != nil {
		err := f.channelErr
		f.mu.Unlock()
		return nil, err
	}
	ch := newFakeChannel(fmt.Sprintf("ch%d", len(f.channels)), f.log)
	if f.prepareChannel != nil {
		f.prepareChannel(ch)
	}
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("close connection")
	}
	return f.closeErr
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	f.notifyClose = receiver
	f.mu.Unlock()
	return receiver
}

func (f *fakeConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	f.mu.Lock()
	f.notifyBlocked = receiver
	f.mu.Unlock()
	return receiver
}

func (f *fakeConnection) channelAt(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[i]
}

func (f *fakeConnection) channelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// fakeDialer returns a Dialer that hands out the given connections in order.
func fakeDialer(conns ...*fakeConnection) Dialer {
	i := 0
	var mu sync.Mutex
	return func(url string, cfg amqp.Config) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(conns) {
			return nil, fmt.Errorf("no more fake connections")
		}
		conn := conns[i]
		i++
		return conn, nil
	}
}
