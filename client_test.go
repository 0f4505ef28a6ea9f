package brokerkit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/brokerkit/config"
	"github.com/shoplane/brokerkit/contracts"
	"github.com/shoplane/brokerkit/rabbitmq"
)

type stubChannel struct {
	mu         sync.Mutex
	closed     bool
	publishes  []amqp.Publishing
	exchanges  []string
	deliveries chan amqp.Delivery
}

func newStubChannel() *stubChannel {
	return &stubChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *stubChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *stubChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (c *stubChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return nil
}

func (c *stubChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (c *stubChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, msg)
	c.exchanges = append(c.exchanges, exchange)
	return nil
}

func (c *stubChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *stubChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type stubConnection struct {
	mu       sync.Mutex
	channels []*stubChannel
	closed   bool
}

func (c *stubConnection) Channel() (rabbitmq.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := newStubChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *stubConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error { return receiver }

func (c *stubConnection) NotifyBlocked(receiver chan amqp.Blocking) chan amqp.Blocking {
	return receiver
}

func (c *stubConnection) channelAt(i int) *stubChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[i]
}

type stubAcknowledger struct {
	acked chan bool
}

func (a *stubAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked <- true
	return nil
}

func (a *stubAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.acked <- false
	return nil
}

func (a *stubAcknowledger) Reject(tag uint64, requeue bool) error {
	a.acked <- false
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Application: "app",
		Broker: config.Broker{
			Host: "localhost", Port: 5672, User: "guest", Password: "guest", VHost: "/",
			Heartbeat: 30 * time.Second, ReconnectDelay: time.Second,
		},
		Pool:       config.Pool{InitialSize: 2},
		Management: config.Management{Port: 15672},
	}
}

func connectedClient(t *testing.T) (*Client, *stubConnection) {
	t.Helper()
	conn := &stubConnection{}
	client := NewClient(testConfig(),
		WithClientDialer(func(url string, cfg amqp.Config) (rabbitmq.Connection, error) {
			return conn, nil
		}),
	)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect() })
	return client, conn
}

func TestClient(t *testing.T) {
	t.Run("Connect bootstraps topology and fills the pool", func(t *testing.T) {
		client, conn := connectedClient(t)

		// Bootstrap declares the three application exchanges.
		bootstrap := conn.channelAt(0)
		assert.Equal(t, []string{"app.events", "app.commands", "app.dlx"}, bootstrap.exchanges)
		assert.True(t, bootstrap.IsClosed())

		stats := client.Stats()
		assert.Equal(t, 2, stats.PublisherChannels.Total)
	})

	t.Run("publishes events through the pool", func(t *testing.T) {
		client, conn := connectedClient(t)

		env, err := contracts.NewEnvelope("order.paid", map[string]string{"orderId": "42"})
		require.NoError(t, err)
		require.NoError(t, client.PublishEvent(context.Background(), env, "order.paid"))

		// Channel 0 is the bootstrap channel; channel 1 serves the pool.
		ch := conn.channelAt(1)
		ch.mu.Lock()
		defer ch.mu.Unlock()
		require.Len(t, ch.publishes, 1)
		assert.Equal(t, env.ID, ch.publishes[0].MessageId)
		assert.Contains(t, ch.exchanges, "app.events")
	})

	t.Run("dispatches subscribed events to registered handlers", func(t *testing.T) {
		client, conn := connectedClient(t)

		handled := make(chan string, 1)
		client.OnFunc("message.sent", func(ctx context.Context, event *contracts.Envelope) error {
			handled <- event.Type
			return nil
		})

		require.NoError(t, client.Subscribe(context.Background(),
			rabbitmq.NewConsumerOptions("app.chat.incoming",
				rabbitmq.WithRoutingKey("message.sent"))))

		env, err := contracts.NewEnvelope("message.sent", map[string]string{"text": "hi"})
		require.NoError(t, err)
		body, err := json.Marshal(env)
		require.NoError(t, err)

		ack := &stubAcknowledger{acked: make(chan bool, 1)}
		conn.channelAt(3).deliveries <- amqp.Delivery{Acknowledger: ack, Body: body}

		select {
		case eventType := <-handled:
			assert.Equal(t, "message.sent", eventType)
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked")
		}
		select {
		case acked := <-ack.acked:
			assert.True(t, acked)
		case <-time.After(2 * time.Second):
			t.Fatal("delivery was not settled")
		}
	})

	t.Run("Disconnect closes the connection", func(t *testing.T) {
		client, conn := connectedClient(t)

		require.NoError(t, client.Disconnect())
		assert.True(t, conn.IsClosed())
		assert.Equal(t, 0, client.Stats().PublisherChannels.Total)
	})
}
