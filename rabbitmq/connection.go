package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications.
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns the single broker connection for the process. It
// establishes the connection, bootstraps the well-known exchanges, fills the
// publisher channel pool, hands out dedicated consumer channels, and tears
// everything down in order at shutdown. Reconnection after a mid-session drop
// is handled by the manager's monitor loop; the channel layer above it only
// observes lifecycle events through logs and state listeners.
type ConnectionManager struct {
	url            string
	dial           Dialer
	heartbeat      time.Duration
	reconnectDelay time.Duration
	poolSize       int
	exchanges      ExchangeSet
	logger         *slog.Logger

	mu            sync.RWMutex
	conn          Connection
	started       bool // between Connect and Disconnect
	connected     bool // broker link currently up
	notifyClose   chan *amqp.Error
	notifyBlocked chan amqp.Blocking
	done          chan struct{}

	pool *ChannelPool

	consumersMu sync.Mutex
	consumers   map[string]*ConsumerChannel

	listenersMu    sync.RWMutex
	stateListeners []ConnectionStateListener
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.heartbeat = interval
	}
}

// WithReconnectDelay sets the interval between reconnection attempts.
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithPoolSize sets the initial publisher channel pool size.
func WithPoolSize(size int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.poolSize = size
	}
}

// WithExchanges overrides the well-known exchange names.
func WithExchanges(exchanges ExchangeSet) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.exchanges = exchanges
	}
}

// WithDialer overrides how the broker connection is established.
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a connection manager for the given URL.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           AMQPDialer,
		heartbeat:      30 * time.Second,
		reconnectDelay: time.Second,
		poolSize:       5,
		exchanges:      DefaultExchanges("shoplane"),
		logger:         slog.Default(),
		consumers:      make(map[string]*ConsumerChannel),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Exchanges returns the well-known exchange names.
func (cm *ConnectionManager) Exchanges() ExchangeSet {
	return cm.exchanges
}

// Pool returns the publisher channel pool. It is nil until Connect succeeds.
func (cm *ConnectionManager) Pool() *ChannelPool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.pool
}

// IsConnected reports whether the broker link is currently up. It is false
// before Connect, after Disconnect, and while a dropped connection is being
// re-established.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connected
}

// Connect establishes the broker connection, registers lifecycle listeners,
// bootstraps the well-known exchanges on a transient channel, and fills the
// publisher channel pool to its configured size.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return ErrAlreadyConnected
	}
	cm.mu.Unlock()

	conn, err := cm.dialBroker(ctx)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.conn = conn
	cm.started = true
	cm.connected = true
	cm.done = make(chan struct{})
	cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	cm.notifyBlocked = conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	cm.mu.Unlock()

	cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	go cm.monitor()

	bootstrapper := NewTopologyBootstrapper(cm.exchanges, cm.logger)
	if err := bootstrapper.Bootstrap(conn); err != nil {
		cm.teardownConnection()
		return err
	}

	pool, err := NewChannelPool(cm.openChannel, cm.poolSize, WithPoolLogger(cm.logger))
	if err != nil {
		cm.teardownConnection()
		return err
	}

	cm.mu.Lock()
	cm.pool = pool
	cm.mu.Unlock()

	cm.logger.Info("publisher channel pool filled", "size", cm.poolSize)
	return nil
}

// Disconnect tears the connection down in order: every tracked consumer
// channel first, then the publisher pool, then the connection itself. A
// failure to close one channel never prevents closing the rest.
func (cm *ConnectionManager) Disconnect() error {
	cm.mu.Lock()
	if !cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.started = false
	cm.connected = false
	conn := cm.conn
	pool := cm.pool
	cm.conn = nil
	cm.pool = nil
	close(cm.done)
	cm.mu.Unlock()

	cm.consumersMu.Lock()
	consumers := make([]*ConsumerChannel, 0, len(cm.consumers))
	for _, cc := range cm.consumers {
		consumers = append(consumers, cc)
	}
	cm.consumers = make(map[string]*ConsumerChannel)
	cm.consumersMu.Unlock()

	for _, cc := range consumers {
		if err := cc.Close(); err != nil {
			cm.logger.Error("failed to close consumer channel",
				"channelId", cc.id,
				"queue", cc.opts.QueueName,
				"error", err)
		}
	}

	if pool != nil {
		pool.Close()
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			cm.logger.Error("failed to close connection", "error", err)
			return err
		}
	}

	cm.logger.Info("disconnected from broker")
	return nil
}

// CreateConsumerChannel opens a dedicated channel, provisions its topology in
// order (exchange, queue, binding, prefetch), and tracks it for orderly
// shutdown. The channel is returned only after the full setup has succeeded.
func (cm *ConnectionManager) CreateConsumerChannel(ctx context.Context, opts ConsumerOptions) (*ConsumerChannel, error) {
	if opts.QueueName == "" {
		return nil, ErrQueueNameRequired
	}
	if opts.ExchangeName == "" {
		opts.ExchangeName = cm.exchanges.Events
	}
	if opts.ExchangeType == "" {
		opts.ExchangeType = ExchangeTopic
	}
	if opts.PrefetchCount <= 0 {
		opts.PrefetchCount = 1
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := cm.openChannel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create consumer channel",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %w", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	cc := &ConsumerChannel{
		Channel: ch,
		id:      uuid.New().String(),
		opts:    opts,
	}

	if err := cc.provision(); err != nil {
		if closeErr := ch.Close(); closeErr != nil {
			cm.logger.Warn("failed to close channel after provisioning failure",
				"channelId", cc.id,
				"error", closeErr)
		}
		return nil, err
	}

	cm.consumersMu.Lock()
	cm.consumers[cc.id] = cc
	cm.consumersMu.Unlock()

	cm.logger.Info("consumer channel ready",
		"channelId", cc.id,
		"queue", opts.QueueName,
		"exchange", opts.ExchangeName,
		"routingKey", opts.RoutingKey,
		"prefetch", opts.PrefetchCount)

	return cc, nil
}

// RemoveConsumerChannel closes a consumer channel and stops tracking it.
// Close failures are logged but not propagated. Removing an untracked channel
// logs a warning and is a no-op.
func (cm *ConnectionManager) RemoveConsumerChannel(cc *ConsumerChannel) {
	if cc == nil {
		return
	}

	cm.consumersMu.Lock()
	_, tracked := cm.consumers[cc.id]
	if tracked {
		delete(cm.consumers, cc.id)
	}
	cm.consumersMu.Unlock()

	if !tracked {
		cm.logger.Warn("removal of untracked consumer channel",
			"channelId", cc.id,
			"queue", cc.opts.QueueName)
		return
	}

	if err := cc.Close(); err != nil {
		cm.logger.Error("failed to close consumer channel",
			"channelId", cc.id,
			"queue", cc.opts.QueueName,
			"error", err)
	}
}

// Stats describes the channels currently managed by the connection.
type Stats struct {
	PublisherChannels PoolStats
	ConsumerChannels  ConsumerStats
}

// ConsumerStats describes the consumer channel registry.
type ConsumerStats struct {
	Total int
}

// Stats returns a snapshot of channel occupancy for diagnostics.
func (cm *ConnectionManager) Stats() Stats {
	var s Stats

	cm.mu.RLock()
	pool := cm.pool
	cm.mu.RUnlock()
	if pool != nil {
		s.PublisherChannels = pool.Stats()
	}

	cm.consumersMu.Lock()
	s.ConsumerChannels.Total = len(cm.consumers)
	cm.consumersMu.Unlock()

	return s
}

// AddStateListener registers a connection state listener.
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// openChannel opens a raw channel on the current connection.
func (cm *ConnectionManager) openChannel() (Channel, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn.Channel()
}

// dialBroker dials the broker, honoring context cancellation.
func (cm *ConnectionManager) dialBroker(ctx context.Context) (Connection, error) {
	connChan := make(chan Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := cm.dial(cm.url, amqp.Config{Heartbeat: cm.heartbeat})
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		return conn, nil
	case err := <-errChan:
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
		}
	case <-ctx.Done():
		// The dial may still complete after the caller gave up; reap the
		// connection so it does not keep heartbeating in the background.
		go func() {
			select {
			case conn := <-connChan:
				if err := conn.Close(); err != nil {
					cm.logger.Warn("failed to close connection established after cancellation", "error", err)
				}
			case <-errChan:
			}
		}()
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}
	}
}

// monitor watches connection lifecycle events. Close notifications trigger
// the reconnect loop; blocked notifications are logged only, since in-flight
// channel references stay valid while the broker applies backpressure.
func (cm *ConnectionManager) monitor() {
	cm.mu.RLock()
	notifyClose := cm.notifyClose
	notifyBlocked := cm.notifyBlocked
	done := cm.done
	cm.mu.RUnlock()

	for {
		select {
		case err, ok := <-notifyClose:
			if !ok {
				return
			}
			var cause error
			if err != nil {
				cause = err
				cm.logger.Error("connection closed", "error", err)
			} else {
				cm.logger.Info("connection closed")
			}
			cm.mu.Lock()
			cm.connected = false
			cm.mu.Unlock()
			cm.notifyDisconnected(cause)
			cm.reconnect(done)
			return

		case blocking := <-notifyBlocked:
			if blocking.Active {
				cm.logger.Warn("connection blocked by broker", "reason", blocking.Reason)
			} else {
				cm.logger.Info("connection unblocked by broker")
			}

		case <-done:
			return
		}
	}
}

// reconnect re-establishes the connection at the configured interval until it
// succeeds or the manager shuts down.
func (cm *ConnectionManager) reconnect(done chan struct{}) {
	for attempt := 1; ; attempt++ {
		select {
		case <-done:
			return
		case <-time.After(cm.reconnectDelay):
		}

		cm.logger.Info("attempting to reconnect", "attempt", attempt)
		cm.notifyReconnecting(attempt)

		conn, err := cm.dial(cm.url, amqp.Config{Heartbeat: cm.heartbeat})
		if err != nil {
			cm.logger.Error("reconnection failed",
				"attempt", attempt,
				"error", err,
				"nextRetryIn", cm.reconnectDelay)
			continue
		}

		cm.mu.Lock()
		if !cm.started {
			// Disconnect won the race while the dial was in flight; the
			// fresh connection must not outlive the shutdown.
			cm.mu.Unlock()
			if closeErr := conn.Close(); closeErr != nil {
				cm.logger.Warn("failed to close connection established during shutdown", "error", closeErr)
			}
			return
		}
		cm.conn = conn
		cm.connected = true
		cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
		cm.notifyBlocked = conn.NotifyBlocked(make(chan amqp.Blocking, 1))
		cm.mu.Unlock()

		cm.logger.Info("reconnected to broker", "attempts", attempt)
		cm.notifyConnected()

		go cm.monitor()
		return
	}
}

// teardownConnection rolls back a partially completed Connect.
func (cm *ConnectionManager) teardownConnection() {
	cm.mu.Lock()
	conn := cm.conn
	cm.conn = nil
	cm.started = false
	cm.connected = false
	if cm.done != nil {
		close(cm.done)
		cm.done = nil
	}
	cm.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			cm.logger.Warn("failed to close connection during rollback", "error", err)
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnReconnecting(attempt)
	}
}
