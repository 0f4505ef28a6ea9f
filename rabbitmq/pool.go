package rabbitmq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PublisherChannel wraps a pool-owned AMQP channel with its pool identity.
// Publisher channels carry no topology and are safely reused between borrows.
type PublisherChannel struct {
	Channel
	id string
}

// ID returns the pool identifier of the channel.
func (pc *PublisherChannel) ID() string {
	return pc.id
}

// ChannelPool manages a set of publisher channels with borrow/return
// semantics. The pool grows on demand: a borrow request never blocks and is
// never rejected for capacity reasons. The pool only shrinks at shutdown.
type ChannelPool struct {
	open   func() (Channel, error)
	logger *slog.Logger

	mu       sync.Mutex
	channels []*PublisherChannel
	inUse    map[string]struct{}
	closed   bool
}

// ChannelPoolOption configures the channel pool.
type ChannelPoolOption func(*ChannelPool)

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *slog.Logger) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.logger = logger
	}
}

// NewChannelPool creates a channel pool filled with size channels. The open
// function supplies fresh channels from the owning connection.
func NewChannelPool(open func() (Channel, error), size int, options ...ChannelPoolOption) (*ChannelPool, error) {
	if open == nil {
		return nil, ErrInvalidConfiguration
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: pool size must not be negative", ErrInvalidConfiguration)
	}

	pool := &ChannelPool{
		open:   open,
		logger: slog.Default(),
		inUse:  make(map[string]struct{}),
	}

	for _, opt := range options {
		opt(pool)
	}

	for i := 0; i < size; i++ {
		ch, err := pool.create()
		if err != nil {
			pool.Close()
			return nil, &ChannelError{
				Op:        "pool initialization",
				ChannelID: fmt.Sprintf("init-%d", i),
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		pool.channels = append(pool.channels, ch)
	}

	return pool, nil
}

// Get borrows a channel from the pool. If every channel is in use, the pool
// grows by one and the new channel is returned already marked as borrowed.
func (cp *ChannelPool) Get() (*PublisherChannel, error) {
	cp.mu.Lock()

	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrChannelPoolClosed
	}

	staleIdx := -1
	for i, ch := range cp.channels {
		if _, busy := cp.inUse[ch.id]; busy {
			continue
		}
		if ch.IsClosed() {
			if staleIdx < 0 {
				staleIdx = i
			}
			continue
		}
		cp.inUse[ch.id] = struct{}{}
		cp.mu.Unlock()
		return ch, nil
	}

	if staleIdx >= 0 {
		// Stale after a reconnect; replace in place so the pool size
		// bookkeeping stays intact. Reserve the slot, then open the
		// replacement without holding the pool lock.
		stale := cp.channels[staleIdx]
		cp.inUse[stale.id] = struct{}{}
		cp.mu.Unlock()

		fresh, err := cp.create()

		cp.mu.Lock()
		delete(cp.inUse, stale.id)
		if err != nil {
			cp.mu.Unlock()
			return nil, err
		}
		if cp.closed {
			cp.mu.Unlock()
			fresh.Close()
			return nil, ErrChannelPoolClosed
		}
		cp.channels[staleIdx] = fresh
		cp.inUse[fresh.id] = struct{}{}
		cp.mu.Unlock()
		return fresh, nil
	}
	cp.mu.Unlock()

	// All channels borrowed: grow the pool.
	ch, err := cp.create()
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		ch.Close()
		return nil, ErrChannelPoolClosed
	}
	cp.channels = append(cp.channels, ch)
	cp.inUse[ch.id] = struct{}{}
	total := len(cp.channels)
	cp.mu.Unlock()

	cp.logger.Debug("publisher channel pool grew",
		"channelId", ch.id,
		"poolSize", total)

	return ch, nil
}

// Release returns a borrowed channel to the pool. Releasing a channel that is
// not currently borrowed is a no-op that logs a warning.
func (cp *ChannelPool) Release(ch *PublisherChannel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if _, busy := cp.inUse[ch.id]; !busy {
		cp.logger.Warn("release of channel not marked in use",
			"channelId", ch.id)
		return
	}
	delete(cp.inUse, ch.id)
}

// Close closes every channel in the pool and clears all bookkeeping. Close
// failures are logged and do not stop the teardown.
func (cp *ChannelPool) Close() {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return
	}
	cp.closed = true
	channels := cp.channels
	cp.channels = nil
	cp.inUse = make(map[string]struct{})
	cp.mu.Unlock()

	for _, ch := range channels {
		if ch.IsClosed() {
			continue
		}
		if err := ch.Close(); err != nil {
			cp.logger.Error("failed to close publisher channel",
				"channelId", ch.id,
				"error", err)
		}
	}
}

// PoolStats describes the pool's current occupancy.
type PoolStats struct {
	Total     int
	InUse     int
	Available int
}

// Stats returns the pool's current occupancy.
func (cp *ChannelPool) Stats() PoolStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	total := len(cp.channels)
	inUse := len(cp.inUse)
	return PoolStats{
		Total:     total,
		InUse:     inUse,
		Available: total - inUse,
	}
}

func (cp *ChannelPool) create() (*PublisherChannel, error) {
	ch, err := cp.open()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %w", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	return &PublisherChannel{
		Channel: ch,
		id:      uuid.New().String(),
	}, nil
}
