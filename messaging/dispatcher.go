package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shoplane/brokerkit/contracts"
)

// ErrNoHandler is returned when no handler is registered for an event type.
var ErrNoHandler = errors.New("messaging: no handler registered for event type")

// Dispatcher routes envelopes to handlers through an explicit registration
// table mapping event type to handler list. The table is built at startup and
// consulted by the consumer loop; there is no reflection or metadata binding.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *slog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]EventHandler),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register adds a handler for the given event type. Multiple handlers per
// type are invoked in registration order.
func (d *Dispatcher) Register(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// RegisterFunc adds a handler function for the given event type.
func (d *Dispatcher) RegisterFunc(eventType string, handler EventHandlerFunc) {
	d.Register(eventType, handler)
}

// HandlerCount returns the number of handlers registered for an event type.
func (d *Dispatcher) HandlerCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

// Dispatch invokes every handler registered for the envelope's type in
// order, stopping at the first failure.
func (d *Dispatcher) Dispatch(ctx context.Context, event *contracts.Envelope) error {
	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Type)
	}

	for _, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// Handle implements EventHandler so a dispatcher can sit behind WithRetry.
func (d *Dispatcher) Handle(ctx context.Context, event *contracts.Envelope) error {
	return d.Dispatch(ctx, event)
}
