package messaging

import (
	"context"

	"github.com/shoplane/brokerkit/contracts"
)

// EventHandler processes one inbound event envelope.
type EventHandler interface {
	Handle(ctx context.Context, event *contracts.Envelope) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event *contracts.Envelope) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event *contracts.Envelope) error {
	return f(ctx, event)
}
