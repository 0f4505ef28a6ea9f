package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/brokerkit/contracts"
)

func TestDispatcher(t *testing.T) {
	t.Run("routes by event type", func(t *testing.T) {
		d := NewDispatcher()

		var handled string
		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error {
			handled = event.Type
			return nil
		})
		d.RegisterFunc("order.shipped", func(ctx context.Context, event *contracts.Envelope) error {
			t.Error("wrong handler invoked")
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), mustEnvelope(t, "order.paid", nil)))
		assert.Equal(t, "order.paid", handled)
	})

	t.Run("unregistered type returns ErrNoHandler", func(t *testing.T) {
		d := NewDispatcher()

		err := d.Dispatch(context.Background(), mustEnvelope(t, "order.paid", nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoHandler)
		assert.Contains(t, err.Error(), "order.paid")
	})

	t.Run("multiple handlers run in registration order", func(t *testing.T) {
		d := NewDispatcher()

		var order []string
		for _, name := range []string{"first", "second", "third"} {
			name := name
			d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error {
				order = append(order, name)
				return nil
			})
		}

		require.NoError(t, d.Dispatch(context.Background(), mustEnvelope(t, "order.paid", nil)))
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("stops at the first failing handler", func(t *testing.T) {
		d := NewDispatcher()
		boom := errors.New("boom")

		var order []string
		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error {
			order = append(order, "first")
			return boom
		})
		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error {
			order = append(order, "second")
			return nil
		})

		err := d.Dispatch(context.Background(), mustEnvelope(t, "order.paid", nil))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"first"}, order)
	})

	t.Run("HandlerCount reflects registrations", func(t *testing.T) {
		d := NewDispatcher()
		assert.Equal(t, 0, d.HandlerCount("order.paid"))

		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error { return nil })
		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error { return nil })
		assert.Equal(t, 2, d.HandlerCount("order.paid"))
	})

	t.Run("implements EventHandler for retry wrapping", func(t *testing.T) {
		d := NewDispatcher()

		var calls int
		d.RegisterFunc("order.paid", func(ctx context.Context, event *contracts.Envelope) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		})

		wrapped := WithRetry(d, WithBaseDelay(1))
		require.NoError(t, wrapped.Handle(context.Background(), mustEnvelope(t, "order.paid", nil)))
		assert.Equal(t, 2, calls)
	})
}
