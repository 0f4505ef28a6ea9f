package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("assigns id, type, and timestamp", func(t *testing.T) {
		env, err := NewEnvelope("order.paid", map[string]string{"orderId": "42"})
		require.NoError(t, err)

		assert.NotEmpty(t, env.ID)
		assert.Equal(t, "order.paid", env.Type)
		assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, time.Second)
		assert.JSONEq(t, `{"orderId":"42"}`, string(env.Payload))
	})

	t.Run("nil payload stays empty", func(t *testing.T) {
		env, err := NewEnvelope("order.paid", nil)
		require.NoError(t, err)
		assert.Nil(t, env.Payload)
	})

	t.Run("unmarshalable payload fails", func(t *testing.T) {
		_, err := NewEnvelope("order.paid", func() {})
		assert.Error(t, err)
	})

	t.Run("ids are unique", func(t *testing.T) {
		a, err := NewEnvelope("order.paid", nil)
		require.NoError(t, err)
		b, err := NewEnvelope("order.paid", nil)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestEnvelopeBuilders(t *testing.T) {
	env, err := NewEnvelope("order.paid", nil)
	require.NoError(t, err)

	env.WithActor("user-7").WithMetadata("source", "checkout").WithMetadata("region", "eu")

	assert.Equal(t, "user-7", env.ActorID)
	assert.Equal(t, "checkout", env.Metadata["source"])
	assert.Equal(t, "eu", env.Metadata["region"])
}

func TestEnvelopeValidate(t *testing.T) {
	t.Run("accepts a complete envelope", func(t *testing.T) {
		env, err := NewEnvelope("order.paid", nil)
		require.NoError(t, err)
		assert.NoError(t, env.Validate())
	})

	t.Run("rejects a missing type", func(t *testing.T) {
		assert.Error(t, (&Envelope{ID: "x"}).Validate())
	})

	t.Run("rejects a missing id", func(t *testing.T) {
		assert.Error(t, (&Envelope{Type: "order.paid"}).Validate())
	})
}

func TestEnvelopeJSON(t *testing.T) {
	env, err := NewEnvelope("order.paid", map[string]int{"amount": 1200})
	require.NoError(t, err)
	env.WithActor("user-7")

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Type, decoded.Type)
	assert.Equal(t, "user-7", decoded.ActorID)
	assert.JSONEq(t, `{"amount":1200}`, string(decoded.Payload))
}
