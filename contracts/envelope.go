// Package contracts defines the event envelope exchanged with collaborators.
// The broker layer never interprets payloads; it only routes them.
package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event for transport. Payload and metadata are produced
// and interpreted entirely by collaborators.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	ActorID   string                 `json:"actorId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope for the given event type, marshaling the
// payload to JSON.
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = b
	}

	return &Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}, nil
}

// Validate checks the fields the broker layer depends on for routing and
// correlation.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("envelope type is required")
	}
	if e.ID == "" {
		return fmt.Errorf("envelope id is required")
	}
	return nil
}

// WithActor records the id of the actor that originated the event.
func (e *Envelope) WithActor(actorID string) *Envelope {
	e.ActorID = actorID
	return e
}

// WithMetadata attaches a metadata entry.
func (e *Envelope) WithMetadata(key string, value interface{}) *Envelope {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
