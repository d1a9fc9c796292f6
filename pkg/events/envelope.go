// Package events defines the wire contract shared by the orchestrator and the
// reservation handlers: the message envelope plus every command and result
// payload that travels over the outbox topics.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the unit published on every outbox topic. EventID is the
// consumer-side dedupe key; AggregateID is the Kafka message key, which keeps
// per-aggregate ordering.
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	SagaID      string          `json:"saga_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, aggregateID, sagaID string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		SagaID:      sagaID,
		OccurredAt:  time.Now().UTC(),
		Payload:     body,
	}, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Decode parses a raw topic message back into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
