package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Dispatcher struct {
	log        *slog.Logger
	producer   Producer
	topic      string
	maxElapsed time.Duration
}

func NewDispatcher(log *slog.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{
		log:        log,
		producer:   producer,
		topic:      topic,
		maxElapsed: 30 * time.Second,
	}
}

// Dispatch wraps the row into the shared envelope and publishes it keyed by
// aggregate id, which preserves per-aggregate ordering on the topic. Broker
// hiccups are retried with exponential backoff within maxElapsed; past that
// the row stays pending and the relay re-leases it later. Rows are never
// dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	env := events.Envelope{
		EventID:     event.EventID,
		EventType:   event.Type,
		AggregateID: event.AggregateID,
		SagaID:      event.SagaID,
		OccurredAt:  event.CreatedAt,
		Payload:     event.Payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(event.Traceparent)})
	}

	msg := kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: headers,
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.maxElapsed
	err = backoff.Retry(func() error {
		return d.producer.WriteMessages(ctx, msg)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.EventID, "type", event.Type, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.EventID, "type", event.Type)
	return nil
}
