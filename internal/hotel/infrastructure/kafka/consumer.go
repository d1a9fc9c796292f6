package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/application"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/idempotency"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

// Consumer reads booking commands and hands the hotel ones to the service.
// Commands for other domains share the topic and are committed untouched.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("hotel-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		env, err := events.Decode(msg.Value)
		if err != nil {
			c.log.Error("malformed command envelope dropped", "err", err)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}
		if env.EventType != events.TypeReserveHotel && env.EventType != events.TypeCancelHotel {
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		seen, err := c.idem.Seen(ctx, env.EventID)
		if err != nil {
			c.log.Error("dedupe check failed", "event_id", env.EventID, "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate command skipped", "event_id", env.EventID)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, env.EventType)
		if err := c.handle(msgCtx, env); err != nil {
			c.log.Error("command handling failed", "event_type", env.EventType, "saga_id", env.SagaID, "err", err)
			span.End()
			continue
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeReserveHotel:
		var cmd events.ReserveHotel
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return err
		}
		return c.svc.Reserve(ctx, cmd)
	case events.TypeCancelHotel:
		var cmd events.CancelHotel
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return err
		}
		return c.svc.Cancel(ctx, cmd)
	}
	return nil
}
