package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/application"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/events"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

// Consumer feeds reservation and payment results from the downstream outbox
// topics into the saga service. Dedupe by event id happens inside the service,
// so every fetched message is committed whether or not handling succeeded;
// unprocessed results come back through the reaper.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers, topics []string, group string, svc *application.Service) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: topics,
		GroupID:     group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		tracer: otel.Tracer("orchestrator-consumer"),
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
			c.log.Error("malformed result envelope dropped", "topic", msg.Topic, "err", err)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "HandleResult")

		if err := c.svc.HandleResult(msgCtx, env); err != nil {
			c.log.Error("result handling failed", "event_type", env.EventType, "saga_id", env.SagaID, "err", err)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}
