package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/application"
	orchhttp "github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/infrastructure/http"
	orchkafka "github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/infrastructure/kafka"
	orchpg "github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/infrastructure/postgres"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/config"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/idempotency"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/logging"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/shutdown"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

func main() {
	log := logging.New("orchestrator-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load("ORCHESTRATOR")
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "orchestrator-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	repo := orchpg.NewRepository(log, pool)
	store := outboxpg.NewStore(log, pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Error("outbox schema failed", "err", err)
		os.Exit(1)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("schema failed", "err", err)
		os.Exit(1)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	dispatch := outbox.NewDispatcher(log, writer, cfg.BookingTopic)
	relay := outbox.NewRelay(log, store, dispatch, "orchestrator-relay")

	dedupe := idempotency.NewStore(rdb, cfg.DedupeTTL)
	svc := application.NewService(log, repo, dedupe, application.Options{
		MaxStepRetries:          cfg.MaxStepRetries,
		MaxCompensationAttempts: cfg.MaxCompensationAttempts,
		RetryBaseDelay:          cfg.RetryBaseDelay,
	})
	reaper := application.NewReaper(log, svc, cfg.ReaperInterval, cfg.SagaTimeout)

	resultTopics := []string{cfg.FlightTopic, cfg.HotelTopic, cfg.PaymentTopic}
	consumer := orchkafka.NewConsumer(log, cfg.KafkaBrokers, resultTopics, "orchestrator-service", svc)

	handler := orchhttp.NewHandler(log, svc)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped with error", "err", err)
			cancel()
		}
	}()
	go func() {
		if err := reaper.Run(ctx); err != nil {
			log.Error("reaper stopped with error", "err", err)
		}
	}()
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("orchestrator-service shutdown complete")
}
