package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/flight/application"
	"github.com/pdhuy2k3/booking-platform-sub005/internal/flight/domain"
	flightkafka "github.com/pdhuy2k3/booking-platform-sub005/internal/flight/infrastructure/kafka"
	flightpg "github.com/pdhuy2k3/booking-platform-sub005/internal/flight/infrastructure/postgres"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/config"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/idempotency"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/lock"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/logging"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox/outboxpg"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/shutdown"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/tracing"
)

func main() {
	log := logging.New("flight-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load("FLIGHT")
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "flight-service", cfg.OTLPEndpoint, log)
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

	repo := flightpg.NewRepository(log, pool)
	store := outboxpg.NewStore(log, pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Error("outbox schema failed", "err", err)
		os.Exit(1)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("schema failed", "err", err)
		os.Exit(1)
	}
	if os.Getenv("FLIGHT_DEMO_SEED") == "true" {
		seed := domain.Inventory{FlightNumber: "VN123", FareClass: "ECONOMY", SeatsTotal: 100, SeatsAvailable: 100}
		if err := repo.SeedInventory(ctx, seed); err != nil {
			log.Error("demo seed failed", "err", err)
		}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	dispatch := outbox.NewDispatcher(log, writer, cfg.FlightTopic)
	relay := outbox.NewRelay(log, store, dispatch, "flight-relay")

	locks := lock.NewManager(rdb)
	svc := application.NewService(log, repo, locks, application.Options{
		LockTTL:      cfg.LockTTL,
		LockAttempts: cfg.LockAttempts,
	})

	idem := idempotency.NewStore(rdb, cfg.DedupeTTL)
	consumer := flightkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.BookingTopic, "flight-service", svc, idem)

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

	<-ctx.Done()

	// Give in-flight handlers a moment to finish their transactions.
	time.Sleep(500 * time.Millisecond)
	log.Info("flight-service shutdown complete")
}
