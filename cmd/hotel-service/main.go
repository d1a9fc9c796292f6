package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/application"
	"github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/domain"
	hotelkafka "github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/infrastructure/kafka"
	hotelpg "github.com/pdhuy2k3/booking-platform-sub005/internal/hotel/infrastructure/postgres"
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
	log := logging.New("hotel-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load("HOTEL")
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "hotel-service", cfg.OTLPEndpoint, log)
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

	repo := hotelpg.NewRepository(log, pool)
	store := outboxpg.NewStore(log, pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Error("outbox schema failed", "err", err)
		os.Exit(1)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("schema failed", "err", err)
		os.Exit(1)
	}
	if os.Getenv("HOTEL_DEMO_SEED") == "true" {
		night := time.Now().UTC().Truncate(24 * time.Hour)
		for i := 0; i < 30; i++ {
			seed := domain.Inventory{HotelID: "H9", RoomType: "DELUXE", Night: night.AddDate(0, 0, i), RoomsTotal: 20, RoomsAvailable: 20}
			if err := repo.SeedInventory(ctx, seed); err != nil {
				log.Error("demo seed failed", "err", err)
				break
			}
		}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	dispatch := outbox.NewDispatcher(log, writer, cfg.HotelTopic)
	relay := outbox.NewRelay(log, store, dispatch, "hotel-relay")

	locks := lock.NewManager(rdb)
	svc := application.NewService(log, repo, locks, application.Options{
		LockTTL:      cfg.LockTTL,
		LockAttempts: cfg.LockAttempts,
	})

	idem := idempotency.NewStore(rdb, cfg.DedupeTTL)
	consumer := hotelkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.BookingTopic, "hotel-service", svc, idem)

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
	log.Info("hotel-service shutdown complete")
}
