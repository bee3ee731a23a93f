package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"allograft/internal/match/service"
	"allograft/internal/match/store"
	"allograft/internal/platform/config"
	"allograft/internal/platform/events"
	"allograft/internal/platform/httpserver"
	"allograft/internal/platform/logger"
	"allograft/internal/platform/metrics"
	platformredis "allograft/internal/platform/redis"
)

// main wires the allocation coordinator to its store and event backend and
// runs the expiry sweeper until the process is signalled. Business logic
// lives in the internal packages; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, closeStore, err := buildGateway(cfg)
	if err != nil {
		log.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, log)
	if err != nil {
		log.Error("event publisher setup failed", "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	coordinator, err := service.New(gateway,
		service.WithLogger(log),
		service.WithPublisher(publisher),
		service.WithMetrics(metrics.New()),
	)
	if err != nil {
		log.Error("coordinator setup failed", "error", err)
		os.Exit(1)
	}

	if cfg.ExpirySweepInterval > 0 {
		go runExpirySweeper(ctx, coordinator, cfg.ExpirySweepInterval, log)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httpserver.New(cfg.Addr, mux)

	go func() {
		log.Info("allograft serving", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildGateway returns the postgres gateway when DATABASE_URL is set,
// otherwise the in-memory one.
func buildGateway(cfg config.Config) (store.Gateway, func(), error) {
	if cfg.DatabaseURL == "" {
		return store.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

// buildPublisher picks Kafka when brokers are configured, then Redis, then a
// log-only in-process sink.
func buildPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafka(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, events.WithKafkaLogger(log))
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafka.Close(flushCtx); err != nil {
				log.Warn("kafka close failed", "error", err)
			}
		}
		return kafka, closeFn, nil
	}

	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return events.NewRedis(client.Client), func() { _ = client.Close() }, nil
	}

	sink := events.PublisherFunc(func(_ context.Context, event events.Event) error {
		log.Info("event", "name", event.Name, "occurred_at", event.OccurredAt)
		return nil
	})
	return sink, func() {}, nil
}

// runExpirySweeper periodically expires organs past their expiration date.
func runExpirySweeper(ctx context.Context, coordinator *service.Coordinator, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := coordinator.SweepExpiredOrgans(ctx)
			if err != nil {
				log.Warn("expiry sweep aborted", "expired", expired, "error", err)
				continue
			}
			if expired > 0 {
				log.Info("expiry sweep", "expired", expired)
			}
		}
	}
}
