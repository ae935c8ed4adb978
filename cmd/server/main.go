package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/dede-rides/internal/config"
	"github.com/example/dede-rides/internal/event"
	httpapi "github.com/example/dede-rides/internal/http"
	"github.com/example/dede-rides/internal/ingest"
	"github.com/example/dede-rides/internal/logging"
	"github.com/example/dede-rides/internal/notify"
	"github.com/example/dede-rides/internal/offers"
	"github.com/example/dede-rides/internal/queue"
	"github.com/example/dede-rides/internal/repo"
	"github.com/example/dede-rides/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		rs := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err := rs.Ping(context.Background()); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		st = rs
	case "postgres":
		if cfg.RunMigrations {
			if err := store.Migrate(cfg.PGDSN); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		ps, err := store.NewPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unreachable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		st = ps
	default:
		st = store.NewMemory()
	}

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	coord := queue.NewCoordinator(st, producer, logger)
	off := offers.NewService(st, producer, logger)
	ev := event.NewService(st, producer, logger)
	stream := notify.NewEventStream(st)

	var topics repo.TopicSubscriber
	if cfg.FCMEndpoint != "" {
		topics = notify.NewFCMTopics(cfg.FCMEndpoint, cfg.FCMKey)
	}
	users := notify.NewUserStream(st, topics)

	srv := httpapi.NewServer(st, coord, off, ev, stream, users, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := queue.NewReconciler(st, logger)
	go reconciler.Run(ctx, cfg.ReconcileInterval)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("ride queue service listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
