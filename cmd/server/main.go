package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"enrolld/internal/enrollment/committer"
	"enrolld/internal/enrollment/events"
	"enrolld/internal/enrollment/expiration"
	"enrolld/internal/enrollment/handler"
	enrollmentmetrics "enrolld/internal/enrollment/metrics"
	"enrolld/internal/enrollment/migrator"
	"enrolld/internal/enrollment/reconcile"
	"enrolld/internal/enrollment/requirements"
	"enrolld/internal/enrollment/service"
	"enrolld/internal/enrollment/store/committed"
	"enrolld/internal/enrollment/store/committed/migrations"
	"enrolld/internal/enrollment/store/pending"
	"enrolld/internal/platform/config"
	"enrolld/internal/platform/httpserver"
	"enrolld/internal/platform/logger"
	"enrolld/internal/platform/metrics"
	"enrolld/internal/platform/postgres"
	"enrolld/internal/platform/redis"
	"enrolld/pkg/platform/circuit"
	"enrolld/pkg/platform/httputil"
	"enrolld/pkg/platform/middleware/requestid"
	"enrolld/pkg/platform/middleware/requesttime"
)

// main wires dependencies, exposes the HTTP router, and owns the server
// lifecycle. Business logic lives in internal/enrollment.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("enrolld stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("enrolld stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.ApplyMigrations(ctx, db, migrations.FS, "."); err != nil {
		return err
	}
	committedStore := committed.NewPostgres(db)

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var locker pending.Locker = pending.NewKeyedLocker()
	if redisClient != nil {
		defer redisClient.Close()
		locker = pending.NewRedisLocker(redisClient.Client, cfg.Redis.LockTTL)
		log.Info("using redis locks for pending applications")
	}

	enrollMetrics := enrollmentmetrics.New()

	pendingStore, err := pending.New(cfg.Storage.PendingFile,
		pending.WithLocker(locker),
		pending.WithAnnotator(reconcile.New(committedStore, log)),
		pending.WithLogger(log),
	)
	if err != nil {
		return err
	}
	files, err := migrator.New(cfg.Storage.Root, migrator.WithLogger(log))
	if err != nil {
		return err
	}

	var table *requirements.Table
	if cfg.Enrollment.RulesFile != "" {
		if table, err = requirements.LoadTable(cfg.Enrollment.RulesFile); err != nil {
			return err
		}
	}
	resolver := requirements.NewResolver(table,
		requirements.WithLogger(log),
		requirements.WithMetrics(enrollMetrics),
	)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(enrollMetrics),
		service.WithLocker(locker),
		service.WithRemoveOnCommit(cfg.Enrollment.RemoveOnCommit),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		if err := publisher.EnsureTopic(ctx, cfg.Kafka.TopicPartitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		breaker := circuit.New("kafka-"+cfg.Kafka.Topic, circuit.WithCooldown(cfg.Kafka.BreakerCooldown))
		opts = append(opts, service.WithPublisher(events.NewGuardedPublisher(publisher, breaker, log)))
	}

	svc := service.New(
		pendingStore,
		files,
		committer.New(committer.NewPostgresTx(db, cfg.Postgres.TxTimeout), committer.WithLogger(log)),
		committedStore,
		resolver,
		expiration.New(cfg.Enrollment.GracePeriod()),
		opts...,
	)

	router := chi.NewRouter()
	router.Use(chimw.Recoverer)
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	router.Use(metrics.New().Middleware)
	router.Get("/health", healthHandler(db, redisClient))
	router.Handle("/metrics", promhttp.Handler())
	handler.New(svc, log, cfg.Server.AdminToken, cfg.Server.MaxUploadBytes).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting enrolld", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Enrollment.RulesFile != "" {
		g.Go(func() error {
			return requirements.Watch(gctx, cfg.Enrollment.RulesFile, resolver, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func healthHandler(db *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "postgres": "ok"}
		code := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status["status"], status["postgres"] = "degraded", "unreachable"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "ok"
			if err := redisClient.Health(r.Context()); err != nil {
				status["status"], status["redis"] = "degraded", "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, code, status)
	}
}
