package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	pkgworker "github.com/jwalitptl/clinic-api/pkg/worker"
)

func main() {
	var configPath, healthAddr string

	rootCmd := &cobra.Command{
		Use:   "clinic-worker",
		Short: "Delivers appointment events from the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, healthAddr)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "Address for health and metrics endpoints")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, healthAddr string) error {
	appLogger := logger.Setup(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), Format: cfg.Log.Format})

	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("worker requires database.driver=%s; the memory outbox is only readable from the API process", config.DriverPostgres)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := generateWorkerID()
	appLogger = appLogger.WithFields(map[string]interface{}{"worker_id": workerID})

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Initialize Redis broker
	zl := log.With().Str("component", "redis").Logger()
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &zl)
	if err != nil {
		return fmt.Errorf("failed to create Redis broker: %w", err)
	}
	defer broker.Close()

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, "clinic_worker")

	var handlers []pkgworker.EventHandler
	if cfg.Mail.Enabled {
		directoryRepo := postgres.NewDirectoryRepository(baseRepo)
		handlers = append(handlers, worker.NewPatientNotifier(directoryRepo, email.NewSMTPService(cfg.Mail)))
	}

	processor := pkgworker.NewOutboxProcessor(
		outboxRepo,
		broker,
		pkgworker.OutboxProcessorConfig{
			Channel:       cfg.Redis.Channel,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			MaxDeliveries: cfg.Outbox.MaxDeliveries,
		},
		appLogger,
		m,
		handlers...,
	)
	cleanup := worker.NewOutboxCleanupWorker(
		eventService.NewEventService(outboxRepo),
		cfg.Outbox.Retention,
		cfg.Outbox.CleanupInterval,
	)

	srv := setupHealthCheck(healthAddr, registry, db.PingContext)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			stop()
		}
	}()

	go cleanup.Start(ctx)
	appLogger.Info("Worker started", "mail", cfg.Mail.Enabled)
	processor.Start(ctx)
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupHealthCheck(addr string, registry *prometheus.Registry, ping func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("worker-%s-%d", hostname, time.Now().UnixNano())
}
