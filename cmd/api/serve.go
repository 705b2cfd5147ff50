package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/internal/config"
	appointmentHandler "github.com/jwalitptl/clinic-api/internal/handler/appointment"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/router"
	appointmentService "github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/internal/service/audit"
	"github.com/jwalitptl/clinic-api/internal/service/availability"
	"github.com/jwalitptl/clinic-api/internal/service/directory"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	pkgworker "github.com/jwalitptl/clinic-api/pkg/worker"
)

type stores struct {
	db           *sqlx.DB
	appointments repository.AppointmentRepository
	outbox       repository.OutboxRepository
	directory    repository.DirectoryRepository
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		people := memory.NewDirectoryRepository()
		for _, p := range cfg.Directory.Patients {
			people.AddPatient(person(p, model.RolePatient))
		}
		for _, p := range cfg.Directory.Doctors {
			people.AddDoctor(person(p, model.RoleDoctor))
		}
		return &stores{
			appointments: memory.NewAppointmentRepository(),
			outbox:       memory.NewOutboxRepository(),
			directory:    people,
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.MigrateUp(cfg.Database.MigrateURL()); err != nil {
			return nil, err
		}
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	base := postgres.NewBaseRepository(db)
	return &stores{
		db:           db,
		appointments: postgres.NewAppointmentRepository(base),
		outbox:       postgres.NewOutboxRepository(base),
		directory:    postgres.NewDirectoryRepository(base),
	}, nil
}

func person(p config.PersonConfig, role model.PersonRole) model.Person {
	// ids are validated when the config is loaded
	return model.Person{ID: uuid.MustParse(p.ID), Role: role, Name: p.Name, Email: p.Email, Phone: p.Phone}
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLogger := logger.Setup(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// both were checked by config validation
	loc, _ := cfg.Clinic.Location()
	hours, _ := cfg.Clinic.Hours()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	auditLogger, err := audit.NewLogger(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditor := audit.NewService(auditLogger)
	defer auditor.Sync()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "clinic")

	// Initialize services
	checker := availability.NewChecker(st.appointments, availability.Config{Hours: hours, Location: loc})
	directorySvc := directory.NewService(st.directory, directory.Config{
		CacheTTL:           cfg.Directory.CacheTTL,
		StrictRefs:         cfg.Directory.StrictRefs,
		BreakerMaxFailures: cfg.Directory.BreakerMaxFailures,
		BreakerTimeout:     cfg.Directory.BreakerTimeout,
	})
	eventSvc := eventService.NewEventService(st.outbox)
	appointmentSvc := appointmentService.NewService(
		st.appointments,
		checker,
		directorySvc,
		eventSvc,
		auditor,
		m,
		appointmentService.Config{
			Location:        loc,
			DefaultPageSize: cfg.Pagination.DefaultPageSize,
			MaxPageSize:     cfg.Pagination.MaxPageSize,
		},
	)

	checks := map[string]health.Pinger{}
	if st.db != nil {
		checks["database"] = st.db
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(cfg.Auth),
		appointmentHandler.NewHandler(appointmentSvc),
		health.NewHandler(checks),
		prometheusHandler.New(registry).Handler(),
		m,
		router.RouterConfig{
			Mode:           gin.ReleaseMode,
			RequestTimeout: cfg.Server.RequestTimeout,
			RateLimit:      cfg.RateLimit,
			CORS:           cfg.CORS,
		},
	)

	if cfg.Outbox.Embedded || cfg.Database.Driver == config.DriverMemory {
		startEmbeddedWorker(ctx, cfg, st, eventSvc, appLogger, m)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server exited")
	return nil
}

// startEmbeddedWorker delivers outbox events from inside the API process.
// Without a reachable broker events stay in the outbox.
func startEmbeddedWorker(ctx context.Context, cfg *config.Config, st *stores, events *eventService.EventService, l *logger.Logger, m *metrics.Metrics) {
	broker, err := newBroker(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, outbox events will not be published")
		return
	}

	var handlers []pkgworker.EventHandler
	if cfg.Mail.Enabled {
		handlers = append(handlers, worker.NewPatientNotifier(st.directory, newMailer(cfg.Mail)))
	}

	processor := pkgworker.NewOutboxProcessor(
		st.outbox,
		broker,
		outboxProcessorConfig(cfg),
		l,
		m,
		handlers...,
	)
	go func() {
		<-ctx.Done()
		broker.Close()
	}()
	go processor.Start(ctx)
	go worker.NewOutboxCleanupWorker(events, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval).Start(ctx)
}
