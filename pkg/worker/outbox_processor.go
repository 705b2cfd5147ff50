package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/repository"
)

type OutboxProcessorConfig struct {
	// Channel receives every event payload.
	Channel       string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxDeliveries bounds how many polls may retry a failing event before
	// it is left failed with no retry time.
	MaxDeliveries int
}

// EventHandler runs after an event has been published. Handler errors are
// logged and do not cause a republish.
type EventHandler interface {
	Handle(ctx context.Context, event *model.OutboxEvent) error
}

type OutboxProcessor struct {
	repo     repository.OutboxRepository
	broker   messaging.Broker
	config   OutboxProcessorConfig
	handlers []EventHandler
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	handlers ...EventHandler,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.Channel == "" {
		panic("Channel must not be empty")
	}
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxDeliveries <= 0 {
		panic("MaxDeliveries must be greater than 0")
	}

	return &OutboxProcessor{
		repo:     repo,
		broker:   broker,
		config:   config,
		handlers: handlers,
		logger:   logger.With("outbox_processor"),
		metrics:  metrics,
		now:      time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessEvents(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessEvents delivers one batch of due events.
func (p *OutboxProcessor) ProcessEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
	}

	if n, err := p.repo.CountPending(ctx); err == nil {
		p.metrics.OutboxQueueSize.Set(float64(n))
	}
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func(attempt int) error {
		if attempt > 0 {
			p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		}
		return p.broker.Publish(ctx, p.config.Channel, []byte(event.Payload))
	})

	if err != nil {
		p.metrics.RedisOperations.WithLabelValues("publish", "error").Inc()
		p.metrics.OutboxEventsFailed.Inc()
		errStr := err.Error()
		if updateErr := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errStr, p.nextRetry(event)); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}
	p.metrics.RedisOperations.WithLabelValues("publish", "success").Inc()

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	for _, h := range p.handlers {
		if err := h.Handle(ctx, event); err != nil {
			p.logger.Error(err, "Event handler failed",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

// nextRetry backs off linearly with the number of failed deliveries and
// returns nil once MaxDeliveries is reached.
func (p *OutboxProcessor) nextRetry(event *model.OutboxEvent) *time.Time {
	deliveries := event.RetryCount + 1
	if deliveries >= p.config.MaxDeliveries {
		return nil
	}
	at := p.now().Add(time.Duration(deliveries) * p.config.RetryDelay)
	return &at
}

// Helper retry function
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
