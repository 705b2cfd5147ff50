package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-api/internal/service/event"
)

type OutboxCleanupWorker struct {
	events          *event.EventService
	retention       time.Duration
	cleanupInterval time.Duration
}

func NewOutboxCleanupWorker(events *event.EventService, retention, cleanupInterval time.Duration) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		events:          events,
		retention:       retention,
		cleanupInterval: cleanupInterval,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *OutboxCleanupWorker) cleanup(ctx context.Context) {
	rows, err := w.events.CleanupProcessedEvents(ctx, w.retention)
	if err != nil {
		// Log error but continue
		log.Error().Err(err).Msg("Error cleaning up outbox events")
		return
	}
	if rows > 0 {
		log.Info().Int64("deleted", rows).Dur("retention", w.retention).Msg("Cleaned up processed outbox events")
	}
}
