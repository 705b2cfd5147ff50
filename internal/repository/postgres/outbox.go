package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// claimLease is how long a claimed event stays invisible to other workers.
const claimLease = time.Minute

const outboxColumns = `id, event_type, payload, status, error_message, retry_count,
	retry_at, created_at, processed_at, updated_at`

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES (
			:id, :event_type, :payload, :status, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingEventsWithLock claims up to limit due events by pushing their
// retry_at forward, so concurrent workers skip them until the lease ends.
func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET retry_at = NOW() + $2::float8 * interval '1 second'
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status IN ('pending', 'failed')
			AND (retry_at IS NULL OR retry_at <= NOW())
			AND (status = 'pending' OR retry_at IS NOT NULL)
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING ` + outboxColumns

	events := []*model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &events, query, limit, claimLease.Seconds()); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $1::text,
			error_message = $2,
			retry_at = $3,
			retry_count = CASE WHEN $1::text = 'failed' THEN retry_count + 1 ELSE retry_count END,
			processed_at = CASE WHEN $1::text = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, retryAt, id)
	if err != nil {
		return mapError(err, "outbox event")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return mapError(err, "outbox event")
	}
	if rows == 0 {
		return apperrors.NewNotFound("outbox event", nil)
	}
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_events WHERE status <> 'processed'`)
	return n, mapError(err, "outbox event")
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}
