package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type OutboxRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*model.OutboxEvent
	now    func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[uuid.UUID]*model.OutboxEvent), now: time.Now}
}

func (r *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *event
	r.events[event.ID] = &c
	return nil
}

// GetPendingEventsWithLock returns pending events and failed events whose
// retry time has come, oldest first.
func (r *OutboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var due []*model.OutboxEvent
	for _, e := range r.events {
		if isDue(e, now) {
			c := *e
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok {
		return apperrors.NewNotFound("outbox event", nil)
	}
	now := r.now()
	e.Status = status
	e.ErrorMessage = errorMessage
	e.RetryAt = retryAt
	e.UpdatedAt = now
	switch status {
	case model.OutboxStatusProcessed:
		e.ProcessedAt = &now
	case model.OutboxStatusFailed:
		e.RetryCount++
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Status != model.OutboxStatusProcessed {
			n++
		}
	}
	return n, nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

// Events returns a copy of every stored event, oldest first.
func (r *OutboxRepository) Events() []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.OutboxEvent, 0, len(r.events))
	for _, e := range r.events {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func isDue(e *model.OutboxEvent, now time.Time) bool {
	switch e.Status {
	case model.OutboxStatusPending:
		return true
	case model.OutboxStatusFailed:
		return e.RetryAt != nil && !e.RetryAt.After(now)
	}
	return false
}
