package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
)

func TestEmitStoresPendingEvent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	svc := NewEventService(repo)
	fixed := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	err := svc.Emit(context.Background(), model.EventAppointmentCreated, map[string]string{"id": "abc"})
	require.NoError(t, err)

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAppointmentCreated, events[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)
	assert.Equal(t, fixed, events[0].CreatedAt)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "abc", payload["id"])
}

func TestEmitRejectsUnencodablePayload(t *testing.T) {
	svc := NewEventService(memory.NewOutboxRepository())
	err := svc.Emit(context.Background(), model.EventAppointmentCreated, make(chan int))
	assert.Error(t, err)
}

func TestCleanupProcessedEvents(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	svc := NewEventService(repo)

	require.NoError(t, svc.Emit(ctx, model.EventAppointmentCreated, nil))
	require.NoError(t, svc.Emit(ctx, model.EventAppointmentConfirmed, nil))
	events := repo.Events()
	require.NoError(t, repo.UpdateStatus(ctx, events[0].ID, model.OutboxStatusProcessed, nil, nil))

	// nothing processed before the cutoff yet
	n, err := svc.CleanupProcessedEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.CleanupProcessedEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.Events(), 1)
}
