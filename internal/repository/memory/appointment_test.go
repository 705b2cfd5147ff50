package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

var (
	doctorID = uuid.New()
	day      = model.NewDate(2025, time.March, 10)
)

func newAppointment(hour int) *model.Appointment {
	return &model.Appointment{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		DoctorID:          doctorID,
		AppointmentDate:   day,
		AppointmentTime:   model.NewTimeOfDay(hour, 0),
		EstimatedDuration: 30,
		Status:            model.AppointmentStatusScheduled,
		Priority:          model.PriorityNormal,
		Reason:            "Routine examination",
		Version:           1,
	}
}

// rejectOverlap fails when any blocking booking overlaps a.
func rejectOverlap(a *model.Appointment) func([]*model.Appointment) error {
	return func(booked []*model.Appointment) error {
		for _, b := range booked {
			if b.ID != a.ID && b.Blocking() && b.Overlaps(a.AppointmentTime, a.End()) {
				return apperrors.NewConflict("slot taken", nil)
			}
		}
		return nil
	}
}

func TestCreateAndGetReturnCopies(t *testing.T) {
	repo := NewAppointmentRepository()
	a := newAppointment(9)
	require.NoError(t, repo.Create(context.Background(), a, nil))

	a.Reason = "mutated after create"
	got, err := repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Routine examination", got.Reason)

	got.Status = model.AppointmentStatusCancelled
	again, err := repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, again.Status)
}

func TestGetMissing(t *testing.T) {
	_, err := NewAppointmentRepository().Get(context.Background(), uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCreateRunsCheckAgainstDoctorDay(t *testing.T) {
	repo := NewAppointmentRepository()
	first := newAppointment(9)
	require.NoError(t, repo.Create(context.Background(), first, rejectOverlap(first)))

	second := newAppointment(9)
	err := repo.Create(context.Background(), second, rejectOverlap(second))
	assert.True(t, apperrors.IsConflict(err))

	other := newAppointment(9)
	other.DoctorID = uuid.New()
	assert.NoError(t, repo.Create(context.Background(), other, rejectOverlap(other)))
}

func TestUpdateChecksVersion(t *testing.T) {
	repo := NewAppointmentRepository()
	a := newAppointment(9)
	require.NoError(t, repo.Create(context.Background(), a, nil))

	first, _ := repo.Get(context.Background(), a.ID)
	second, _ := repo.Get(context.Background(), a.ID)

	first.Status = model.AppointmentStatusConfirmed
	require.NoError(t, repo.Update(context.Background(), first, nil))
	assert.Equal(t, 2, first.Version)

	second.Status = model.AppointmentStatusCancelled
	err := repo.Update(context.Background(), second, nil)
	assert.True(t, apperrors.IsConflict(err))

	stored, _ := repo.Get(context.Background(), a.ID)
	assert.Equal(t, model.AppointmentStatusConfirmed, stored.Status)
}

func TestUpdateMissing(t *testing.T) {
	err := NewAppointmentRepository().Update(context.Background(), newAppointment(9), nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConcurrentOverlappingCreates(t *testing.T) {
	repo := NewAppointmentRepository()
	const workers = 32

	var wg sync.WaitGroup
	var wins atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := newAppointment(10)
			<-start
			if err := repo.Create(context.Background(), a, rejectOverlap(a)); err == nil {
				wins.Add(1)
			} else {
				assert.True(t, apperrors.IsConflict(err))
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	booked, err := repo.ListForDoctorDay(context.Background(), doctorID, day)
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestListPrefilters(t *testing.T) {
	repo := NewAppointmentRepository()
	a := newAppointment(9)
	b := newAppointment(10)
	b.Status = model.AppointmentStatusCompleted
	require.NoError(t, repo.Create(context.Background(), a, nil))
	require.NoError(t, repo.Create(context.Background(), b, nil))

	items, err := repo.List(context.Background(), &model.AppointmentFilters{Status: model.AppointmentStatusCompleted})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)

	items, err = repo.List(context.Background(), &model.AppointmentFilters{DateFrom: day.AddDays(1)})
	require.NoError(t, err)
	assert.Empty(t, items)
}
