package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// AppointmentRepository keeps appointments in process memory. A single write
// lock serializes every check-and-write, so two overlapping commits can never
// both succeed. Reads return copies.
type AppointmentRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*model.Appointment
}

func NewAppointmentRepository() *AppointmentRepository {
	return &AppointmentRepository{byID: make(map[uuid.UUID]*model.Appointment)}
}

func (r *AppointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NewNotFound("appointment", nil)
	}
	return a.Clone(), nil
}

// List applies the exact-match and date filters; free-text search is left to
// the caller.
func (r *AppointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Appointment, 0, len(r.byID))
	for _, a := range r.byID {
		if filters != nil && !prefilter(a, filters) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (r *AppointmentRepository) ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	booked := r.doctorDay(doctorID, date)
	for i, a := range booked {
		booked[i] = a.Clone()
	}
	return booked, nil
}

func (r *AppointmentRepository) Create(ctx context.Context, appointment *model.Appointment, check repository.SlotCheck) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[appointment.ID]; exists {
		return apperrors.NewConflict("appointment already exists", nil)
	}
	if check != nil {
		if err := check(r.doctorDay(appointment.DoctorID, appointment.AppointmentDate)); err != nil {
			return err
		}
	}
	r.byID[appointment.ID] = appointment.Clone()
	return nil
}

func (r *AppointmentRepository) Update(ctx context.Context, appointment *model.Appointment, check repository.SlotCheck) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[appointment.ID]
	if !ok {
		return apperrors.NewNotFound("appointment", nil)
	}
	if stored.Version != appointment.Version {
		return apperrors.NewConflict("appointment was modified by another request; reload and retry", nil).
			WithDetail("current_version", stored.Version)
	}
	if check != nil {
		if err := check(r.doctorDay(appointment.DoctorID, appointment.AppointmentDate)); err != nil {
			return err
		}
	}
	appointment.Version++
	r.byID[appointment.ID] = appointment.Clone()
	return nil
}

// doctorDay returns the stored records, not copies. Callers hold the lock.
func (r *AppointmentRepository) doctorDay(doctorID uuid.UUID, date model.Date) []*model.Appointment {
	var booked []*model.Appointment
	for _, a := range r.byID {
		if a.DoctorID == doctorID && a.AppointmentDate.Equal(date) {
			booked = append(booked, a)
		}
	}
	return booked
}

func prefilter(a *model.Appointment, f *model.AppointmentFilters) bool {
	switch {
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.Priority != "" && a.Priority != f.Priority:
		return false
	case f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID:
		return false
	case f.PatientID != uuid.Nil && a.PatientID != f.PatientID:
		return false
	case !f.DateFrom.IsZero() && a.AppointmentDate.Before(f.DateFrom):
		return false
	case !f.DateTo.IsZero() && a.AppointmentDate.After(f.DateTo):
		return false
	}
	return true
}
