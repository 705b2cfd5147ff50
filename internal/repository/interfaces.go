package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// SlotCheck is evaluated by the store against the doctor's current bookings
// for the appointment's date, after the store has serialized writers for that
// doctor and date. Returning an error aborts the write.
type SlotCheck func(booked []*model.Appointment) error

// All repository interfaces in one file
type (
	AppointmentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		// List returns appointments matching filters. Stores may apply filters
		// loosely; callers re-apply them.
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
		ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error)
		// Create inserts appointment if check accepts the doctor's bookings.
		Create(ctx context.Context, appointment *model.Appointment, check SlotCheck) error
		// Update replaces the stored row if its version still equals
		// appointment.Version, then increments the version. check may be nil
		// when the slot does not change.
		Update(ctx context.Context, appointment *model.Appointment, check SlotCheck) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		CountPending(ctx context.Context) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// DirectoryRepository reads patient and doctor records owned by other
	// services. Get* return a NotFound error when the id is unknown.
	DirectoryRepository interface {
		GetPatient(ctx context.Context, id uuid.UUID) (*model.Person, error)
		GetDoctor(ctx context.Context, id uuid.UUID) (*model.Person, error)
	}
)
