package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const appointmentColumns = `
	id, patient_id, doctor_id, patient_name, doctor_name,
	appointment_date, appointment_time, estimated_duration,
	status, priority, reason, notes, cancel_reason, completion_notes,
	version, created_at, updated_at`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT` + appointmentColumns + ` FROM appointments WHERE id = $1`
	var apt model.Appointment
	if err := r.db.GetContext(ctx, &apt, query, id); err != nil {
		return nil, mapError(err, "appointment")
	}
	return &apt, nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f := filters; f != nil {
		if f.Status != "" {
			query += " AND status = " + arg(f.Status)
		}
		if f.Priority != "" {
			query += " AND priority = " + arg(f.Priority)
		}
		if f.DoctorID != uuid.Nil {
			query += " AND doctor_id = " + arg(f.DoctorID)
		}
		if f.PatientID != uuid.Nil {
			query += " AND patient_id = " + arg(f.PatientID)
		}
		if !f.DateFrom.IsZero() {
			query += " AND appointment_date >= " + arg(f.DateFrom)
		}
		if !f.DateTo.IsZero() {
			query += " AND appointment_date <= " + arg(f.DateTo)
		}
		if s := strings.TrimSpace(f.Search); s != "" {
			p := arg("%" + escapeLike(s) + "%")
			query += " AND (patient_name ILIKE " + p + " OR doctor_name ILIKE " + p + " OR reason ILIKE " + p + ")"
		}
	}
	query += " ORDER BY appointment_date, appointment_time, id"

	appointments := []*model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, mapError(err, "appointment")
	}
	return appointments, nil
}

func (r *appointmentRepository) ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error) {
	return r.doctorDay(ctx, r.db, doctorID, date)
}

// Create takes a transaction-scoped advisory lock on the doctor and date,
// re-reads that day's bookings and runs check before inserting. The
// appointments_no_overlap constraint rejects anything that slips past.
func (r *appointmentRepository) Create(ctx context.Context, apt *model.Appointment, check repository.SlotCheck) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if check != nil {
			if err := r.checkSlot(ctx, tx, apt, check); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO appointments (` + appointmentColumns + `)
			VALUES (
				:id, :patient_id, :doctor_id, :patient_name, :doctor_name,
				:appointment_date, :appointment_time, :estimated_duration,
				:status, :priority, :reason, :notes, :cancel_reason, :completion_notes,
				:version, :created_at, :updated_at
			)`
		_, err := tx.NamedExecContext(ctx, query, apt)
		return err
	})
	return mapError(err, "appointment")
}

// Update writes apt only if the stored version still matches apt.Version.
func (r *appointmentRepository) Update(ctx context.Context, apt *model.Appointment, check repository.SlotCheck) error {
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if check != nil {
			if err := r.checkSlot(ctx, tx, apt, check); err != nil {
				return err
			}
		}

		query := `
			UPDATE appointments SET
				patient_id = :patient_id,
				doctor_id = :doctor_id,
				patient_name = :patient_name,
				doctor_name = :doctor_name,
				appointment_date = :appointment_date,
				appointment_time = :appointment_time,
				estimated_duration = :estimated_duration,
				status = :status,
				priority = :priority,
				reason = :reason,
				notes = :notes,
				cancel_reason = :cancel_reason,
				completion_notes = :completion_notes,
				updated_at = :updated_at,
				version = version + 1
			WHERE id = :id AND version = :version`
		result, err := tx.NamedExecContext(ctx, query, apt)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.missingOrStale(ctx, tx, apt.ID)
		}
		return nil
	})
	if err != nil {
		return mapError(err, "appointment")
	}
	apt.Version++
	return nil
}

func (r *appointmentRepository) checkSlot(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, check repository.SlotCheck) error {
	key := apt.DoctorID.String() + ":" + apt.AppointmentDate.String()
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return err
	}
	booked, err := r.doctorDay(ctx, tx, apt.DoctorID, apt.AppointmentDate)
	if err != nil {
		return err
	}
	return check(booked)
}

func (r *appointmentRepository) missingOrStale(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var version int
	if err := tx.GetContext(ctx, &version, `SELECT version FROM appointments WHERE id = $1`, id); err != nil {
		return err
	}
	return apperrors.NewConflict("appointment was modified by another request; reload and retry", nil).
		WithDetail("current_version", version)
}

func (r *appointmentRepository) doctorDay(ctx context.Context, q sqlx.QueryerContext, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error) {
	query := `SELECT` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		ORDER BY appointment_time`
	booked := []*model.Appointment{}
	if err := sqlx.SelectContext(ctx, q, &booked, query, doctorID, date); err != nil {
		return nil, mapError(err, "appointment")
	}
	return booked, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
