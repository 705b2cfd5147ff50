package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/service/audit"
	"github.com/jwalitptl/clinic-api/internal/service/availability"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Directory resolves the people an appointment references.
type Directory interface {
	Resolve(ctx context.Context, patientID, doctorID uuid.UUID) (model.Participants, error)
}

// EventEmitter records domain events for asynchronous delivery.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

type Config struct {
	Location        *time.Location
	Now             func() time.Time
	DefaultPageSize int
	MaxPageSize     int
}

type Service struct {
	repo      repository.AppointmentRepository
	checker   *availability.Checker
	directory Directory
	events    EventEmitter
	auditor   *audit.Service
	validator validator.Validator
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
	pageSize  int
	maxPage   int
}

func NewService(
	repo repository.AppointmentRepository,
	checker *availability.Checker,
	directory Directory,
	events EventEmitter,
	auditor *audit.Service,
	metrics *metrics.Metrics,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}
	if auditor == nil {
		auditor = audit.NewService(nil)
	}
	return &Service{
		repo:      repo,
		checker:   checker,
		directory: directory,
		events:    events,
		auditor:   auditor,
		validator: validator.New(),
		metrics:   metrics,
		loc:       cfg.Location,
		now:       cfg.Now,
		pageSize:  cfg.DefaultPageSize,
		maxPage:   cfg.MaxPageSize,
	}
}

// Now is the current instant in the clinic's location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) CreateAppointment(ctx context.Context, req *model.CreateAppointmentRequest) (apt *model.Appointment, err error) {
	defer func() { s.record("create", err) }()

	fields, err := s.parseRequest(req)
	if err != nil {
		return nil, err
	}

	slot := fields.slot(uuid.Nil)
	if res, decided := s.checker.Precheck(slot); decided {
		return nil, s.unavailable(res)
	}

	people, err := s.directory.Resolve(ctx, fields.PatientID, fields.DoctorID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	apt = &model.Appointment{
		ID:                uuid.New(),
		Status:            model.AppointmentStatusScheduled,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		PatientName:       people.PatientName(),
		DoctorName:        people.DoctorName(),
		PatientID:         fields.PatientID,
		DoctorID:          fields.DoctorID,
		AppointmentDate:   fields.AppointmentDate,
		AppointmentTime:   fields.AppointmentTime,
		EstimatedDuration: fields.EstimatedDuration,
		Priority:          fields.Priority,
		Reason:            fields.Reason,
		Notes:             fields.Notes,
	}

	if err := s.repo.Create(ctx, apt, s.slotCheck(slot)); err != nil {
		return nil, s.storageError(err)
	}

	s.auditor.Log(ctx, model.AuditActionCreate, model.AuditEntityAppointment, apt.ID, &audit.LogOptions{
		Changes: apt,
	})
	s.emit(ctx, model.EventAppointmentCreated, apt, "")
	return apt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.storageError(err)
	}

	s.auditor.Log(ctx, model.AuditActionRead, model.AuditEntityAppointment, id, nil)
	return apt, nil
}

// UpdateAppointment replaces the editable fields of a non-terminal
// appointment. Status, id and creation time are never changed here.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, req *model.UpdateAppointmentRequest) (apt *model.Appointment, err error) {
	defer func() { s.record("update", err) }()

	fields, err := s.parseRequest(&req.CreateAppointmentRequest)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.storageError(err)
	}
	if err := current.CheckTransition(model.OpEdit, s.Now()); err != nil {
		return nil, err
	}
	if req.Version != 0 && req.Version != current.Version {
		return nil, staleVersion(current.Version)
	}

	next := current.Clone()
	next.PatientID = fields.PatientID
	next.DoctorID = fields.DoctorID
	next.AppointmentDate = fields.AppointmentDate
	next.AppointmentTime = fields.AppointmentTime
	next.EstimatedDuration = fields.EstimatedDuration
	next.Priority = fields.Priority
	next.Reason = fields.Reason
	next.Notes = fields.Notes

	var check repository.SlotCheck
	if !next.SameSlot(current) {
		slot := fields.slot(id)
		if res, decided := s.checker.Precheck(slot); decided {
			return nil, s.unavailable(res)
		}
		check = s.slotCheck(slot)
	}

	if next.PatientID != current.PatientID || next.DoctorID != current.DoctorID {
		people, err := s.directory.Resolve(ctx, next.PatientID, next.DoctorID)
		if err != nil {
			return nil, err
		}
		next.PatientName = people.PatientName()
		next.DoctorName = people.DoctorName()
	}

	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next, check); err != nil {
		return nil, s.storageError(err)
	}

	s.auditor.Log(ctx, model.AuditActionUpdate, model.AuditEntityAppointment, id, &audit.LogOptions{
		Changes: audit.Diff(current, next, editableFields),
	})
	s.emit(ctx, model.EventAppointmentUpdated, next, current.Status)
	return next, nil
}

// editableFields are the json names UpdateAppointment may change.
var editableFields = []string{
	"patient_id", "doctor_id", "appointment_date", "appointment_time",
	"estimated_duration", "priority", "reason", "notes",
}

func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.OpConfirm, "", model.EventAppointmentConfirmed)
}

// StartAppointment checks a confirmed patient in.
func (s *Service) StartAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, id, model.OpStart, "", model.EventAppointmentStarted)
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.OpCancel, reason, model.EventAppointmentCancelled)
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, notes string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.OpComplete, notes, model.EventAppointmentCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, notes string) (*model.Appointment, error) {
	return s.transition(ctx, id, model.OpMarkNoShow, notes, model.EventAppointmentNoShow)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, op model.Operation, note, eventType string) (apt *model.Appointment, err error) {
	defer func() { s.record(string(op), err) }()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.storageError(err)
	}

	next := current.Clone()
	if err := next.Transition(op, strings.TrimSpace(note), s.Now()); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()

	// The status change frees or keeps the slot, so no availability check.
	if err := s.repo.Update(ctx, next, nil); err != nil {
		return nil, s.storageError(err)
	}

	s.auditor.Log(ctx, model.AuditActionUpdate, model.AuditEntityAppointment, id, &audit.LogOptions{
		Changes: map[string]interface{}{
			"status": next.Status,
		},
		Metadata: map[string]interface{}{
			"operation":       op,
			"previous_status": current.Status,
		},
	})
	s.emit(ctx, eventType, next, current.Status)
	return next, nil
}

// ListQuery is the input to ListAppointments.
type ListQuery struct {
	Filters    model.AppointmentFilters
	Sort       model.SortOrder
	Pagination model.Pagination
}

func (s *Service) ListAppointments(ctx context.Context, q ListQuery) (*model.Page, error) {
	if err := ValidateSort(q.Sort); err != nil {
		return nil, err
	}
	items, err := s.repo.List(ctx, &q.Filters)
	if err != nil {
		return nil, s.storageError(err)
	}
	return Query(items, &q.Filters, q.Sort, q.Pagination.Normalize(s.pageSize, s.maxPage)), nil
}

func (s *Service) GetAppointmentStats(ctx context.Context, filters model.AppointmentFilters) (*model.AppointmentStats, error) {
	items, err := s.repo.List(ctx, &filters)
	if err != nil {
		return nil, s.storageError(err)
	}
	return ComputeStats(Filter(items, &filters), model.DateOf(s.Now())), nil
}

// CheckAvailability is advisory: the slot is checked again when the
// appointment is committed.
func (s *Service) CheckAvailability(ctx context.Context, req availability.Request) (*model.Availability, error) {
	res, err := s.checker.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		result := "available"
		if !res.Available {
			result = string(res.Rule)
		}
		s.metrics.AvailabilityChecks.WithLabelValues(result).Inc()
	}
	return res, nil
}

func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date model.Date, duration int) ([]model.TimeSlot, error) {
	return s.checker.Slots(ctx, doctorID, date, duration)
}

// slotCheck re-evaluates slot against the bookings the store holds at commit.
func (s *Service) slotCheck(slot availability.Request) repository.SlotCheck {
	return func(booked []*model.Appointment) error {
		if res := s.checker.Evaluate(slot, booked); !res.Available {
			if s.metrics != nil && res.Rule == model.RuleConflict {
				s.metrics.CommitConflicts.Inc()
			}
			return s.unavailable(res)
		}
		return nil
	}
}

func (s *Service) unavailable(res model.Availability) *apperrors.AppError {
	err := apperrors.NewConflict(res.Reason, nil).WithDetail("rule", res.Rule)
	if res.Conflict != nil {
		err.WithDetail("conflicting_appointment_id", res.Conflict.AppointmentID.String()).
			WithDetail("conflict_start", res.Conflict.Start.String()).
			WithDetail("conflict_end", res.Conflict.End.String())
	}
	return err
}

func staleVersion(current int) *apperrors.AppError {
	return apperrors.NewConflict("appointment was modified by another request; reload and retry", nil).
		WithDetail("current_version", current)
}

// storageError keeps typed errors and wraps anything else as a transport fault.
func (s *Service) storageError(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewTransport("appointment storage unavailable", err)
}

func (s *Service) emit(ctx context.Context, eventType string, apt *model.Appointment, previous model.AppointmentStatus) {
	if s.events == nil {
		return
	}
	payload := &model.AppointmentEvent{
		Type:        eventType,
		Appointment: apt,
		Previous:    previous,
		Refresh:     []string{model.RefreshList, model.RefreshStats},
		OccurredAt:  apt.UpdatedAt,
	}
	if err := s.events.Emit(ctx, eventType, payload); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", apt.ID.String()).
			Msg("Failed to emit appointment event")
	}
}

func (s *Service) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(apperrors.KindOf(err))
	}
	s.metrics.AppointmentOperations.WithLabelValues(operation, result).Inc()
}

// appointmentFields is a validated create or update request.
type appointmentFields struct {
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	AppointmentDate   model.Date
	AppointmentTime   model.TimeOfDay
	EstimatedDuration int
	Priority          model.AppointmentPriority
	Reason            string
	Notes             *string
}

func (f *appointmentFields) slot(exclude uuid.UUID) availability.Request {
	return availability.Request{
		DoctorID:  f.DoctorID,
		Date:      f.AppointmentDate,
		Time:      f.AppointmentTime,
		Duration:  f.EstimatedDuration,
		ExcludeID: exclude,
	}
}

// parseRequest trims free text, validates every field and converts the
// request into typed values.
func (s *Service) parseRequest(req *model.CreateAppointmentRequest) (*appointmentFields, error) {
	if req == nil {
		return nil, apperrors.NewBadRequest("request body is required", nil)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	req.Priority = strings.TrimSpace(req.Priority)
	if req.Notes != nil {
		trimmed := strings.TrimSpace(*req.Notes)
		if trimmed == "" {
			req.Notes = nil
		} else {
			req.Notes = &trimmed
		}
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	f := &appointmentFields{
		EstimatedDuration: req.EstimatedDuration,
		Priority:          model.AppointmentPriority(req.Priority),
		Reason:            req.Reason,
		Notes:             req.Notes,
	}
	if f.Priority == "" {
		f.Priority = model.PriorityNormal
	}

	var err error
	if f.PatientID, err = uuid.Parse(req.PatientID); err != nil {
		return nil, apperrors.NewValidation(apperrors.FieldError{Field: "patient_id", Message: "must be a valid UUID"})
	}
	if f.DoctorID, err = uuid.Parse(req.DoctorID); err != nil {
		return nil, apperrors.NewValidation(apperrors.FieldError{Field: "doctor_id", Message: "must be a valid UUID"})
	}
	if f.AppointmentDate, err = model.ParseDate(req.AppointmentDate); err != nil {
		return nil, apperrors.NewValidation(apperrors.FieldError{Field: "appointment_date", Message: err.Error()})
	}
	if f.AppointmentTime, err = model.ParseTimeOfDay(req.AppointmentTime); err != nil {
		return nil, apperrors.NewValidation(apperrors.FieldError{Field: "appointment_time", Message: err.Error()})
	}
	return f, nil
}
