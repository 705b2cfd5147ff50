package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
	AppointmentStatusNoShow     AppointmentStatus = "no_show"
)

// AppointmentStatuses lists every status in display order.
var AppointmentStatuses = []AppointmentStatus{
	AppointmentStatusScheduled,
	AppointmentStatusConfirmed,
	AppointmentStatusInProgress,
	AppointmentStatusCompleted,
	AppointmentStatusCancelled,
	AppointmentStatusNoShow,
}

func (s AppointmentStatus) Valid() bool {
	for _, known := range AppointmentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type AppointmentPriority string

const (
	PriorityLow    AppointmentPriority = "low"
	PriorityNormal AppointmentPriority = "normal"
	PriorityHigh   AppointmentPriority = "high"
	PriorityUrgent AppointmentPriority = "urgent"
)

var AppointmentPriorities = []AppointmentPriority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// Rank orders priorities from low (0) to urgent (3).
func (p AppointmentPriority) Rank() int {
	for i, known := range AppointmentPriorities {
		if p == known {
			return i
		}
	}
	return -1
}

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 240
	MinReasonLength    = 10

	UnknownPatientName = "Sin paciente"
	UnknownDoctorName  = "Sin médico"
)

type Appointment struct {
	ID                uuid.UUID           `db:"id" json:"id"`
	PatientID         uuid.UUID           `db:"patient_id" json:"patient_id"`
	DoctorID          uuid.UUID           `db:"doctor_id" json:"doctor_id"`
	PatientName       string              `db:"patient_name" json:"patient_name"`
	DoctorName        string              `db:"doctor_name" json:"doctor_name"`
	AppointmentDate   Date                `db:"appointment_date" json:"appointment_date"`
	AppointmentTime   TimeOfDay           `db:"appointment_time" json:"appointment_time"`
	EstimatedDuration int                 `db:"estimated_duration" json:"estimated_duration"`
	Status            AppointmentStatus   `db:"status" json:"status"`
	Priority          AppointmentPriority `db:"priority" json:"priority"`
	Reason            string              `db:"reason" json:"reason"`
	Notes             *string             `db:"notes" json:"notes,omitempty"`
	CancelReason      *string             `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CompletionNotes   *string             `db:"completion_notes" json:"completion_notes,omitempty"`
	Version           int                 `db:"version" json:"version"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// End is the exclusive end of the appointment's interval.
func (a *Appointment) End() TimeOfDay {
	return a.AppointmentTime.Add(a.EstimatedDuration)
}

// StartsAt is the start instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.AppointmentDate.At(a.AppointmentTime, loc)
}

// EndsAt is the end instant in loc.
func (a *Appointment) EndsAt(loc *time.Location) time.Time {
	return a.StartsAt(loc).Add(time.Duration(a.EstimatedDuration) * time.Minute)
}

// Blocking reports whether the appointment occupies its slot. Cancelled and
// no-show appointments free their slot.
func (a *Appointment) Blocking() bool {
	return a.Status != AppointmentStatusCancelled && a.Status != AppointmentStatusNoShow
}

// Overlaps applies the inclusive-exclusive rule startA < endB && startB < endA.
func (a *Appointment) Overlaps(start, end TimeOfDay) bool {
	return a.AppointmentTime < end && start < a.End()
}

// SameSlot reports whether other targets the same doctor, date, time and duration.
func (a *Appointment) SameSlot(other *Appointment) bool {
	return a.DoctorID == other.DoctorID &&
		a.AppointmentDate.Equal(other.AppointmentDate) &&
		a.AppointmentTime == other.AppointmentTime &&
		a.EstimatedDuration == other.EstimatedDuration
}

// Clone returns a deep copy.
func (a *Appointment) Clone() *Appointment {
	c := *a
	c.Notes = cloneString(a.Notes)
	c.CancelReason = cloneString(a.CancelReason)
	c.CompletionNotes = cloneString(a.CompletionNotes)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// CreateAppointmentRequest is the full field set accepted on create and update.
type CreateAppointmentRequest struct {
	PatientID         string  `json:"patient_id" validate:"required,uuid"`
	DoctorID          string  `json:"doctor_id" validate:"required,uuid"`
	AppointmentDate   string  `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	AppointmentTime   string  `json:"appointment_time" validate:"required,datetime=15:04"`
	EstimatedDuration int     `json:"estimated_duration" validate:"required,min=15,max=240"`
	Priority          string  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Reason            string  `json:"reason" validate:"required,min=10,max=1000"`
	Notes             *string `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateAppointmentRequest carries the same fields as create plus the version
// the caller last read. A zero version skips the staleness check.
type UpdateAppointmentRequest struct {
	CreateAppointmentRequest
	Version int `json:"version" validate:"min=0"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type CompleteAppointmentRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// AppointmentFilters are combined conjunctively; zero values match anything.
type AppointmentFilters struct {
	Status    AppointmentStatus
	Priority  AppointmentPriority
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	DateFrom  Date
	DateTo    Date
	Search    string
}

// Page is one page of a filtered, sorted appointment list.
type Page struct {
	Items      []*Appointment `json:"items"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

type StatusShare struct {
	Status     AppointmentStatus `json:"status"`
	Count      int               `json:"count"`
	Percentage int               `json:"percentage"`
}

type AppointmentStats struct {
	Total              int                         `json:"total"`
	Today              int                         `json:"today"`
	CompletionRate     float64                     `json:"completion_rate"`
	CancellationRate   float64                     `json:"cancellation_rate"`
	NoShowRate         float64                     `json:"no_show_rate"`
	StatusDistribution []StatusShare               `json:"status_distribution"`
	ByPriority         map[AppointmentPriority]int `json:"by_priority"`
}

// AvailabilityRule names the rule that rejected a slot.
type AvailabilityRule string

const (
	RulePastDate     AvailabilityRule = "past_date"
	RuleOutsideHours AvailabilityRule = "outside_hours"
	RuleConflict     AvailabilityRule = "conflict"
)

type Availability struct {
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	Rule      AvailabilityRule `json:"rule,omitempty"`
	Conflict  *SlotConflict    `json:"conflict,omitempty"`
}

type SlotConflict struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Start         TimeOfDay `json:"start"`
	End           TimeOfDay `json:"end"`
}

type TimeSlot struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}
