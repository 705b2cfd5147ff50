package model

import (
	"time"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Operation is a lifecycle action requested on an appointment.
type Operation string

const (
	OpConfirm    Operation = "confirm"
	OpStart      Operation = "start"
	OpCancel     Operation = "cancel"
	OpComplete   Operation = "complete"
	OpMarkNoShow Operation = "mark_no_show"
	OpEdit       Operation = "edit"
)

// Operations lists every operation in the order UIs should render them.
var Operations = []Operation{OpEdit, OpConfirm, OpStart, OpComplete, OpCancel, OpMarkNoShow}

type transition struct {
	from []AppointmentStatus
	// to is empty for operations that keep the current status.
	to    AppointmentStatus
	guard func(a *Appointment, now time.Time) bool
}

// transitions is the only place lifecycle rules are defined.
var transitions = map[Operation]transition{
	OpConfirm: {
		from: []AppointmentStatus{AppointmentStatusScheduled},
		to:   AppointmentStatusConfirmed,
	},
	OpStart: {
		from: []AppointmentStatus{AppointmentStatusConfirmed},
		to:   AppointmentStatusInProgress,
	},
	OpCancel: {
		from: []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusConfirmed},
		to:   AppointmentStatusCancelled,
	},
	OpComplete: {
		from: []AppointmentStatus{AppointmentStatusConfirmed, AppointmentStatusInProgress},
		to:   AppointmentStatusCompleted,
	},
	OpMarkNoShow: {
		from:  []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusConfirmed},
		to:    AppointmentStatusNoShow,
		guard: startHasPassed,
	},
	OpEdit: {
		from: []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusInProgress},
	},
}

func startHasPassed(a *Appointment, now time.Time) bool {
	return !now.Before(a.StartsAt(now.Location()))
}

// IsTerminal reports whether no operation is permitted from s.
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled || s == AppointmentStatusNoShow
}

// Target returns the status op leads to from s, ignoring time guards.
func (s AppointmentStatus) Target(op Operation) (AppointmentStatus, bool) {
	t, ok := transitions[op]
	if !ok || !containsStatus(t.from, s) {
		return "", false
	}
	if t.to == "" {
		return s, true
	}
	return t.to, true
}

// Permits reports whether op may be applied to a at now. now must be in the
// clinic's location; it is used for time-based guards.
func (a *Appointment) Permits(op Operation, now time.Time) bool {
	t, ok := transitions[op]
	if !ok || !containsStatus(t.from, a.Status) {
		return false
	}
	return t.guard == nil || t.guard(a, now)
}

// CheckTransition returns an InvalidTransition error when op is not permitted.
func (a *Appointment) CheckTransition(op Operation, now time.Time) error {
	if a.Permits(op, now) {
		return nil
	}
	err := apperrors.NewInvalidTransition(string(a.Status), string(op))
	if _, ok := a.Status.Target(op); ok {
		// Status allows the operation, so a time guard failed.
		err.Message = "cannot mark as no-show before the appointment time has passed"
		err.WithDetail("guard", "appointment_time_passed")
	}
	return err
}

// Transition checks op and, when permitted, moves a to the target status and
// attaches the free-text context the operation carries. a is untouched on error.
func (a *Appointment) Transition(op Operation, note string, now time.Time) error {
	if err := a.CheckTransition(op, now); err != nil {
		return err
	}
	next, _ := a.Status.Target(op)
	switch op {
	case OpCancel:
		if note != "" {
			a.CancelReason = &note
		}
	case OpComplete, OpMarkNoShow:
		if note != "" {
			a.CompletionNotes = &note
		}
	}
	a.Status = next
	return nil
}

// AllowedOperations lists the operations currently permitted on a.
func (a *Appointment) AllowedOperations(now time.Time) []Operation {
	ops := make([]Operation, 0, len(Operations))
	for _, op := range Operations {
		if a.Permits(op, now) {
			ops = append(ops, op)
		}
	}
	return ops
}

func containsStatus(list []AppointmentStatus, s AppointmentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
