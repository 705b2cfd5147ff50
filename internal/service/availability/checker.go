package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// BookingLister is the read the checker needs from storage.
type BookingLister interface {
	ListForDoctorDay(ctx context.Context, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error)
}

// Hours describes when a clinic accepts appointments.
type Hours struct {
	Open        model.TimeOfDay
	Close       model.TimeOfDay
	SlotMinutes int
}

// DefaultHours is 08:00-18:00 in 30-minute slots.
var DefaultHours = Hours{
	Open:        model.NewTimeOfDay(8, 0),
	Close:       model.NewTimeOfDay(18, 0),
	SlotMinutes: 30,
}

type Config struct {
	Hours    Hours
	Location *time.Location
	Now      func() time.Time
}

// Request is a proposed booking. ExcludeID names the appointment being edited
// so it does not conflict with itself.
type Request struct {
	DoctorID  uuid.UUID
	Date      model.Date
	Time      model.TimeOfDay
	Duration  int
	ExcludeID uuid.UUID
}

func (r Request) End() model.TimeOfDay {
	return r.Time.Add(r.Duration)
}

type Checker struct {
	repo  BookingLister
	hours Hours
	loc   *time.Location
	now   func() time.Time
}

func NewChecker(repo BookingLister, cfg Config) *Checker {
	if cfg.Hours.SlotMinutes <= 0 {
		cfg.Hours = DefaultHours
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Checker{
		repo:  repo,
		hours: cfg.Hours,
		loc:   cfg.Location,
		now:   cfg.Now,
	}
}

func (c *Checker) Hours() Hours { return c.hours }

// Today is the current date in the clinic's location.
func (c *Checker) Today() model.Date {
	return model.DateOf(c.now().In(c.loc))
}

// Check reads the doctor's bookings for the day and evaluates req against
// them. It takes no locks; the result may be stale by the time it is used.
func (c *Checker) Check(ctx context.Context, req Request) (*model.Availability, error) {
	if res, decided := c.Precheck(req); decided {
		return &res, nil
	}
	booked, err := c.repo.ListForDoctorDay(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, wrapStorage(err)
	}
	res := c.Evaluate(req, booked)
	return &res, nil
}

// Evaluate applies every rule in order against an already loaded set of
// bookings: past date, clinic hours, then overlap. A start off the slot grid
// is reported after overlap, so a misaligned request that collides with a
// booking names the booking.
func (c *Checker) Evaluate(req Request, booked []*model.Appointment) model.Availability {
	if res, decided := c.Precheck(req); decided {
		return res
	}
	if conflict := firstConflict(req, booked); conflict != nil {
		return model.Availability{
			Rule: model.RuleConflict,
			Reason: fmt.Sprintf("doctor already has an appointment from %s to %s",
				conflict.AppointmentTime, conflict.End()),
			Conflict: &model.SlotConflict{
				AppointmentID: conflict.ID,
				Start:         conflict.AppointmentTime,
				End:           conflict.End(),
			},
		}
	}
	if !c.aligned(req.Time) {
		return c.outsideHours(req)
	}
	return model.Availability{Available: true}
}

// Precheck applies the rules that need neither bookings nor the slot grid:
// past date and the open/close bounds. decided is true when one rejected req.
func (c *Checker) Precheck(req Request) (res model.Availability, decided bool) {
	if today := c.Today(); req.Date.Before(today) {
		return model.Availability{
			Rule:   model.RulePastDate,
			Reason: fmt.Sprintf("cannot schedule on %s: the date is in the past", req.Date),
		}, true
	}
	if !c.withinHours(req.Time, req.End()) {
		return c.outsideHours(req), true
	}
	return model.Availability{}, false
}

func (c *Checker) outsideHours(req Request) model.Availability {
	return model.Availability{
		Rule: model.RuleOutsideHours,
		Reason: fmt.Sprintf("%s-%s is outside clinic hours %s-%s in %d-minute slots",
			req.Time, req.End(), c.hours.Open, c.hours.Close, c.hours.SlotMinutes),
	}
}

func (c *Checker) withinHours(start, end model.TimeOfDay) bool {
	return start >= c.hours.Open && end <= c.hours.Close && end > start
}

func (c *Checker) aligned(start model.TimeOfDay) bool {
	return int(start-c.hours.Open)%c.hours.SlotMinutes == 0
}

// firstConflict returns the earliest blocking booking overlapping req.
func firstConflict(req Request, booked []*model.Appointment) *model.Appointment {
	var found *model.Appointment
	for _, b := range booked {
		if !b.Blocking() || b.ID == req.ExcludeID {
			continue
		}
		if b.DoctorID != req.DoctorID || !b.AppointmentDate.Equal(req.Date) {
			continue
		}
		if !b.Overlaps(req.Time, req.End()) {
			continue
		}
		if found == nil || b.AppointmentTime < found.AppointmentTime {
			found = b
		}
	}
	return found
}

// Slots lists every aligned start time on date where a booking of duration
// minutes would be accepted.
func (c *Checker) Slots(ctx context.Context, doctorID uuid.UUID, date model.Date, duration int) ([]model.TimeSlot, error) {
	slots := []model.TimeSlot{}
	if date.Before(c.Today()) || duration <= 0 {
		return slots, nil
	}
	booked, err := c.repo.ListForDoctorDay(ctx, doctorID, date)
	if err != nil {
		return nil, wrapStorage(err)
	}
	sort.Slice(booked, func(i, j int) bool { return booked[i].AppointmentTime < booked[j].AppointmentTime })

	for start := c.hours.Open; start.Add(duration) <= c.hours.Close; start = start.Add(c.hours.SlotMinutes) {
		req := Request{DoctorID: doctorID, Date: date, Time: start, Duration: duration}
		if firstConflict(req, booked) == nil {
			slots = append(slots, model.TimeSlot{Start: start, End: req.End()})
		}
	}
	return slots, nil
}

func wrapStorage(err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewTransport("failed to load bookings", err)
}
