package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type fakeLister struct {
	booked []*model.Appointment
	err    error
	calls  int
}

func (f *fakeLister) ListForDoctorDay(_ context.Context, doctorID uuid.UUID, date model.Date) ([]*model.Appointment, error) {
	f.calls++
	return f.booked, f.err
}

var (
	doctor = uuid.MustParse("a2d4e6f8-1b3c-4d5e-8f90-123456789abc")
	day    = model.NewDate(2025, time.March, 10)
	now    = func() time.Time { return time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC) }
)

func booking(hour, minute, duration int, status model.AppointmentStatus) *model.Appointment {
	return &model.Appointment{
		ID:                uuid.New(),
		DoctorID:          doctor,
		AppointmentDate:   day,
		AppointmentTime:   model.NewTimeOfDay(hour, minute),
		EstimatedDuration: duration,
		Status:            status,
	}
}

func newChecker(booked ...*model.Appointment) (*Checker, *fakeLister) {
	l := &fakeLister{booked: booked}
	return NewChecker(l, Config{Location: time.UTC, Now: now}), l
}

func request(hour, minute, duration int) Request {
	return Request{DoctorID: doctor, Date: day, Time: model.NewTimeOfDay(hour, minute), Duration: duration}
}

func TestCheckPastDate(t *testing.T) {
	c, l := newChecker(booking(9, 0, 30, model.AppointmentStatusScheduled))

	req := request(9, 0, 30)
	req.Date = day.AddDays(-1)
	res, err := c.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, model.RulePastDate, res.Rule)
	assert.Contains(t, res.Reason, "past")
	assert.Zero(t, l.calls, "calendar rules must not hit storage")
}

func TestCheckTodayIsNotPast(t *testing.T) {
	c, _ := newChecker()
	res, err := c.Check(context.Background(), request(8, 0, 30))
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestCheckOutsideHours(t *testing.T) {
	c, _ := newChecker()
	cases := map[string]Request{
		"before open":      request(7, 30, 30),
		"runs past close":  request(17, 30, 60),
		"not slot aligned": request(9, 10, 30),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := c.Check(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, res.Available)
			assert.Equal(t, model.RuleOutsideHours, res.Rule)
			assert.Contains(t, res.Reason, "08:00-18:00")
		})
	}

	res, err := c.Check(context.Background(), request(17, 30, 30))
	require.NoError(t, err)
	assert.True(t, res.Available, "ending exactly at close is allowed")
}

func TestMisalignedOverlapReportsConflict(t *testing.T) {
	existing := booking(9, 0, 30, model.AppointmentStatusScheduled)
	c, _ := newChecker(existing)

	res, err := c.Check(context.Background(), request(9, 15, 30))
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, model.RuleConflict, res.Rule)
	assert.Equal(t, "doctor already has an appointment from 09:00 to 09:30", res.Reason)

	eval := c.Evaluate(request(10, 15, 30), []*model.Appointment{existing})
	assert.Equal(t, model.RuleOutsideHours, eval.Rule)

	_, decided := c.Precheck(request(9, 15, 30))
	assert.False(t, decided, "alignment needs the bookings first")
}

func TestCheckConflict(t *testing.T) {
	existing := booking(9, 0, 30, model.AppointmentStatusScheduled)
	c, _ := newChecker(existing)

	res, err := c.Check(context.Background(), request(9, 30, 30))
	require.NoError(t, err)
	assert.True(t, res.Available, "adjacent intervals do not overlap")

	res, err = c.Check(context.Background(), request(8, 30, 60))
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, model.RuleConflict, res.Rule)
	assert.Equal(t, "doctor already has an appointment from 09:00 to 09:30", res.Reason)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, existing.ID, res.Conflict.AppointmentID)
}

func TestEvaluateIgnoresFreedSlotsAndSelf(t *testing.T) {
	cancelled := booking(9, 0, 30, model.AppointmentStatusCancelled)
	noShow := booking(10, 0, 30, model.AppointmentStatusNoShow)
	self := booking(11, 0, 30, model.AppointmentStatusConfirmed)
	c, _ := newChecker()

	booked := []*model.Appointment{cancelled, noShow, self}
	assert.True(t, c.Evaluate(request(9, 0, 30), booked).Available)
	assert.True(t, c.Evaluate(request(10, 0, 30), booked).Available)
	assert.False(t, c.Evaluate(request(11, 0, 30), booked).Available)

	req := request(11, 0, 60)
	req.ExcludeID = self.ID
	assert.True(t, c.Evaluate(req, booked).Available)
}

func TestEvaluateReportsEarliestConflict(t *testing.T) {
	late := booking(10, 0, 30, model.AppointmentStatusScheduled)
	early := booking(9, 0, 30, model.AppointmentStatusScheduled)
	c, _ := newChecker()

	res := c.Evaluate(request(9, 0, 90), []*model.Appointment{late, early})
	require.NotNil(t, res.Conflict)
	assert.Equal(t, early.ID, res.Conflict.AppointmentID)
}

func TestCheckWrapsStorageFailure(t *testing.T) {
	c, l := newChecker()
	l.err = errors.New("connection reset")

	_, err := c.Check(context.Background(), request(9, 0, 30))
	assert.True(t, apperrors.IsTransport(err))
}

func TestSlots(t *testing.T) {
	c, _ := newChecker(booking(8, 0, 60, model.AppointmentStatusConfirmed))

	slots, err := c.Slots(context.Background(), doctor, day, 30)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, model.NewTimeOfDay(9, 0), slots[0].Start)
	assert.Equal(t, model.NewTimeOfDay(17, 30), slots[len(slots)-1].Start)
	assert.Len(t, slots, 18)

	past, err := c.Slots(context.Background(), doctor, day.AddDays(-1), 30)
	require.NoError(t, err)
	assert.Empty(t, past)
}
