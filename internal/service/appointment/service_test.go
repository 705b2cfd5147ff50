package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/availability"
	"github.com/jwalitptl/clinic-api/internal/service/directory"
	"github.com/jwalitptl/clinic-api/internal/service/event"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

var (
	testPatient = uuid.MustParse("6f1c2a8e-3b7d-4c55-9e61-0a9f4e2b7c11")
	testDoctor  = uuid.MustParse("a2d4e6f8-1b3c-4d5e-8f90-123456789abc")
)

type harness struct {
	svc    *Service
	repo   *memory.AppointmentRepository
	outbox *memory.OutboxRepository
	clock  *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithHours(t, availability.DefaultHours)
}

func newHarnessWithHours(t *testing.T, hours availability.Hours) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)}

	repo := memory.NewAppointmentRepository()
	outbox := memory.NewOutboxRepository()
	people := memory.NewDirectoryRepository()
	people.AddPatient(model.Person{ID: testPatient, Name: "Ana Torres"})
	people.AddDoctor(model.Person{ID: testDoctor, Name: "Dr. Luis Vega"})

	checker := availability.NewChecker(repo, availability.Config{Hours: hours, Location: time.UTC, Now: clk.Now})
	svc := NewService(
		repo,
		checker,
		directory.NewService(people, directory.Config{StrictRefs: true}),
		event.NewEventService(outbox),
		nil,
		metrics.New("test"),
		Config{Location: time.UTC, Now: clk.Now},
	)
	return &harness{svc: svc, repo: repo, outbox: outbox, clock: clk}
}

func createRequest(date, at string, duration int) *model.CreateAppointmentRequest {
	return &model.CreateAppointmentRequest{
		PatientID:         testPatient.String(),
		DoctorID:          testDoctor.String(),
		AppointmentDate:   date,
		AppointmentTime:   at,
		EstimatedDuration: duration,
		Reason:            "  Control de presión arterial  ",
	}
}

func TestCreateAppointment(t *testing.T) {
	h := newHarness(t)

	apt, err := h.svc.CreateAppointment(context.Background(), createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, apt.ID)
	assert.Equal(t, model.AppointmentStatusScheduled, apt.Status)
	assert.Equal(t, model.PriorityNormal, apt.Priority)
	assert.Equal(t, "Control de presión arterial", apt.Reason)
	assert.Equal(t, "Ana Torres", apt.PatientName)
	assert.Equal(t, "Dr. Luis Vega", apt.DoctorName)
	assert.Equal(t, 1, apt.Version)
	assert.Equal(t, h.clock.Now(), apt.CreatedAt)

	got, err := h.svc.GetAppointment(context.Background(), apt.ID)
	require.NoError(t, err)
	assert.Equal(t, apt, got)

	events := h.outbox.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAppointmentCreated, events[0].EventType)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, []interface{}{"list", "stats"}, payload["refresh"])
}

func TestCreateOverlappingIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:30", 30))
	require.NoError(t, err, "back-to-back slots do not overlap")

	// 09:15 is off the 30-minute grid, but the overlap is what gets reported.
	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:15", 30))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	overlap, _ := apperrors.As(err)
	assert.Equal(t, model.RuleConflict, overlap.Details["rule"])
	assert.Equal(t, "doctor already has an appointment from 09:00 to 09:30", overlap.Message)

	// With nothing booked around it, a misaligned start is an hours violation.
	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "11:15", 30))
	require.Error(t, err)
	misaligned, _ := apperrors.As(err)
	assert.Equal(t, model.RuleOutsideHours, misaligned.Details["rule"])

	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "08:30", 60))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, model.RuleConflict, appErr.Details["rule"])
	assert.Equal(t, "09:00", appErr.Details["conflict_start"])
	assert.Contains(t, appErr.Message, "09:00 to 09:30")
}

func TestCreateOverlapOnQuarterHourGrid(t *testing.T) {
	hours := availability.DefaultHours
	hours.SlotMinutes = 15
	h := newHarnessWithHours(t, hours)
	ctx := context.Background()

	_, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:15", 30))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, model.RuleConflict, appErr.Details["rule"])
	assert.Equal(t, "doctor already has an appointment from 09:00 to 09:30", appErr.Message)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	req := createRequest("2025-03-10", "09:00", 10)
	req.Reason = "   corto   "
	_, err := h.svc.CreateAppointment(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	appErr, _ := apperrors.As(err)
	fields := map[string]bool{}
	for _, f := range appErr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["estimated_duration"])
	assert.True(t, fields["reason"])
	assert.Empty(t, h.outbox.Events(), "nothing is written on validation failure")
}

func TestCreateInPastIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateAppointment(context.Background(), createRequest("2025-03-08", "09:00", 30))
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Equal(t, model.RulePastDate, appErr.Details["rule"])
}

func TestCreateUnknownDoctor(t *testing.T) {
	h := newHarness(t)

	req := createRequest("2025-03-10", "09:00", 30)
	req.DoctorID = uuid.New().String()
	_, err := h.svc.CreateAppointment(context.Background(), req)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCancelThenConfirmFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelAppointment(ctx, apt.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "patient request", *cancelled.CancelReason)
	assert.Equal(t, 2, cancelled.Version)

	_, err = h.svc.ConfirmAppointment(ctx, apt.ID)
	assert.True(t, apperrors.IsInvalidTransition(err))

	stored, err := h.svc.GetAppointment(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
}

func TestCancelledSlotCanBeRebooked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)
	_, err = h.svc.CancelAppointment(ctx, apt.ID, "")
	require.NoError(t, err)

	_, err = h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	assert.NoError(t, err)
}

func TestCompleteFromScheduledFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	_, err = h.svc.CompleteAppointment(ctx, apt.ID, "seen")
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	_, err = h.svc.ConfirmAppointment(ctx, apt.ID)
	require.NoError(t, err)
	_, err = h.svc.StartAppointment(ctx, apt.ID)
	require.NoError(t, err)
	done, err := h.svc.CompleteAppointment(ctx, apt.ID, "  Presión normal  ")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, done.Status)
	assert.Equal(t, "Presión normal", *done.CompletionNotes)
	assert.Equal(t, 4, done.Version)

	var types []string
	for _, e := range h.outbox.Events() {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{
		model.EventAppointmentCreated,
		model.EventAppointmentConfirmed,
		model.EventAppointmentStarted,
		model.EventAppointmentCompleted,
	}, types)
}

func TestMarkNoShowWaitsForStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)

	_, err = h.svc.MarkNoShow(ctx, apt.ID, "")
	assert.True(t, apperrors.IsInvalidTransition(err))

	h.clock.Set(time.Date(2025, time.March, 10, 9, 45, 0, 0, time.UTC))
	noShow, err := h.svc.MarkNoShow(ctx, apt.ID, "no llegó")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusNoShow, noShow.Status)

	_, err = h.svc.ConfirmAppointment(ctx, apt.ID)
	assert.True(t, apperrors.IsInvalidTransition(err), "no-show is terminal")
}

func TestUpdateAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "09:00", 30))
	require.NoError(t, err)
	other, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", "11:00", 30))
	require.NoError(t, err)

	// Extending into its own slot is fine.
	update := &model.UpdateAppointmentRequest{CreateAppointmentRequest: *createRequest("2025-03-10", "09:00", 60), Version: 1}
	updated, err := h.svc.UpdateAppointment(ctx, apt.ID, update)
	require.NoError(t, err)
	assert.Equal(t, 60, updated.EstimatedDuration)
	assert.Equal(t, apt.CreatedAt, updated.CreatedAt)
	assert.Equal(t, model.AppointmentStatusScheduled, updated.Status)
	assert.Equal(t, 2, updated.Version)

	// Moving onto another booking conflicts.
	update = &model.UpdateAppointmentRequest{CreateAppointmentRequest: *createRequest("2025-03-10", "10:30", 60)}
	_, err = h.svc.UpdateAppointment(ctx, apt.ID, update)
	assert.True(t, apperrors.IsConflict(err))

	// Stale version conflicts.
	update = &model.UpdateAppointmentRequest{CreateAppointmentRequest: *createRequest("2025-03-10", "09:00", 30), Version: 1}
	_, err = h.svc.UpdateAppointment(ctx, apt.ID, update)
	assert.True(t, apperrors.IsConflict(err))

	// Terminal appointments cannot be edited.
	_, err = h.svc.CancelAppointment(ctx, other.ID, "")
	require.NoError(t, err)
	update = &model.UpdateAppointmentRequest{CreateAppointmentRequest: *createRequest("2025-03-10", "11:00", 30)}
	_, err = h.svc.UpdateAppointment(ctx, other.ID, update)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestUpdateMissing(t *testing.T) {
	h := newHarness(t)
	update := &model.UpdateAppointmentRequest{CreateAppointmentRequest: *createRequest("2025-03-10", "09:00", 30)}
	_, err := h.svc.UpdateAppointment(context.Background(), uuid.New(), update)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConcurrentCreatesForSameSlot(t *testing.T) {
	h := newHarness(t)
	const workers = 20

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.CreateAppointment(context.Background(), createRequest("2025-03-10", "10:00", 30))
			switch {
			case err == nil:
				wins.Add(1)
			case apperrors.IsConflict(err):
				conflicts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func TestListAndStatsReadAfterWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var ids []uuid.UUID
	for _, at := range []string{"08:00", "09:00", "10:00", "11:00"} {
		apt, err := h.svc.CreateAppointment(ctx, createRequest("2025-03-10", at, 30))
		require.NoError(t, err)
		ids = append(ids, apt.ID)
	}
	for _, id := range ids[:3] {
		_, err := h.svc.ConfirmAppointment(ctx, id)
		require.NoError(t, err)
		_, err = h.svc.CompleteAppointment(ctx, id, "")
		require.NoError(t, err)
	}

	page, err := h.svc.ListAppointments(ctx, ListQuery{
		Filters:    model.AppointmentFilters{Status: model.AppointmentStatusCompleted},
		Pagination: model.Pagination{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Len(t, page.Items, 3)

	page, err = h.svc.ListAppointments(ctx, ListQuery{Pagination: model.Pagination{Page: 0, PageSize: 500}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, MaxPageSize, page.PageSize)

	stats, err := h.svc.GetAppointmentStats(ctx, model.AppointmentFilters{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 0, stats.Today)
	assert.Equal(t, 75.0, stats.CompletionRate)

	h.clock.Set(time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC))
	stats, err = h.svc.GetAppointmentStats(ctx, model.AppointmentFilters{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Today)
}

func TestListRejectsUnknownSort(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ListAppointments(context.Background(), ListQuery{Sort: model.SortOrder{Field: "nope"}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestCheckAvailabilityYesterday(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.CheckAvailability(context.Background(), availability.Request{
		DoctorID: uuid.New(),
		Date:     model.NewDate(2025, time.March, 8),
		Time:     model.NewTimeOfDay(3, 17),
		Duration: 15,
	})
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, model.RulePastDate, res.Rule)
}

type failingEmitter struct{ calls int }

func (f *failingEmitter) Emit(context.Context, string, interface{}) error {
	f.calls++
	return errors.New("outbox unavailable")
}

func TestEmitFailureDoesNotFailCommand(t *testing.T) {
	h := newHarness(t)
	emitter := &failingEmitter{}
	h.svc.events = emitter

	_, err := h.svc.CreateAppointment(context.Background(), createRequest("2025-03-10", "09:00", 30))
	assert.NoError(t, err)
	assert.Equal(t, 1, emitter.calls)
}
