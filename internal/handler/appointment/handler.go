package appointment

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	"github.com/jwalitptl/clinic-api/internal/service/availability"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// defaultDuration applies to availability queries that omit duration.
const defaultDuration = 30

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.GET("", h.ListAppointments)
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/stats", h.GetAppointmentStats)
		appointments.GET("/availability", h.CheckAvailability)
		appointments.GET("/slots", h.AvailableSlots)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PUT("/:id", h.UpdateAppointment)
		appointments.POST("/:id/confirm", h.ConfirmAppointment)
		appointments.POST("/:id/start", h.StartAppointment)
		appointments.POST("/:id/cancel", h.CancelAppointment)
		appointments.POST("/:id/complete", h.CompleteAppointment)
		appointments.POST("/:id/no-show", h.MarkNoShow)
	}
}

// appointmentView adds the operations a client may offer next.
type appointmentView struct {
	*model.Appointment
	AllowedActions []model.Operation `json:"allowed_actions"`
}

func (h *Handler) view(apt *model.Appointment, now time.Time) appointmentView {
	return appointmentView{Appointment: apt, AllowedActions: apt.AllowedOperations(now)}
}

func (h *Handler) respond(c *gin.Context, apt *model.Appointment, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	handler.OK(c, h.view(apt, h.service.Now()))
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	apt, err := h.service.CreateAppointment(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	handler.Created(c, h.view(apt, h.service.Now()))
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	apt, err := h.service.GetAppointment(c.Request.Context(), id)
	h.respond(c, apt, err)
}

func (h *Handler) UpdateAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req model.UpdateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	apt, err := h.service.UpdateAppointment(c.Request.Context(), id, &req)
	h.respond(c, apt, err)
}

func (h *Handler) ConfirmAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	apt, err := h.service.ConfirmAppointment(c.Request.Context(), id)
	h.respond(c, apt, err)
}

func (h *Handler) StartAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	apt, err := h.service.StartAppointment(c.Request.Context(), id)
	h.respond(c, apt, err)
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req model.CancelAppointmentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	apt, err := h.service.CancelAppointment(c.Request.Context(), id, req.Reason)
	h.respond(c, apt, err)
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req model.CompleteAppointmentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	apt, err := h.service.CompleteAppointment(c.Request.Context(), id, req.Notes)
	h.respond(c, apt, err)
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req model.CompleteAppointmentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	apt, err := h.service.MarkNoShow(c.Request.Context(), id, req.Notes)
	h.respond(c, apt, err)
}

type pageView struct {
	Items      []appointmentView `json:"items"`
	Total      int               `json:"total"`
	TotalPages int               `json:"total_pages"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

func (h *Handler) ListAppointments(c *gin.Context) {
	q := &queryParams{c: c}
	filters := q.filters()
	list := appointment.ListQuery{
		Filters: filters,
		Sort: model.SortOrder{
			Field: c.Query("sort"),
			Dir:   c.Query("order"),
		},
		Pagination: model.Pagination{
			Page:     q.number("page"),
			PageSize: q.number("limit"),
		},
	}
	if err := q.err(); err != nil {
		_ = c.Error(err)
		return
	}

	page, err := h.service.ListAppointments(c.Request.Context(), list)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := h.service.Now()
	items := make([]appointmentView, 0, len(page.Items))
	for _, apt := range page.Items {
		items = append(items, h.view(apt, now))
	}
	handler.OK(c, pageView{
		Items:      items,
		Total:      page.Total,
		TotalPages: page.TotalPages,
		Page:       page.Page,
		PageSize:   page.PageSize,
	})
}

func (h *Handler) GetAppointmentStats(c *gin.Context) {
	q := &queryParams{c: c}
	filters := q.filters()
	if err := q.err(); err != nil {
		_ = c.Error(err)
		return
	}

	stats, err := h.service.GetAppointmentStats(c.Request.Context(), filters)
	if err != nil {
		_ = c.Error(err)
		return
	}
	handler.OK(c, stats)
}

func (h *Handler) CheckAvailability(c *gin.Context) {
	q := &queryParams{c: c}
	req := availability.Request{
		DoctorID:  q.requiredID("doctor_id"),
		Date:      q.requiredDate("date"),
		Time:      q.requiredTime("time"),
		Duration:  q.duration(),
		ExcludeID: q.id("exclude_id"),
	}
	if err := q.err(); err != nil {
		_ = c.Error(err)
		return
	}

	res, err := h.service.CheckAvailability(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	handler.OK(c, res)
}

func (h *Handler) AvailableSlots(c *gin.Context) {
	q := &queryParams{c: c}
	doctorID := q.requiredID("doctor_id")
	date := q.requiredDate("date")
	duration := q.duration()
	if err := q.err(); err != nil {
		_ = c.Error(err)
		return
	}

	slots, err := h.service.AvailableSlots(c.Request.Context(), doctorID, date, duration)
	if err != nil {
		_ = c.Error(err)
		return
	}
	handler.OK(c, gin.H{"slots": slots})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequest("invalid appointment ID", err))
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(bindError(err))
		return false
	}
	return true
}

// bindError reports a value of the wrong JSON type as a field error. Bodies
// that are not JSON at all stay a BadRequest.
func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperrors.NewValidation(apperrors.FieldError{
			Field:   typeErr.Field,
			Message: "must be " + jsonKind(typeErr.Type.Kind()),
		})
	}
	return apperrors.NewBadRequest("invalid request body", err)
}

func jsonKind(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}

// queryParams parses query values and collects every invalid field.
type queryParams struct {
	c      *gin.Context
	fields []apperrors.FieldError
}

func (q *queryParams) fail(field, message string) {
	q.fields = append(q.fields, apperrors.FieldError{Field: field, Message: message})
}

func (q *queryParams) err() error {
	if len(q.fields) == 0 {
		return nil
	}
	return apperrors.NewValidation(q.fields...)
}

func (q *queryParams) filters() model.AppointmentFilters {
	f := model.AppointmentFilters{
		DoctorID:  q.id("doctor_id"),
		PatientID: q.id("patient_id"),
		DateFrom:  q.date("date_from"),
		DateTo:    q.date("date_to"),
		Search:    strings.TrimSpace(q.c.Query("search")),
	}
	if s := q.c.Query("status"); s != "" {
		f.Status = model.AppointmentStatus(s)
		if !f.Status.Valid() {
			q.fail("status", "unknown status")
		}
	}
	if p := q.c.Query("priority"); p != "" {
		f.Priority = model.AppointmentPriority(p)
		if f.Priority.Rank() < 0 {
			q.fail("priority", "must be one of: low, normal, high, urgent")
		}
	}
	return f
}

func (q *queryParams) id(key string) uuid.UUID {
	s := q.c.Query(key)
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		q.fail(key, "must be a valid UUID")
	}
	return id
}

func (q *queryParams) requiredID(key string) uuid.UUID {
	if q.c.Query(key) == "" {
		q.fail(key, "is required")
		return uuid.Nil
	}
	return q.id(key)
}

func (q *queryParams) date(key string) model.Date {
	s := q.c.Query(key)
	if s == "" {
		return model.Date{}
	}
	d, err := model.ParseDate(s)
	if err != nil {
		q.fail(key, err.Error())
	}
	return d
}

func (q *queryParams) requiredDate(key string) model.Date {
	if q.c.Query(key) == "" {
		q.fail(key, "is required")
		return model.Date{}
	}
	return q.date(key)
}

func (q *queryParams) requiredTime(key string) model.TimeOfDay {
	s := q.c.Query(key)
	if s == "" {
		q.fail(key, "is required")
		return 0
	}
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		q.fail(key, err.Error())
	}
	return t
}

func (q *queryParams) number(key string) int {
	s := q.c.Query(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		q.fail(key, "must be a non-negative integer")
		return 0
	}
	return n
}

func (q *queryParams) duration() int {
	d := q.number("duration")
	if d == 0 {
		return defaultDuration
	}
	if d < model.MinDurationMinutes || d > model.MaxDurationMinutes {
		q.fail("duration", "must be between 15 and 240")
	}
	return d
}
