package appointment

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Sortable fields accepted in SortOrder.Field.
const (
	SortByDate        = "date"
	SortByCreatedAt   = "created_at"
	SortByUpdatedAt   = "updated_at"
	SortByStatus      = "status"
	SortByPriority    = "priority"
	SortByPatientName = "patient_name"
	SortByDoctorName  = "doctor_name"
)

type compareFunc func(a, b *model.Appointment) int

var sortFields = map[string]compareFunc{
	SortByDate:        compareSchedule,
	SortByCreatedAt:   func(a, b *model.Appointment) int { return a.CreatedAt.Compare(b.CreatedAt) },
	SortByUpdatedAt:   func(a, b *model.Appointment) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	SortByStatus:      func(a, b *model.Appointment) int { return statusIndex(a.Status) - statusIndex(b.Status) },
	SortByPriority:    func(a, b *model.Appointment) int { return a.Priority.Rank() - b.Priority.Rank() },
	SortByPatientName: func(a, b *model.Appointment) int { return compareFold(a.PatientName, b.PatientName) },
	SortByDoctorName:  func(a, b *model.Appointment) int { return compareFold(a.DoctorName, b.DoctorName) },
}

// ValidateSort rejects unknown sort fields and directions.
func ValidateSort(order model.SortOrder) error {
	if order.IsZero() {
		return nil
	}
	if _, ok := sortFields[order.Field]; !ok {
		return apperrors.NewValidation(apperrors.FieldError{
			Field:   "sort",
			Message: "must be one of: date, created_at, updated_at, status, priority, patient_name, doctor_name",
		})
	}
	if d := strings.ToLower(order.Dir); d != "" && d != model.SortAsc && d != model.SortDesc {
		return apperrors.NewValidation(apperrors.FieldError{Field: "order", Message: "must be one of: asc, desc"})
	}
	return nil
}

// Matches reports whether a satisfies every set filter.
func Matches(a *model.Appointment, f *model.AppointmentFilters) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
		return false
	}
	if !f.DateFrom.IsZero() && a.AppointmentDate.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && a.AppointmentDate.After(f.DateTo) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(a.PatientName), q) ||
			strings.Contains(strings.ToLower(a.DoctorName), q) ||
			strings.Contains(strings.ToLower(a.Reason), q)
	}
	return true
}

// Filter returns the items matching f, preserving order.
func Filter(items []*model.Appointment, f *model.AppointmentFilters) []*model.Appointment {
	out := make([]*model.Appointment, 0, len(items))
	for _, a := range items {
		if Matches(a, f) {
			out = append(out, a)
		}
	}
	return out
}

// Sort orders items in place. The zero order sorts by date and time
// ascending. Ties are always broken by id ascending.
func Sort(items []*model.Appointment, order model.SortOrder) {
	cmp, ok := sortFields[order.Field]
	if !ok {
		cmp = compareSchedule
	}
	desc := order.Desc()
	sort.SliceStable(items, func(i, j int) bool {
		if c := cmp(items[i], items[j]); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
}

// Paginate slices items into the requested page. A page past the end yields
// no items but keeps the totals.
func Paginate(items []*model.Appointment, p model.Pagination) *model.Page {
	total := len(items)
	page := &model.Page{
		Items:      []*model.Appointment{},
		Total:      total,
		TotalPages: p.TotalPages(total),
		Page:       p.Page,
		PageSize:   p.PageSize,
	}
	if p.Page > page.TotalPages {
		return page
	}
	start := p.Offset()
	if start >= total {
		return page
	}
	end := start + p.PageSize
	if end > total || end < start {
		end = total
	}
	page.Items = items[start:end]
	return page
}

// Query filters, orders and paginates items. p must already be normalized.
func Query(items []*model.Appointment, f *model.AppointmentFilters, order model.SortOrder, p model.Pagination) *model.Page {
	matched := Filter(items, f)
	Sort(matched, order)
	return Paginate(matched, p)
}

// ComputeStats derives aggregate figures over items, which are assumed to be
// already filtered.
func ComputeStats(items []*model.Appointment, today model.Date) *model.AppointmentStats {
	counts := make(map[model.AppointmentStatus]int, len(model.AppointmentStatuses))
	stats := &model.AppointmentStats{
		Total:      len(items),
		ByPriority: make(map[model.AppointmentPriority]int, len(model.AppointmentPriorities)),
	}
	for _, p := range model.AppointmentPriorities {
		stats.ByPriority[p] = 0
	}
	for _, a := range items {
		counts[a.Status]++
		if a.AppointmentDate.Equal(today) {
			stats.Today++
		}
		if a.Priority != "" {
			stats.ByPriority[a.Priority]++
		}
	}
	stats.CompletionRate = rate(counts[model.AppointmentStatusCompleted], stats.Total)
	stats.CancellationRate = rate(counts[model.AppointmentStatusCancelled], stats.Total)
	stats.NoShowRate = rate(counts[model.AppointmentStatusNoShow], stats.Total)
	stats.StatusDistribution = Distribution(counts, stats.Total)
	return stats
}

// rate is part/total as a percentage rounded to two decimals, 0 when total is 0.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}

// Distribution returns one share per status with whole percentages. Floors are
// topped up by largest remainder so the shares sum to 100 when total > 0;
// equal remainders favour the status listed first.
func Distribution(counts map[model.AppointmentStatus]int, total int) []model.StatusShare {
	shares := make([]model.StatusShare, len(model.AppointmentStatuses))
	if total <= 0 {
		for i, s := range model.AppointmentStatuses {
			shares[i] = model.StatusShare{Status: s}
		}
		return shares
	}

	remainders := make([]int, len(shares))
	assigned := 0
	for i, s := range model.AppointmentStatuses {
		n := counts[s]
		shares[i] = model.StatusShare{Status: s, Count: n, Percentage: n * 100 / total}
		remainders[i] = n * 100 % total
		assigned += shares[i].Percentage
	}

	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for k := 0; assigned < 100 && k < len(order); k++ {
		if remainders[order[k]] == 0 {
			break
		}
		shares[order[k]].Percentage++
		assigned++
	}
	return shares
}

func compareSchedule(a, b *model.Appointment) int {
	if c := a.AppointmentDate.Compare(b.AppointmentDate); c != 0 {
		return c
	}
	return int(a.AppointmentTime) - int(b.AppointmentTime)
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func statusIndex(s model.AppointmentStatus) int {
	for i, known := range model.AppointmentStatuses {
		if known == s {
			return i
		}
	}
	return len(model.AppointmentStatuses)
}
