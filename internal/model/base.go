package model

import (
	"math"
	"strings"
)

// Pagination represents common pagination parameters
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"limit"`
}

// Normalize clamps page to >= 1 and pageSize to [1, max], using def when unset.
func (p Pagination) Normalize(def, max int) Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = def
	}
	if max > 0 && p.PageSize > max {
		p.PageSize = max
	}
	return p
}

// Offset is the zero-based index of the first item on the page. It saturates
// at math.MaxInt instead of overflowing for huge pages.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.PageSize {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PageSize
}

// TotalPages returns ceil(total / PageSize).
func (p Pagination) TotalPages(total int) int {
	if p.PageSize <= 0 || total <= 0 {
		return 0
	}
	return (total-1)/p.PageSize + 1
}

// SortOrder represents sorting parameters
type SortOrder struct {
	Field string `json:"field" form:"sort"`
	Dir   string `json:"direction" form:"order"`
}

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Desc reports whether the order is descending.
func (s SortOrder) Desc() bool {
	return strings.EqualFold(s.Dir, SortDesc)
}

// IsZero reports whether no explicit order was requested.
func (s SortOrder) IsZero() bool {
	return s.Field == ""
}
