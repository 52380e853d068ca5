package execution

import (
	"math"
	"strings"
)

// SortField is a column executions can be ordered by.
type SortField string

const (
	SortCreatedAt    SortField = "created_at"
	SortUpdatedAt    SortField = "updated_at"
	SortCycleNumber  SortField = "cycle_number"
	SortExecutionEnd SortField = "execution_end"
)

// Valid reports whether f is a known sort column.
func (f SortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortCycleNumber, SortExecutionEnd:
		return true
	default:
		return false
	}
}

// Filter selects and pages execution records. Nil pointers and the empty
// cycle type match everything.
type Filter struct {
	ProjectID      *int64
	TestcaseID     *int64
	RunID          *int64
	CycleType      string
	LifecycleState *LifecycleState

	Page      int
	PageSize  int
	SortBy    SortField
	SortOrder string
}

// Normalize applies paging and ordering defaults. maxPageSize caps the
// page size; a non-positive value disables the cap.
func (f *Filter) Normalize(defaultPageSize, maxPageSize int) error {
	if f.Page < 1 {
		f.Page = 1
	}

	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}

	if maxPageSize > 0 && f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	if f.PageSize > 0 && f.Page-1 > math.MaxInt/f.PageSize {
		return Errorf(KindValidation, "page %d is out of range", f.Page)
	}

	if f.SortBy == "" {
		f.SortBy = SortCreatedAt
	}

	if !f.SortBy.Valid() {
		return Errorf(KindValidation, "unknown sort column %q", f.SortBy)
	}

	switch f.SortOrder = strings.ToLower(strings.TrimSpace(f.SortOrder)); f.SortOrder {
	case "":
		f.SortOrder = "desc"
	case "asc", "desc":
	default:
		return Errorf(KindValidation, "sort order must be asc or desc, got %q", f.SortOrder)
	}

	if f.LifecycleState != nil && !f.LifecycleState.Valid() {
		return Errorf(KindValidation, "unknown lifecycle state %d", *f.LifecycleState)
	}

	f.CycleType = NormalizeCycleType(f.CycleType)

	return nil
}

// Offset returns the number of rows to skip for the current page.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Page is one page of a filtered listing.
type Page struct {
	Items    []*Record `json:"items"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
