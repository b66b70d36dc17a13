// Package store provides task query filter building.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldhq/fieldsync/internal/models"
)

// Filter represents a single task filter condition.
type Filter interface {
	// SQL returns the SQL fragment for this filter
	SQL() string

	// Args returns the arguments for this filter
	Args() []interface{}

	// Valid checks if the filter is valid
	Valid() bool
}

// StatusFilter filters tasks by lifecycle status.
type StatusFilter struct {
	Status models.TaskStatus
}

// Valid checks if the status is a known value.
func (f *StatusFilter) Valid() bool {
	return f.Status.Valid()
}

// SQL returns the SQL fragment for status filtering.
func (f *StatusFilter) SQL() string {
	return "t.status = ?"
}

// Args returns the arguments for status filtering.
func (f *StatusFilter) Args() []interface{} {
	return []interface{}{string(f.Status)}
}

// PriorityFilter filters tasks by priority.
type PriorityFilter struct {
	Priority models.TaskPriority
}

// Valid checks if the priority is a known value.
func (f *PriorityFilter) Valid() bool {
	return f.Priority.Valid()
}

// SQL returns the SQL fragment for priority filtering.
func (f *PriorityFilter) SQL() string {
	return "t.priority = ?"
}

// Args returns the arguments for priority filtering.
func (f *PriorityFilter) Args() []interface{} {
	return []interface{}{string(f.Priority)}
}

// AssigneeFilter filters tasks by the assigned user's server id.
type AssigneeFilter struct {
	UserID string
}

// Valid checks the assignee filter.
func (f *AssigneeFilter) Valid() bool {
	return strings.TrimSpace(f.UserID) != ""
}

// SQL returns the SQL fragment for assignee filtering.
func (f *AssigneeFilter) SQL() string {
	return "t.assigned_to_id = ?"
}

// Args returns the arguments for assignee filtering.
func (f *AssigneeFilter) Args() []interface{} {
	return []interface{}{f.UserID}
}

// SiteFilter filters tasks by work site.
type SiteFilter struct {
	SiteID string
}

// Valid checks the site filter.
func (f *SiteFilter) Valid() bool {
	return strings.TrimSpace(f.SiteID) != ""
}

// SQL returns the SQL fragment for site filtering.
func (f *SiteFilter) SQL() string {
	return "t.site_id = ?"
}

// Args returns the arguments for site filtering.
func (f *SiteFilter) Args() []interface{} {
	return []interface{}{f.SiteID}
}

// SearchFilter matches a substring against title, description and address.
// Field workers search for "pump" or a street name, so a LIKE scan over the
// few thousand rows a device holds is plenty.
type SearchFilter struct {
	Text string
}

// Valid checks the search filter.
func (f *SearchFilter) Valid() bool {
	return strings.TrimSpace(f.Text) != ""
}

// SQL returns the SQL fragment for substring search.
func (f *SearchFilter) SQL() string {
	return "(t.title LIKE ? OR t.description LIKE ? OR t.address LIKE ?)"
}

// Args returns the arguments for substring search.
func (f *SearchFilter) Args() []interface{} {
	pattern := "%" + strings.TrimSpace(f.Text) + "%"
	return []interface{}{pattern, pattern, pattern}
}

// DateRangeFilter filters by creation date range, epoch milliseconds.
type DateRangeFilter struct {
	From int64
	To   int64
}

// Valid checks if the date range is valid.
func (f *DateRangeFilter) Valid() bool {
	if f.From == 0 && f.To == 0 {
		return false
	}
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return false
	}
	// Allow 1 day of clock skew
	if f.To > 0 && f.To > time.Now().UnixMilli()+86400000 {
		return false
	}
	return true
}

// SQL returns the SQL fragment for date range filtering.
func (f *DateRangeFilter) SQL() string {
	var parts []string
	if f.From > 0 {
		parts = append(parts, "t.created_at >= ?")
	}
	if f.To > 0 {
		parts = append(parts, "t.created_at <= ?")
	}
	return strings.Join(parts, " AND ")
}

// Args returns the arguments for date range filtering.
func (f *DateRangeFilter) Args() []interface{} {
	var args []interface{}
	if f.From > 0 {
		args = append(args, f.From)
	}
	if f.To > 0 {
		args = append(args, f.To)
	}
	return args
}

// DirtyFilter selects tasks with unpushed local mutations.
type DirtyFilter struct{}

// Valid always holds for the dirty filter.
func (f *DirtyFilter) Valid() bool { return true }

// SQL returns the SQL fragment for dirty filtering.
func (f *DirtyFilter) SQL() string { return "t.needs_sync = 1" }

// Args returns no arguments.
func (f *DirtyFilter) Args() []interface{} { return nil }

// ConflictedFilter selects tasks flagged for manual conflict review.
type ConflictedFilter struct{}

// Valid always holds for the conflicted filter.
func (f *ConflictedFilter) Valid() bool { return true }

// SQL returns the SQL fragment for conflict filtering.
func (f *ConflictedFilter) SQL() string { return "t.sync_conflict = 1" }

// Args returns no arguments.
func (f *ConflictedFilter) Args() []interface{} { return nil }

// FilterBuilder builds SQL filter conditions from multiple filters.
type FilterBuilder struct {
	filters []Filter
}

// NewFilterBuilder creates a new FilterBuilder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]Filter, 0),
	}
}

// Status adds a status filter.
func (fb *FilterBuilder) Status(status models.TaskStatus) *FilterBuilder {
	filter := &StatusFilter{Status: status}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Priority adds a priority filter.
func (fb *FilterBuilder) Priority(priority models.TaskPriority) *FilterBuilder {
	filter := &PriorityFilter{Priority: priority}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Assignee adds an assignee filter.
func (fb *FilterBuilder) Assignee(userID string) *FilterBuilder {
	filter := &AssigneeFilter{UserID: userID}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Site adds a site filter.
func (fb *FilterBuilder) Site(siteID string) *FilterBuilder {
	filter := &SiteFilter{SiteID: siteID}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Search adds a free-text substring filter.
func (fb *FilterBuilder) Search(text string) *FilterBuilder {
	filter := &SearchFilter{Text: text}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// DateRange adds a creation date range filter.
func (fb *FilterBuilder) DateRange(from, to int64) *FilterBuilder {
	filter := &DateRangeFilter{From: from, To: to}
	if filter.Valid() {
		fb.filters = append(fb.filters, filter)
	}
	return fb
}

// Dirty limits results to tasks with unpushed mutations.
func (fb *FilterBuilder) Dirty() *FilterBuilder {
	fb.filters = append(fb.filters, &DirtyFilter{})
	return fb
}

// Conflicted limits results to tasks awaiting conflict review.
func (fb *FilterBuilder) Conflicted() *FilterBuilder {
	fb.filters = append(fb.filters, &ConflictedFilter{})
	return fb
}

// HasFilters returns true if any filters have been added.
func (fb *FilterBuilder) HasFilters() bool {
	return len(fb.filters) > 0
}

// Count returns the number of filters.
func (fb *FilterBuilder) Count() int {
	return len(fb.filters)
}

// Build builds the SQL WHERE clause and returns the arguments.
func (fb *FilterBuilder) Build() (string, []interface{}) {
	if !fb.HasFilters() {
		return "", nil
	}

	var sqlParts []string
	var args []interface{}

	for _, filter := range fb.filters {
		sqlParts = append(sqlParts, filter.SQL())
		args = append(args, filter.Args()...)
	}

	return strings.Join(sqlParts, " AND "), args
}

// Reset clears all filters.
func (fb *FilterBuilder) Reset() *FilterBuilder {
	fb.filters = make([]Filter, 0)
	return fb
}

// String returns a string representation of the filters (for debugging).
func (fb *FilterBuilder) String() string {
	if !fb.HasFilters() {
		return "(no filters)"
	}

	var parts []string
	for _, filter := range fb.filters {
		parts = append(parts, fmt.Sprintf("%T", filter))
	}
	return strings.Join(parts, ", ")
}
