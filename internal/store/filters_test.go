// Package store tests for task filter building functionality.
package store

import (
	"strings"
	"testing"
	"time"

	"github.com/fieldhq/fieldsync/internal/models"
)

// TestStatusFilter_Valid verifies status validation.
func TestStatusFilter_Valid(t *testing.T) {
	tests := []struct {
		name     string
		status   models.TaskStatus
		expected bool
	}{
		{"valid pending", models.StatusPending, true},
		{"valid in_progress", models.StatusInProgress, true},
		{"valid completed", models.StatusCompleted, true},
		{"valid cancelled", models.StatusCancelled, true},
		{"valid on_hold", models.StatusOnHold, true},
		{"invalid empty", models.TaskStatus(""), false},
		{"invalid unknown", models.TaskStatus("done"), false},
		{"invalid uppercase", models.TaskStatus("Pending"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := &StatusFilter{Status: tt.status}
			result := filter.Valid()
			if result != tt.expected {
				t.Errorf("StatusFilter.Valid(%q) = %v, want %v", tt.status, result, tt.expected)
			}
		})
	}
}

// TestStatusFilter_SQL verifies SQL generation.
func TestStatusFilter_SQL(t *testing.T) {
	filter := &StatusFilter{Status: models.StatusPending}
	expected := "t.status = ?"
	result := filter.SQL()
	if result != expected {
		t.Errorf("StatusFilter.SQL() = %q, want %q", result, expected)
	}
}

// TestStatusFilter_Args verifies argument generation.
func TestStatusFilter_Args(t *testing.T) {
	filter := &StatusFilter{Status: models.StatusCompleted}
	args := filter.Args()
	if len(args) != 1 {
		t.Fatalf("Args() returned %d args, want 1", len(args))
	}
	if args[0] != "completed" {
		t.Errorf("Args()[0] = %q, want 'completed'", args[0])
	}
}

// TestPriorityFilter_Valid verifies priority validation.
func TestPriorityFilter_Valid(t *testing.T) {
	tests := []struct {
		name     string
		priority models.TaskPriority
		expected bool
	}{
		{"valid low", models.PriorityLow, true},
		{"valid medium", models.PriorityMedium, true},
		{"valid high", models.PriorityHigh, true},
		{"valid critical", models.PriorityCritical, true},
		{"invalid empty", models.TaskPriority(""), false},
		{"invalid unknown", models.TaskPriority("urgent"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := &PriorityFilter{Priority: tt.priority}
			result := filter.Valid()
			if result != tt.expected {
				t.Errorf("PriorityFilter.Valid(%q) = %v, want %v", tt.priority, result, tt.expected)
			}
		})
	}
}

// TestAssigneeFilter verifies assignee validation and SQL generation.
func TestAssigneeFilter(t *testing.T) {
	filter := &AssigneeFilter{UserID: "u-9"}
	if !filter.Valid() {
		t.Error("Valid() = false, want true")
	}
	if filter.SQL() != "t.assigned_to_id = ?" {
		t.Errorf("SQL() = %q, want 't.assigned_to_id = ?'", filter.SQL())
	}
	args := filter.Args()
	if len(args) != 1 || args[0] != "u-9" {
		t.Errorf("Args() = %v, want [u-9]", args)
	}

	empty := &AssigneeFilter{UserID: "  "}
	if empty.Valid() {
		t.Error("whitespace-only assignee should be invalid")
	}
}

// TestSiteFilter verifies site validation and SQL generation.
func TestSiteFilter(t *testing.T) {
	filter := &SiteFilter{SiteID: "s-3"}
	if !filter.Valid() {
		t.Error("Valid() = false, want true")
	}
	if filter.SQL() != "t.site_id = ?" {
		t.Errorf("SQL() = %q, want 't.site_id = ?'", filter.SQL())
	}

	empty := &SiteFilter{}
	if empty.Valid() {
		t.Error("empty site should be invalid")
	}
}

// TestSearchFilter verifies substring search over the three text columns.
func TestSearchFilter(t *testing.T) {
	filter := &SearchFilter{Text: "pump"}
	if !filter.Valid() {
		t.Error("Valid() = false, want true")
	}

	expected := "(t.title LIKE ? OR t.description LIKE ? OR t.address LIKE ?)"
	if filter.SQL() != expected {
		t.Errorf("SQL() = %q, want %q", filter.SQL(), expected)
	}

	args := filter.Args()
	if len(args) != 3 {
		t.Fatalf("Args() returned %d args, want 3", len(args))
	}
	for i, arg := range args {
		if arg != "%pump%" {
			t.Errorf("Args()[%d] = %q, want '%%pump%%'", i, arg)
		}
	}
}

// TestSearchFilter_trims verifies whitespace trimming in the pattern.
func TestSearchFilter_trims(t *testing.T) {
	filter := &SearchFilter{Text: "  valve  "}
	args := filter.Args()
	if args[0] != "%valve%" {
		t.Errorf("Args()[0] = %q, want '%%valve%%'", args[0])
	}

	blank := &SearchFilter{Text: "   "}
	if blank.Valid() {
		t.Error("whitespace-only search should be invalid")
	}
}

// TestDateRangeFilter_Valid verifies date range validation.
func TestDateRangeFilter_Valid(t *testing.T) {
	now := time.Now().UnixMilli()
	day := int64(86400000)

	tests := []struct {
		name     string
		from     int64
		to       int64
		expected bool
	}{
		{"valid from only", now - day, 0, true},
		{"valid to only", 0, now - day, true},
		{"valid range", now - day, now - 3600000, true},
		{"invalid none", 0, 0, false},
		{"invalid from after to", now - 3600000, now - day, false},
		{"invalid to far future", 0, now + 10*day, false},
		{"valid boundary", now - day, now + day, true}, // exactly 1 day ahead
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := &DateRangeFilter{From: tt.from, To: tt.to}
			result := filter.Valid()
			if result != tt.expected {
				t.Errorf("DateRangeFilter.Valid(from=%d, to=%d) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

// TestDateRangeFilter_SQL verifies SQL generation for date ranges.
func TestDateRangeFilter_SQL(t *testing.T) {
	tests := []struct {
		name     string
		from     int64
		to       int64
		expected string
	}{
		{"from only", 1000, 0, "t.created_at >= ?"},
		{"to only", 0, 2000, "t.created_at <= ?"},
		{"both", 1000, 2000, "t.created_at >= ? AND t.created_at <= ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := &DateRangeFilter{From: tt.from, To: tt.to}
			result := filter.SQL()
			if result != tt.expected {
				t.Errorf("DateRangeFilter.SQL(from=%d, to=%d) = %q, want %q", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

// TestDateRangeFilter_Args verifies argument generation.
func TestDateRangeFilter_Args(t *testing.T) {
	tests := []struct {
		name     string
		from     int64
		to       int64
		expected []interface{}
	}{
		{"from only", 1000, 0, []interface{}{int64(1000)}},
		{"to only", 0, 2000, []interface{}{int64(2000)}},
		{"both", 1000, 2000, []interface{}{int64(1000), int64(2000)}},
		{"none", 0, 0, []interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := &DateRangeFilter{From: tt.from, To: tt.to}
			args := filter.Args()
			if len(args) != len(tt.expected) {
				t.Fatalf("Args() returned %d args, want %d", len(args), len(tt.expected))
			}
			for i, arg := range args {
				if arg != tt.expected[i] {
					t.Errorf("Args()[%d] = %v, want %v", i, arg, tt.expected[i])
				}
			}
		})
	}
}

// TestDirtyFilter verifies the unpushed-changes filter.
func TestDirtyFilter(t *testing.T) {
	filter := &DirtyFilter{}
	if !filter.Valid() {
		t.Error("Valid() = false, want true")
	}
	if filter.SQL() != "t.needs_sync = 1" {
		t.Errorf("SQL() = %q, want 't.needs_sync = 1'", filter.SQL())
	}
	if len(filter.Args()) != 0 {
		t.Errorf("Args() = %v, want none", filter.Args())
	}
}

// TestConflictedFilter verifies the manual-review filter.
func TestConflictedFilter(t *testing.T) {
	filter := &ConflictedFilter{}
	if !filter.Valid() {
		t.Error("Valid() = false, want true")
	}
	if filter.SQL() != "t.sync_conflict = 1" {
		t.Errorf("SQL() = %q, want 't.sync_conflict = 1'", filter.SQL())
	}
}

// TestNewFilterBuilder verifies FilterBuilder creation.
func TestNewFilterBuilder(t *testing.T) {
	fb := NewFilterBuilder()
	if fb == nil {
		t.Fatal("NewFilterBuilder() returned nil")
	}
	if fb.filters == nil {
		t.Error("filters slice is nil")
	}
	if len(fb.filters) != 0 {
		t.Errorf("filters length = %d, want 0", len(fb.filters))
	}
}

// TestFilterBuilder_HasFilters verifies HasFilters method.
func TestFilterBuilder_HasFilters(t *testing.T) {
	fb := NewFilterBuilder()

	if fb.HasFilters() {
		t.Error("HasFilters() on empty builder should return false")
	}

	fb.Status(models.StatusPending)
	if !fb.HasFilters() {
		t.Error("HasFilters() after adding filter should return true")
	}
}

// TestFilterBuilder_Count verifies Count method.
func TestFilterBuilder_Count(t *testing.T) {
	fb := NewFilterBuilder()

	if fb.Count() != 0 {
		t.Errorf("Count() on empty builder = %d, want 0", fb.Count())
	}

	fb.Status(models.StatusPending)
	if fb.Count() != 1 {
		t.Errorf("Count() after adding 1 filter = %d, want 1", fb.Count())
	}

	fb.Priority(models.PriorityHigh)
	if fb.Count() != 2 {
		t.Errorf("Count() after adding 2 filters = %d, want 2", fb.Count())
	}
}

// TestFilterBuilder_skips_invalid verifies invalid filters are not added.
func TestFilterBuilder_skips_invalid(t *testing.T) {
	fb := NewFilterBuilder().
		Status(models.TaskStatus("bogus")).
		Priority(models.TaskPriority("bogus")).
		Assignee("").
		Site("  ").
		Search("").
		DateRange(0, 0)

	if fb.Count() != 0 {
		t.Errorf("Count() = %d, want 0 (all inputs invalid)", fb.Count())
	}
}

// TestFilterBuilder_Build verifies SQL building.
func TestFilterBuilder_Build(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(*FilterBuilder)
		expectedSQL    string
		expectedArgLen int
	}{
		{
			name:           "no filters",
			setup:          func(fb *FilterBuilder) {},
			expectedSQL:    "",
			expectedArgLen: 0,
		},
		{
			name: "status only",
			setup: func(fb *FilterBuilder) {
				fb.Status(models.StatusPending)
			},
			expectedSQL:    "t.status = ?",
			expectedArgLen: 1,
		},
		{
			name: "status and priority",
			setup: func(fb *FilterBuilder) {
				fb.Status(models.StatusPending).Priority(models.PriorityHigh)
			},
			expectedSQL:    "t.status = ? AND t.priority = ?",
			expectedArgLen: 2,
		},
		{
			name: "dirty and conflicted",
			setup: func(fb *FilterBuilder) {
				fb.Dirty().Conflicted()
			},
			expectedSQL:    "t.needs_sync = 1 AND t.sync_conflict = 1",
			expectedArgLen: 0,
		},
		{
			name: "search adds three args",
			setup: func(fb *FilterBuilder) {
				fb.Search("pump").Site("s-1")
			},
			expectedSQL:    "(t.title LIKE ? OR t.description LIKE ? OR t.address LIKE ?) AND t.site_id = ?",
			expectedArgLen: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewFilterBuilder()
			tt.setup(fb)

			sql, args := fb.Build()
			if sql != tt.expectedSQL {
				t.Errorf("SQL = %q, want %q", sql, tt.expectedSQL)
			}
			if len(args) != tt.expectedArgLen {
				t.Errorf("Args length = %d, want %d", len(args), tt.expectedArgLen)
			}
		})
	}
}

// TestFilterBuilder_Reset verifies Reset method.
func TestFilterBuilder_Reset(t *testing.T) {
	fb := NewFilterBuilder()
	fb.Status(models.StatusPending).Priority(models.PriorityHigh)

	if fb.Count() != 2 {
		t.Errorf("Count() before Reset() = %d, want 2", fb.Count())
	}

	result := fb.Reset()
	if result != fb {
		t.Error("Reset() should return the same FilterBuilder instance")
	}

	if fb.Count() != 0 {
		t.Errorf("Count() after Reset() = %d, want 0", fb.Count())
	}
}

// TestFilterBuilder_String verifies String representation.
func TestFilterBuilder_String(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*FilterBuilder)
		expected string
	}{
		{
			name:     "empty",
			setup:    func(fb *FilterBuilder) {},
			expected: "(no filters)",
		},
		{
			name: "single filter",
			setup: func(fb *FilterBuilder) {
				fb.Status(models.StatusPending)
			},
			expected: "*store.StatusFilter",
		},
		{
			name: "multiple filters",
			setup: func(fb *FilterBuilder) {
				fb.Status(models.StatusPending).Dirty()
			},
			expected: "*store.StatusFilter, *store.DirtyFilter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewFilterBuilder()
			tt.setup(fb)
			result := fb.String()
			if result != tt.expected {
				t.Errorf("String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

// TestFilterBuilder_chain_methods verifies method chaining.
func TestFilterBuilder_chain_methods(t *testing.T) {
	fb := NewFilterBuilder().
		Status(models.StatusInProgress).
		Priority(models.PriorityCritical).
		Assignee("u-1").
		DateRange(1000, 2000)

	if fb.Count() != 4 {
		t.Errorf("Count() = %d, want 4", fb.Count())
	}

	sql, args := fb.Build()
	if !strings.Contains(sql, "t.status = ?") {
		t.Error("SQL should contain status filter")
	}
	if !strings.Contains(sql, "t.assigned_to_id = ?") {
		t.Error("SQL should contain assignee filter")
	}
	if len(args) != 5 { // status + priority + assignee + 2 dates
		t.Errorf("Args length = %d, want 5", len(args))
	}
}
