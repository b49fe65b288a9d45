package warehouse

import (
	"testing"
	"time"
)

// TestAgeGroup verifies the reporting bands, including the fold-down of
// under-18 ages into the bottom band and the open-ended top band.
func TestAgeGroup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		age  int64
		want string
	}{
		{16, "18-25"},
		{18, "18-25"},
		{25, "18-25"},
		{26, "26-35"},
		{35, "26-35"},
		{36, "36-45"},
		{45, "36-45"},
		{46, "46-55"},
		{55, "46-55"},
		{56, "56+"},
		{90, "56+"},
	}
	for _, tt := range tests {
		if got := AgeGroup(tt.age); got != tt.want {
			t.Errorf("AgeGroup(%d) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

// TestDateKey verifies the key is a deterministic function of the calendar
// day: stable across runs and independent of time-of-day.
func TestDateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Time
		want int64
	}{
		{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), 20240315},
		{time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC), 20240315},
		{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 20240101},
		{time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), 19991231},
	}
	for _, tt := range tests {
		if got := DateKey(tt.in); got != tt.want {
			t.Errorf("DateKey(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestDateRow verifies the calendar attributes for a known day.
//
// Edge cases:
//   - day_of_week is Monday=0..Sunday=6, not Go's Sunday=0 convention.
//   - is_weekend covers Saturday and Sunday only.
//   - year_month is zero-padded.
func TestDateRow(t *testing.T) {
	t.Parallel()

	// 2024-03-16 is a Saturday.
	row := DateRow(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC))

	want := []any{
		int64(20240316), "2024-03-16",
		int64(2024), int64(1), int64(3), "March",
		int64(11), int64(16), int64(5), "Saturday", int64(1),
		"2024-03",
	}
	if len(row) != len(want) {
		t.Fatalf("DateRow returned %d values, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("DateRow[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestDateRowWeekday(t *testing.T) {
	t.Parallel()

	// 2024-03-18 is a Monday.
	row := DateRow(time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC))
	if got := row[8]; got != int64(0) {
		t.Errorf("day_of_week = %v, want 0 (Monday)", got)
	}
	if got := row[10]; got != int64(0) {
		t.Errorf("is_weekend = %v, want 0", got)
	}
}

// TestDateRange verifies inclusive day enumeration across a month boundary
// and the degenerate orderings.
func TestDateRange(t *testing.T) {
	t.Parallel()

	first := time.Date(2024, 2, 27, 14, 0, 0, 0, time.UTC)
	last := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)

	days := DateRange(first, last)
	if len(days) != 5 {
		t.Fatalf("got %d days, want 5 (leap-year february)", len(days))
	}
	if DateKey(days[0]) != 20240227 || DateKey(days[4]) != 20240302 {
		t.Errorf("range endpoints = %d..%d, want 20240227..20240302", DateKey(days[0]), DateKey(days[4]))
	}

	if got := DateRange(last, first); got != nil {
		t.Errorf("inverted range = %v, want nil", got)
	}
	if got := DateRange(first, first); len(got) != 1 {
		t.Errorf("single-day range has %d days, want 1", len(got))
	}
}
