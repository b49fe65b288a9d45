package warehouse

import (
	"fmt"
	"time"
)

// DateKey derives the deterministic YYYYMMDD surrogate for a calendar day.
// Two loads computing the key for the same day always agree, so date rows
// never depend on insertion order.
func DateKey(t time.Time) int64 {
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d)
}

// DateRow materializes one dim_date row in ColumnNames order (key first).
// day_of_week runs Monday=0 through Sunday=6 and is_weekend covers
// Saturday and Sunday.
func DateRow(t time.Time) []any {
	y, m, d := t.Date()
	dow := (int(t.Weekday()) + 6) % 7
	_, week := t.ISOWeek()
	return []any{
		DateKey(t),
		t.Format("2006-01-02"),
		int64(y),
		int64((int(m)-1)/3 + 1),
		int64(m),
		t.Month().String(),
		int64(week),
		int64(d),
		int64(dow),
		t.Weekday().String(),
		boolInt(dow >= 5),
		fmt.Sprintf("%04d-%02d", y, int(m)),
	}
}

// DateRange returns every day from first through last inclusive, normalized
// to midnight UTC. The engine fills dim_date over the observed min..max span
// of a batch so month-level reports have no calendar gaps.
func DateRange(first, last time.Time) []time.Time {
	first = midnightUTC(first)
	last = midnightUTC(last)
	if last.Before(first) {
		return nil
	}
	var days []time.Time
	for t := first; !t.After(last); t = t.AddDate(0, 0, 1) {
		days = append(days, t)
	}
	return days
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
