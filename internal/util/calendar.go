package util

import (
	"fmt"
	"time"
)

// Date layouts used by the provider ("20240102") and by operators
// ("2024-01-02").
const (
	CompactDate = "20060102"
	ISODate     = "2006-01-02"
)

// ParseDate accepts either the ISO or the compact layout and returns the
// date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{ISODate, CompactDate} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or YYYYMMDD", s)
}

// Compact formats t in the provider's YYYYMMDD layout.
func Compact(t time.Time) string {
	return t.Format(CompactDate)
}

// PrevMonthWindow returns the middle and last day of the calendar month
// before day, both in compact layout. The middle day rounds up, so a
// 31-day month yields the 16th and a 30-day month the 15th.
func PrevMonthWindow(day time.Time) (mid, last string) {
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	lastDay := first.AddDate(0, 1, -1)
	middle := (lastDay.Day() + 1) / 2
	midDay := time.Date(first.Year(), first.Month(), middle, 0, 0, 0, 0, time.UTC)
	return Compact(midDay), Compact(lastDay)
}
