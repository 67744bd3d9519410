package stats

import (
	"strings"
	"time"
)

const (
	// TrendWeeks is the number of points in the weekly trend
	TrendWeeks = 26
	// TrendDays is the daily-count window feeding the trend
	TrendDays = 182
)

// Window is a half-open calendar-day range [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Days is the window length in days
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// Windows holds every range a stats load queries, all anchored on the
// latest event day
type Windows struct {
	Latest time.Time
	End    time.Time // Latest + 1 day, exclusive

	Last7    Window
	Last30   Window
	Prior30  Window
	MTD      Window
	PriorMTD Window
	YTD      Window
	PriorYTD Window
	Trend    Window
}

// BuildWindows derives the stats windows from the latest event day. Prior
// month and prior year windows cover the same number of elapsed days as
// their current counterparts, capped so they never run into the current
// period.
func BuildWindows(latest time.Time) Windows {
	latest = civil(latest)
	end := latest.AddDate(0, 0, 1)

	monthStart := time.Date(latest.Year(), latest.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevMonthStart := monthStart.AddDate(0, -1, 0)
	monthElapsed := daysBetween(monthStart, end)
	prevMonthEnd := prevMonthStart.AddDate(0, 0, monthElapsed)
	if prevMonthEnd.After(monthStart) {
		prevMonthEnd = monthStart
	}

	yearStart := time.Date(latest.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	prevYearStart := yearStart.AddDate(-1, 0, 0)
	yearElapsed := daysBetween(yearStart, end)
	prevYearEnd := prevYearStart.AddDate(0, 0, yearElapsed)
	if prevYearEnd.After(yearStart) {
		prevYearEnd = yearStart
	}

	return Windows{
		Latest:   latest,
		End:      end,
		Last7:    Window{Start: end.AddDate(0, 0, -7), End: end},
		Last30:   Window{Start: end.AddDate(0, 0, -30), End: end},
		Prior30:  Window{Start: end.AddDate(0, 0, -60), End: end.AddDate(0, 0, -30)},
		MTD:      Window{Start: monthStart, End: end},
		PriorMTD: Window{Start: prevMonthStart, End: prevMonthEnd},
		YTD:      Window{Start: yearStart, End: end},
		PriorYTD: Window{Start: prevYearStart, End: prevYearEnd},
		Trend:    Window{Start: end.AddDate(0, 0, -TrendDays), End: end},
	}
}

// civil truncates t to its calendar day, expressed in UTC
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// ParseDay reads the calendar day from a date or floating timestamp such
// as "2025-03-04T12:00:00.000"
func ParseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
