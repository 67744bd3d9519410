package stats

import (
	"time"

	"github.com/lox/crimedash/internal/normalize"
)

// DailyCount is one day bucket from a daily count query
type DailyCount struct {
	Day   time.Time
	Count int
}

// TrendPoint is one week of the trend
type TrendPoint struct {
	WeekStart string `json:"weekStart"`
	Label     string `json:"label"`
	Count     int    `json:"count"`
}

// ParseDailyCounts reads day/count rows, skipping rows whose day does not
// parse
func ParseDailyCounts(t *normalize.Table) []DailyCount {
	if t == nil {
		return nil
	}
	var out []DailyCount
	for _, r := range t.Rows {
		d, ok := ParseDay(t.Lookup(r, "day").String())
		if !ok {
			continue
		}
		out = append(out, DailyCount{Day: d, Count: toCount(t.Lookup(r, "count"))})
	}
	return out
}

// WeekStart returns the Monday on or before day
func WeekStart(day time.Time) time.Time {
	day = civil(day)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// BuildWeeklyTrend buckets daily counts into Monday-start weeks and returns
// exactly weeks points, the last being the week containing end - 1 day.
// Weeks without data are zero.
func BuildWeeklyTrend(daily []DailyCount, end time.Time, weeks int) []TrendPoint {
	if weeks <= 0 {
		return []TrendPoint{}
	}
	last := WeekStart(civil(end).AddDate(0, 0, -1))
	first := last.AddDate(0, 0, -7*(weeks-1))

	buckets := make(map[time.Time]int, weeks)
	for _, d := range daily {
		buckets[WeekStart(d.Day)] += d.Count
	}

	out := make([]TrendPoint, weeks)
	for i := range out {
		ws := first.AddDate(0, 0, 7*i)
		out[i] = TrendPoint{
			WeekStart: ws.Format("2006-01-02"),
			Label:     ws.Format("Jan 2"),
			Count:     buckets[ws],
		}
	}
	return out
}
