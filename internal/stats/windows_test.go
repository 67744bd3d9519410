package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/crimedash/internal/normalize"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertWindow(t *testing.T, w Window, start, end string) {
	t.Helper()
	assert.Equal(t, start, w.Start.Format("2006-01-02"), "start")
	assert.Equal(t, end, w.End.Format("2006-01-02"), "end")
}

func TestBuildWindows(t *testing.T) {
	w := BuildWindows(day("2025-03-15"))

	assertWindow(t, Window{w.Latest, w.End}, "2025-03-15", "2025-03-16")
	assertWindow(t, w.Last7, "2025-03-09", "2025-03-16")
	assertWindow(t, w.Last30, "2025-02-14", "2025-03-16")
	assertWindow(t, w.Prior30, "2025-01-15", "2025-02-14")
	assertWindow(t, w.MTD, "2025-03-01", "2025-03-16")
	assertWindow(t, w.PriorMTD, "2025-02-01", "2025-02-16")
	assertWindow(t, w.YTD, "2025-01-01", "2025-03-16")
	assertWindow(t, w.PriorYTD, "2024-01-01", "2024-03-15")
	assertWindow(t, w.Trend, "2024-09-15", "2025-03-16")

	assert.Equal(t, 7, w.Last7.Days())
	assert.Equal(t, 30, w.Last30.Days())
	assert.Equal(t, 30, w.Prior30.Days())
	assert.Equal(t, TrendDays, w.Trend.Days())
	assert.Equal(t, w.MTD.Days(), w.PriorMTD.Days())
	assert.Equal(t, w.YTD.Days(), w.PriorYTD.Days())
}

func TestBuildWindowsCapsPriorPeriods(t *testing.T) {
	tests := []struct {
		name     string
		latest   string
		priorMTD [2]string
		priorYTD [2]string
	}{
		{"long month into short", "2025-03-31", [2]string{"2025-02-01", "2025-03-01"}, [2]string{"2024-01-01", "2024-03-31"}},
		{"leap year end", "2024-12-31", [2]string{"2024-11-01", "2024-12-01"}, [2]string{"2023-01-01", "2024-01-01"}},
		{"first of month", "2025-05-01", [2]string{"2025-04-01", "2025-04-02"}, [2]string{"2024-01-01", "2024-05-01"}},
		{"new year", "2025-01-01", [2]string{"2024-12-01", "2024-12-02"}, [2]string{"2024-01-01", "2024-01-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := BuildWindows(day(tt.latest))
			assertWindow(t, w.PriorMTD, tt.priorMTD[0], tt.priorMTD[1])
			assertWindow(t, w.PriorYTD, tt.priorYTD[0], tt.priorYTD[1])
			assert.False(t, w.PriorMTD.End.After(w.MTD.Start))
			assert.False(t, w.PriorYTD.End.After(w.YTD.Start))
		})
	}
}

func TestBuildWindowsIgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	w := BuildWindows(time.Date(2025, 3, 15, 23, 30, 0, 0, loc))
	assert.Equal(t, "2025-03-16", w.End.Format("2006-01-02"))
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"2025-03-15T10:00:00.000", "2025-03-15", true},
		{"2025-03-15", "2025-03-15", true},
		{"2025-3-15", "", false},
		{"", "", false},
		{"yesterday", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDay(tt.in)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got.Format("2006-01-02"))
			}
		})
	}
}

func TestWeekStart(t *testing.T) {
	assert.Equal(t, "2025-03-10", WeekStart(day("2025-03-10")).Format("2006-01-02"))
	assert.Equal(t, "2025-03-10", WeekStart(day("2025-03-15")).Format("2006-01-02"))
	assert.Equal(t, "2025-03-10", WeekStart(day("2025-03-16")).Format("2006-01-02"))
	assert.Equal(t, "2025-03-17", WeekStart(day("2025-03-17")).Format("2006-01-02"))
}

func TestBuildWeeklyTrend(t *testing.T) {
	daily := []DailyCount{
		{Day: day("2025-03-10"), Count: 3},
		{Day: day("2025-03-15"), Count: 2},
		{Day: day("2025-03-09"), Count: 4},
		{Day: day("2024-09-16"), Count: 1},
		{Day: day("2024-01-01"), Count: 99},
	}
	trend := BuildWeeklyTrend(daily, day("2025-03-16"), TrendWeeks)

	require.Len(t, trend, TrendWeeks)
	assert.Equal(t, TrendPoint{WeekStart: "2024-09-16", Label: "Sep 16", Count: 1}, trend[0])
	assert.Equal(t, TrendPoint{WeekStart: "2025-03-03", Label: "Mar 3", Count: 4}, trend[24])
	assert.Equal(t, TrendPoint{WeekStart: "2025-03-10", Label: "Mar 10", Count: 5}, trend[25])

	total := 0
	for i, p := range trend {
		total += p.Count
		if i > 0 {
			prev := day(trend[i-1].WeekStart)
			assert.Equal(t, prev.AddDate(0, 0, 7).Format("2006-01-02"), p.WeekStart)
		}
	}
	assert.Equal(t, 10, total)
}

func TestBuildWeeklyTrendEndOnMonday(t *testing.T) {
	trend := BuildWeeklyTrend(nil, day("2025-03-17"), TrendWeeks)
	require.Len(t, trend, TrendWeeks)
	assert.Equal(t, "2025-03-10", trend[TrendWeeks-1].WeekStart)
	for _, p := range trend {
		assert.Zero(t, p.Count)
	}
}

func TestParseDailyCounts(t *testing.T) {
	table := normalize.Normalize([]byte(`[
		{"day":"2025-03-10T00:00:00.000","count":"3"},
		{"day":null,"count":"8"},
		{"day":"2025-03-11T00:00:00.000","count":"x"}
	]`))
	got := ParseDailyCounts(table)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, "2025-03-11", got[1].Day.Format("2006-01-02"))
	assert.Equal(t, 0, got[1].Count)

	assert.Nil(t, ParseDailyCounts(nil))
}
