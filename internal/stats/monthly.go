package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lox/crimedash/internal/normalize"
)

// MonthLabels are the short month names used for comparison rows
var MonthLabels = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// MonthlyPoint is one parsed month bucket
type MonthlyPoint struct {
	Year       int
	MonthIndex int // 0-based
	Count      int
}

// ParseMonthlyRow reads a [month, count] array or an object with
// month_start/month/monthStart and count/total. Rows without a usable
// "YYYY-MM" month are rejected; a bad count reads as 0.
func ParseMonthlyRow(row normalize.Row) (MonthlyPoint, bool) {
	raw := row.Raw()
	var month, count gjson.Result
	switch {
	case raw.IsArray():
		arr := raw.Array()
		if len(arr) > 0 {
			month = arr[0]
		}
		if len(arr) > 1 {
			count = arr[1]
		}
	case raw.IsObject():
		month = firstPresent(row, "month_start", "month", "monthStart")
		count = firstPresent(row, "count", "total")
	default:
		return MonthlyPoint{}, false
	}

	text := month.String()
	if !month.Exists() || month.Type == gjson.Null || month.Type == gjson.False || text == "" || text == "0" {
		return MonthlyPoint{}, false
	}
	parts := strings.Split(text, "-")
	if len(parts) < 2 {
		return MonthlyPoint{}, false
	}
	year, ok := leadingInt(parts[0])
	if !ok {
		return MonthlyPoint{}, false
	}
	m, ok := leadingInt(parts[1])
	if !ok {
		return MonthlyPoint{}, false
	}
	return MonthlyPoint{Year: year, MonthIndex: m - 1, Count: toCount(count)}, true
}

func firstPresent(row normalize.Row, names ...string) gjson.Result {
	for _, n := range names {
		if v := row.Field(n); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// leadingInt parses the integer prefix of s, ignoring leading whitespace
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// toCount reads a numeric or numeric-string value, defaulting to 0
func toCount(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return 0
		}
		return int(v.Num)
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int(f)
	case gjson.True:
		return 1
	}
	return 0
}

// MonthlyRow is one month of the year-over-year comparison
type MonthlyRow struct {
	Month   string
	Base    int
	Compare int
	Change  int
	IsTotal bool

	baseYear    int
	compareYear int
}

// MarshalJSON keys the counts by year, e.g. count2024/count2025
func (r MonthlyRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"month":%q,"count%d":%d,"count%d":%d,"change":%d`,
		r.Month, r.baseYear, r.Base, r.compareYear, r.Compare, r.Change)
	if r.IsTotal {
		buf.WriteString(`,"isTotal":true`)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MonthlyTotals sums both years
type MonthlyTotals struct {
	Base    int
	Compare int
	Change  int

	baseYear    int
	compareYear int
}

func (t MonthlyTotals) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"total%d":%d,"total%d":%d,"change":%d}`,
		t.baseYear, t.Base, t.compareYear, t.Compare, t.Change)), nil
}

// MonthlyComparison is twelve month rows plus a totals row
type MonthlyComparison struct {
	BaseYear    int                `json:"baseYear"`
	CompareYear int                `json:"compareYear"`
	Columns     []normalize.Column `json:"columns"`
	Rows        []MonthlyRow       `json:"rows"`
	MaxCount    int                `json:"maxCount"`
	Totals      MonthlyTotals      `json:"totals"`
}

// BuildMonthlyComparison buckets month rows into the two comparison years.
// Rows for other years or invalid months are ignored; a repeated month
// replaces the earlier value.
func BuildMonthlyComparison(rows []normalize.Row, baseYear, compareYear int) *MonthlyComparison {
	var base, compare [12]int
	for _, r := range rows {
		p, ok := ParseMonthlyRow(r)
		if !ok || p.MonthIndex < 0 || p.MonthIndex >= 12 {
			continue
		}
		switch p.Year {
		case baseYear:
			base[p.MonthIndex] = p.Count
		case compareYear:
			compare[p.MonthIndex] = p.Count
		}
	}

	out := &MonthlyComparison{
		BaseYear:    baseYear,
		CompareYear: compareYear,
		Columns: []normalize.Column{
			{Label: "Month", Key: "month", Index: 0},
			{Label: strconv.Itoa(baseYear), Key: fmt.Sprintf("count%d", baseYear), Index: 1},
			{Label: strconv.Itoa(compareYear), Key: fmt.Sprintf("count%d", compareYear), Index: 2},
			{Label: "Change", Key: "change", Index: 3},
		},
	}

	totals := MonthlyTotals{baseYear: baseYear, compareYear: compareYear}
	for i, label := range MonthLabels {
		out.Rows = append(out.Rows, MonthlyRow{
			Month:       label,
			Base:        base[i],
			Compare:     compare[i],
			Change:      compare[i] - base[i],
			baseYear:    baseYear,
			compareYear: compareYear,
		})
		totals.Base += base[i]
		totals.Compare += compare[i]
		if base[i] > out.MaxCount {
			out.MaxCount = base[i]
		}
		if compare[i] > out.MaxCount {
			out.MaxCount = compare[i]
		}
	}
	totals.Change = totals.Compare - totals.Base
	out.Totals = totals
	out.Rows = append(out.Rows, MonthlyRow{
		Month:       "Total",
		Base:        totals.Base,
		Compare:     totals.Compare,
		Change:      totals.Change,
		IsTotal:     true,
		baseYear:    baseYear,
		compareYear: compareYear,
	})
	return out
}

// StatsLine is the one-line totals summary shown under the table
func (m *MonthlyComparison) StatsLine() string {
	return fmt.Sprintf("%d total: %d | %d total: %d | Change: %d",
		m.BaseYear, m.Totals.Base, m.CompareYear, m.Totals.Compare, m.Totals.Change)
}

// ChartRow is one month of the bar chart, widths in percent of MaxCount
type ChartRow struct {
	Month        string  `json:"month"`
	Base         int     `json:"base"`
	Compare      int     `json:"compare"`
	BaseWidth    float64 `json:"baseWidth"`
	CompareWidth float64 `json:"compareWidth"`
}

// NoChartData is shown instead of a chart when every month is zero
const NoChartData = "No chart data for this range."

// Chart returns the bar chart rows, or nil when there is nothing to draw
func (m *MonthlyComparison) Chart() []ChartRow {
	if m.MaxCount <= 0 {
		return nil
	}
	var out []ChartRow
	for _, r := range m.Rows {
		if r.IsTotal {
			continue
		}
		out = append(out, ChartRow{
			Month:        r.Month,
			Base:         r.Base,
			Compare:      r.Compare,
			BaseWidth:    float64(r.Base) / float64(m.MaxCount) * 100,
			CompareWidth: float64(r.Compare) / float64(m.MaxCount) * 100,
		})
	}
	return out
}

// Table returns the comparison as plain rows keyed like the columns, for
// generic table rendering
func (m *MonthlyComparison) Table() (*normalize.Table, error) {
	raw, err := json.Marshal(m.Rows)
	if err != nil {
		return nil, fmt.Errorf("encode monthly rows: %w", err)
	}
	t := normalize.Normalize(raw)
	t.Columns = m.Columns
	return t, nil
}
