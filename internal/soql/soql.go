// Package soql builds the SoQL query strings sent to Socrata endpoints.
// Builders never fail; bad numeric input falls back to defaults.
package soql

import (
	"fmt"
	"strings"
	"time"

	"github.com/lox/crimedash/internal/datasets"
)

const (
	// DefaultLimit is the row limit used when none (or a bad one) is given
	DefaultLimit = 200

	// DateLayout is the bound literal format. Bounds are always calendar
	// days, whatever the precision of the field.
	DateLayout = "2006-01-02"
)

// ParseLimit reads a leading integer the way a lenient form field would:
// surrounding whitespace and trailing junk are ignored. Anything missing,
// non-numeric or not positive yields DefaultLimit.
func ParseLimit(raw string) int {
	s := strings.TrimSpace(raw)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		if n > 1_000_000_000 {
			break
		}
		n = n*10 + int(r-'0')
		digits++
	}
	if digits == 0 || neg || n <= 0 {
		return DefaultLimit
	}
	return n
}

// RowQuery selects every column of the first limit rows
func RowQuery(limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return fmt.Sprintf("select * limit %d", limit)
}

// ProbeQuery fetches one row so the live column set can be inspected
func ProbeQuery() string {
	return RowQuery(1)
}

// MonthlyQuery counts rows per month over the dataset's comparison window.
// The cast expression is used in the projection, the raw field in the filter.
func MonthlyQuery(ds datasets.Dataset) string {
	return strings.Join([]string{
		fmt.Sprintf("select date_trunc_ym(%s) as month_start, count(*) as count", ds.DateExpr()),
		fmt.Sprintf("where %s >= '%s' and %s < '%s'", ds.DateField, ds.CompareStart, ds.DateField, ds.CompareEnd),
		"group by month_start",
		"order by month_start",
	}, " ")
}

// CountQuery counts rows with dateExpr in [start, end). A zero bound drops
// its clause.
func CountQuery(dateExpr string, start, end time.Time) string {
	q := "select count(*) as count"
	if where := rangeClause(dateExpr, start, end); where != "" {
		q += " where " + where
	}
	return q
}

// GroupCountQuery counts rows per value of field within [start, end),
// skipping null and empty values, largest first.
func GroupCountQuery(dateExpr string, start, end time.Time, field string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	conds := []string{}
	if where := rangeClause(dateExpr, start, end); where != "" {
		conds = append(conds, where)
	}
	conds = append(conds, fmt.Sprintf("%s is not null", field), fmt.Sprintf("%s != ''", field))
	return strings.Join([]string{
		fmt.Sprintf("select %s as label, count(*) as count", field),
		"where " + strings.Join(conds, " and "),
		"group by " + field,
		"order by count desc",
		fmt.Sprintf("limit %d", limit),
	}, " ")
}

// DailyCountQuery counts rows per calendar day within [start, end)
func DailyCountQuery(dateExpr string, start, end time.Time) string {
	q := fmt.Sprintf("select date_trunc_ymd(%s) as day, count(*) as count", dateExpr)
	if where := rangeClause(dateExpr, start, end); where != "" {
		q += " where " + where
	}
	return q + " group by day order by day limit 1000"
}

// MinMaxQuery returns the earliest and latest event dates
func MinMaxQuery(dateExpr string) string {
	return fmt.Sprintf("select min(%s) as min_date, max(%s) as max_date", dateExpr, dateExpr)
}

// PointsQuery selects the geo columns of rows within [start, end)
func PointsQuery(dateExpr string, start, end time.Time, fields []string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	conds := []string{}
	if where := rangeClause(dateExpr, start, end); where != "" {
		conds = append(conds, where)
	}
	if len(fields) > 0 {
		conds = append(conds, fmt.Sprintf("%s is not null", fields[0]))
	}
	q := "select " + strings.Join(fields, ", ")
	if len(fields) == 0 {
		q = "select *"
	}
	if len(conds) > 0 {
		q += " where " + strings.Join(conds, " and ")
	}
	return q + fmt.Sprintf(" limit %d", limit)
}

// FormatDate renders a bound literal
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func rangeClause(dateExpr string, start, end time.Time) string {
	var parts []string
	if !start.IsZero() {
		parts = append(parts, fmt.Sprintf("%s >= '%s'", dateExpr, FormatDate(start)))
	}
	if !end.IsZero() {
		parts = append(parts, fmt.Sprintf("%s < '%s'", dateExpr, FormatDate(end)))
	}
	return strings.Join(parts, " and ")
}
