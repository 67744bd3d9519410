package models

import (
	"database/sql"
	"time"
)

// Query kinds recorded in the audit log and metrics
const (
	KindRows       = "rows"
	KindMonthly    = "monthly"
	KindProbe      = "probe"
	KindRange      = "range"
	KindCount      = "count"
	KindGroup      = "group"
	KindDaily      = "daily"
	KindPoints     = "points"
	KindBoundaries = "boundaries"
)

// QueryRun is one upstream request, kept for auditing. No response data is
// stored, only its size and shape.
type QueryRun struct {
	ID         int64
	LoadID     string // groups the sub-queries of one stats load
	StartedAt  time.Time
	Dataset    string
	Kind       string
	Query      string
	HTTPStatus sql.NullInt64
	Bytes      sql.NullInt64
	Rows       sql.NullInt64
	DurationMS int64
	Success    bool
	Error      sql.NullString
}

// DigestRun is one scheduled stats refresh of a dataset
type DigestRun struct {
	ID         int64
	LoadID     string
	Dataset    string
	StartedAt  time.Time
	LatestDay  sql.NullString
	Summary    string // summary sentences joined by newlines
	Success    bool
	Error      sql.NullString
	DurationMS int64
}
