package store

import (
	"database/sql"
	"time"

	"github.com/lox/crimedash/internal/models"
)

// RecordQuery stores one upstream request. It satisfies socrata.Recorder.
func (s *Store) RecordQuery(run models.QueryRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var loadID sql.NullString
	if run.LoadID != "" {
		loadID = sql.NullString{String: run.LoadID, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO query_runs (load_id, started_at, dataset, kind, query, http_status, response_bytes, row_count, duration_ms, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, loadID, run.StartedAt.UTC(), run.Dataset, run.Kind, run.Query, run.HTTPStatus, run.Bytes,
		run.Rows, run.DurationMS, run.Success, run.Error)
	return err
}

// QueryHealthSummary is one day of upstream traffic for a dataset and query
// kind
type QueryHealthSummary struct {
	Date          string  `json:"date"`
	Dataset       string  `json:"dataset"`
	Kind          string  `json:"kind"`
	TotalRuns     int     `json:"totalRuns"`
	SuccessRuns   int     `json:"successRuns"`
	FailedRuns    int     `json:"failedRuns"`
	TotalRows     int64   `json:"totalRows"`
	TotalBytes    int64   `json:"totalBytes"`
	AvgDurationMS float64 `json:"avgDurationMs"`
}

// GetQueryHealth returns daily summaries for the last N days.
func (s *Store) GetQueryHealth(days int) ([]QueryHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			dataset,
			kind,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(row_count), 0) as total_rows,
			COALESCE(SUM(response_bytes), 0) as total_bytes,
			COALESCE(AVG(duration_ms), 0) as avg_duration
		FROM query_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, dataset, kind
		ORDER BY date DESC, dataset, kind
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryHealthSummary
	for rows.Next() {
		var h QueryHealthSummary
		if err := rows.Scan(&h.Date, &h.Dataset, &h.Kind, &h.TotalRuns, &h.SuccessRuns,
			&h.FailedRuns, &h.TotalRows, &h.TotalBytes, &h.AvgDurationMS); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

const queryRunColumns = `id, load_id, started_at, dataset, kind, query, http_status,
	response_bytes, row_count, duration_ms, success, error_message`

// scanQueryRun reads one row, reporting StartedAt in the store's zone
func (s *Store) scanQueryRun(sc interface{ Scan(...any) error }) (models.QueryRun, error) {
	var r models.QueryRun
	var loadID sql.NullString
	err := sc.Scan(&r.ID, &loadID, &r.StartedAt, &r.Dataset, &r.Kind, &r.Query, &r.HTTPStatus,
		&r.Bytes, &r.Rows, &r.DurationMS, &r.Success, &r.Error)
	r.LoadID = loadID.String
	r.StartedAt = r.StartedAt.In(s.loc)
	return r, err
}

// GetRecentQueryErrors returns recent failed requests, newest first.
func (s *Store) GetRecentQueryErrors(limit int) ([]models.QueryRun, error) {
	rows, err := s.db.Query(`
		SELECT `+queryRunColumns+`
		FROM query_runs
		WHERE success = FALSE
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.QueryRun
	for rows.Next() {
		r, err := s.scanQueryRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetLoadQueries returns every request made by one stats load
func (s *Store) GetLoadQueries(loadID string) ([]models.QueryRun, error) {
	rows, err := s.db.Query(`
		SELECT `+queryRunColumns+`
		FROM query_runs
		WHERE load_id = ?
		ORDER BY id
	`, loadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.QueryRun
	for rows.Next() {
		r, err := s.scanQueryRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldQueryRuns deletes query runs older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldQueryRuns(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM query_runs
		WHERE SUBSTR(started_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
