package store

import (
	"database/sql"
	"time"

	"github.com/lox/crimedash/internal/models"
)

// RecordDigest stores one scheduled stats refresh and returns its id
func (s *Store) RecordDigest(run models.DigestRun) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var loadID sql.NullString
	if run.LoadID != "" {
		loadID = sql.NullString{String: run.LoadID, Valid: true}
	}
	result, err := s.db.Exec(`
		INSERT INTO digest_runs (load_id, dataset, started_at, latest_day, summary, success, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, loadID, run.Dataset, run.StartedAt.UTC(), run.LatestDay, run.Summary, run.Success, run.Error, run.DurationMS)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) scanDigestRun(sc interface{ Scan(...any) error }) (models.DigestRun, error) {
	var r models.DigestRun
	var loadID sql.NullString
	err := sc.Scan(&r.ID, &loadID, &r.Dataset, &r.StartedAt, &r.LatestDay, &r.Summary, &r.Success, &r.Error, &r.DurationMS)
	r.LoadID = loadID.String
	r.StartedAt = r.StartedAt.In(s.loc)
	return r, err
}

// GetLatestDigest returns the most recent successful digest for a dataset,
// or nil when there is none.
func (s *Store) GetLatestDigest(dataset string) (*models.DigestRun, error) {
	row := s.db.QueryRow(`
		SELECT id, load_id, dataset, started_at, latest_day, summary, success, error_message, duration_ms
		FROM digest_runs
		WHERE dataset = ? AND success = TRUE
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, dataset)
	r, err := s.scanDigestRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetDigestRuns returns recent digests, newest first. An empty dataset
// returns every dataset.
func (s *Store) GetDigestRuns(dataset string, limit int) ([]models.DigestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, load_id, dataset, started_at, latest_day, summary, success, error_message, duration_ms
		FROM digest_runs
		WHERE ? = '' OR dataset = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, dataset, dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.DigestRun
	for rows.Next() {
		r, err := s.scanDigestRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
