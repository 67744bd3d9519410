package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store is the audit log of upstream queries and scheduled digests
type Store struct {
	db  *sql.DB
	loc *time.Location
	log *zap.Logger
}

func New(db *sql.DB, loc *time.Location, log *zap.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, loc: loc, log: log}
}

// Open opens the sqlite database at path in WAL mode
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Ping checks the database is reachable
func (s *Store) Ping() error {
	return s.db.Ping()
}
