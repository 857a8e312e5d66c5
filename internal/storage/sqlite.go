package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:darms.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, placeholder: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			mode TEXT NOT NULL,
			rule TEXT NOT NULL,
			overflow INTEGER NOT NULL,
			zero_sum INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			epsilon REAL NOT NULL,
			beta REAL NOT NULL,
			dimension INTEGER NOT NULL,
			training_samples INTEGER NOT NULL,
			validation_samples INTEGER NOT NULL,
			variables INTEGER NOT NULL,
			constraints INTEGER NOT NULL,
			objective REAL NOT NULL,
			total_defender_utility REAL NOT NULL,
			violation_rate REAL NOT NULL,
			violations_json TEXT NOT NULL,
			solve_seconds REAL NOT NULL,
			note TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS category_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			category TEXT NOT NULL,
			prior REAL NOT NULL,
			defender_value REAL NOT NULL,
			adversary_payoff REAL NOT NULL,
			best_response_json TEXT NOT NULL,
			violation_rate REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_category_results_run ON category_results(run_id)`,
		`CREATE TABLE IF NOT EXISTS coefficients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			window_index INTEGER NOT NULL,
			prior_index INTEGER NOT NULL,
			flight TEXT,
			category TEXT,
			operation TEXT,
			resource TEXT,
			value REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coefficients_run ON coefficients(run_id, kind)`,
	})
}
