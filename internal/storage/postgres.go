package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/darms?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			mode TEXT NOT NULL,
			rule TEXT NOT NULL,
			overflow BOOLEAN NOT NULL,
			zero_sum BOOLEAN NOT NULL,
			seed BIGINT NOT NULL,
			epsilon DOUBLE PRECISION NOT NULL,
			beta DOUBLE PRECISION NOT NULL,
			dimension INTEGER NOT NULL,
			training_samples INTEGER NOT NULL,
			validation_samples INTEGER NOT NULL,
			variables INTEGER NOT NULL,
			constraints INTEGER NOT NULL,
			objective DOUBLE PRECISION NOT NULL,
			total_defender_utility DOUBLE PRECISION NOT NULL,
			violation_rate DOUBLE PRECISION NOT NULL,
			violations_json JSONB NOT NULL,
			solve_seconds DOUBLE PRECISION NOT NULL,
			note TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS category_results (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			category TEXT NOT NULL,
			prior DOUBLE PRECISION NOT NULL,
			defender_value DOUBLE PRECISION NOT NULL,
			adversary_payoff DOUBLE PRECISION NOT NULL,
			best_response_json JSONB NOT NULL,
			violation_rate DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_category_results_run ON category_results(run_id)`,
		`CREATE TABLE IF NOT EXISTS coefficients (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			kind TEXT NOT NULL,
			window_index INTEGER NOT NULL,
			prior_index INTEGER NOT NULL,
			flight TEXT,
			category TEXT,
			operation TEXT,
			resource TEXT,
			value DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coefficients_run ON coefficients(run_id, kind)`,
	})
}
