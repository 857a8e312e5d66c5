package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"darms/internal/config"
	"darms/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReport(ctx context.Context, report model.Report) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db          *sql.DB
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) params(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// SaveReport writes the run row, its category results and its coefficients
// in one transaction.
func (b *baseStore) SaveReport(ctx context.Context, r model.Report) error {
	if b.db == nil {
		return nil
	}
	if r.RunID == "" {
		return errors.New("report has no run id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, mode, rule, overflow, zero_sum, seed, epsilon, beta, dimension,
			training_samples, validation_samples, variables, constraints, objective, total_defender_utility,
			violation_rate, violations_json, solve_seconds, note)
		VALUES (`+b.params(20)+`)`,
		r.RunID,
		r.CreatedAt.UTC(),
		r.Mode,
		r.Rule,
		r.Overflow,
		r.ZeroSum,
		int64(r.Seed),
		r.Epsilon,
		r.Beta,
		r.Dimension,
		r.TrainingSamples,
		r.ValidationSamples,
		r.Variables,
		r.Constraints,
		r.Objective,
		r.TotalDefenderUtility,
		r.ViolationRate,
		encodeJSON(r.Violations),
		r.SolveSeconds,
		r.Note,
	); err != nil {
		_ = tx.Rollback()
		return err
	}

	catStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO category_results (run_id, category, prior, defender_value, adversary_payoff, best_response_json, violation_rate)
		VALUES (`+b.params(7)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer catStmt.Close()
	for _, c := range r.Categories {
		if _, err := catStmt.ExecContext(ctx,
			r.RunID,
			c.Category,
			c.Prior,
			c.DefenderValue,
			c.AdversaryPayoff,
			encodeJSON(c.BestResponse),
			c.ViolationRate,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	coefStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO coefficients (run_id, kind, window_index, prior_index, flight, category, operation, resource, value)
		VALUES (`+b.params(9)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer coefStmt.Close()
	for _, c := range r.Coefficients {
		if _, err := coefStmt.ExecContext(ctx,
			r.RunID,
			string(c.Kind),
			c.Window,
			c.Prior,
			c.Flight,
			c.Category,
			c.Operation,
			c.Resource,
			c.Value,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
