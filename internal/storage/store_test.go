package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/config"
	"darms/internal/model"
)

func sampleReport() model.Report {
	return model.Report{
		RunID:             "run-1",
		CreatedAt:         time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Mode:              "joint",
		Rule:              "linear",
		ZeroSum:           true,
		Seed:              42,
		Epsilon:           0.1,
		Beta:              0.01,
		Dimension:         18,
		TrainingSamples:   300,
		ValidationSamples: 1000,
		Variables:         20,
		Constraints:       400,
		Objective:         -1.5,
		ViolationRate:     0.02,
		Violations:        model.ViolationCounts{Throughput: 20},
		Categories: []model.CategoryResult{
			{Category: "low", Prior: 0.7, DefenderValue: -1, AdversaryPayoff: 1, BestResponse: model.AttackChoice{Flight: "UA100", Method: "gun"}},
			{Category: "high", Prior: 0.3, DefenderValue: -2.5, AdversaryPayoff: 2.5},
		},
		Coefficients: []model.Coefficient{
			{Kind: model.CoefficientIntercept, Window: 0, Flight: "UA100", Category: "low", Operation: "xray", Value: 1},
			{Kind: model.CoefficientSlope, Window: 1, Prior: 0, Flight: "UA100", Category: "low", Operation: "xray", Value: 0.001},
			{Kind: model.CoefficientOverflow, Window: 0, Resource: "xray", Value: 3},
		},
	}
}

func TestNewStoreDisabled(t *testing.T) {
	s, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteSaveReport(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "runs.db")
	s, err := NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	require.NoError(t, s.SaveReport(ctx, sampleReport()))

	db := s.(*sqliteStore).db
	var mode string
	var training int
	var rate float64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT mode, training_samples, violation_rate FROM runs WHERE run_id = ?`, "run-1").Scan(&mode, &training, &rate))
	assert.Equal(t, "joint", mode)
	assert.Equal(t, 300, training)
	assert.InDelta(t, 0.02, rate, 1e-12)

	var categories, coefficients int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM category_results WHERE run_id = ?`, "run-1").Scan(&categories))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coefficients WHERE run_id = ?`, "run-1").Scan(&coefficients))
	assert.Equal(t, 2, categories)
	assert.Equal(t, 3, coefficients)

	var slope float64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT value FROM coefficients WHERE run_id = ? AND kind = 'slope'`, "run-1").Scan(&slope))
	assert.InDelta(t, 0.001, slope, 1e-12)
}

func TestSQLiteRejectsDuplicateRun(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "dup.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.SaveReport(ctx, sampleReport()))
	assert.Error(t, s.SaveReport(ctx, sampleReport()))

	r := sampleReport()
	r.RunID = ""
	assert.Error(t, s.SaveReport(ctx, r))
}

func TestPostgresPlaceholders(t *testing.T) {
	s, err := NewPostgres("")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "$1, $2, $3", s.(*postgresStore).params(3))
}
