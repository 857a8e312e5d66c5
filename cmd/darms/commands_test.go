package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/config"
	"darms/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSampleSizeCommand(t *testing.T) {
	out, err := run(t, "samplesize", "--dimension", "1", "--epsilon", "0.1", "--beta", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "samples=44")
}

func TestConfigInitThenSolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "darms.yaml")
	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Scenario.Training = 6
	cfg.Scenario.Validation = 10
	cfg.LogLevel = "error"
	require.NoError(t, config.Save(path, cfg))

	out, err = run(t, "--config", path, "solve", "--mode", "decomposed", "--rule", "constant", "--seed", "9")
	require.NoError(t, err)
	var report model.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "decomposed", report.Mode)
	assert.Equal(t, "constant", report.Rule)
	assert.Equal(t, uint64(9), report.Seed)
	assert.NotEmpty(t, report.Note)
}

func TestSolveRejectsUnknownMode(t *testing.T) {
	_, err := run(t, "solve", "--mode", "greedy")
	assert.Error(t, err)
}

func TestSolveRejectsUnknownSolver(t *testing.T) {
	_, err := run(t, "solve", "--solver", "interior")
	assert.Error(t, err)
}
