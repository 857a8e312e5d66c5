package engine

import (
	"context"
	"errors"
	"time"

	"gonum.org/v1/gonum/stat"

	"darms/internal/config"
	"darms/internal/model"
)

// TrialSummary aggregates repeated runs with independent seeds. The robust
// guarantee holds empirically when the fraction of runs whose violation rate
// exceeds epsilon stays within beta.
type TrialSummary struct {
	Runs            int       `json:"runs"`
	Infeasible      int       `json:"infeasible"`
	Rates           []float64 `json:"rates"`
	MeanRate        float64   `json:"mean_rate"`
	StdDevRate      float64   `json:"stddev_rate"`
	AboveEpsilon    int       `json:"above_epsilon"`
	FailureFraction float64   `json:"failure_fraction"`
	WithinBeta      bool      `json:"within_beta"`
	RunIDs          []string  `json:"run_ids"`
	// RunMetrics lists what the metrics store kept for the runs of these
	// trials, infeasible ones included, oldest first.
	RunMetrics []model.RunMetrics `json:"run_metrics,omitempty"`
}

// Trials executes the pipeline runs times with seeds cfg.Seed, cfg.Seed+1, ...
// Infeasible runs are counted and skipped; any other error stops the trials.
func (e *Engine) Trials(ctx context.Context, cfg *config.Config, runs int) (*TrialSummary, error) {
	if runs <= 0 {
		return nil, errors.New("trials: runs must be > 0")
	}
	sum := &TrialSummary{Runs: runs}
	start := time.Now().UTC()
	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trial := *cfg
		trial.Seed = cfg.Seed + uint64(i)
		report, err := e.Execute(ctx, &trial)
		if err != nil {
			var infeasible *InfeasibleError
			if errors.As(err, &infeasible) {
				sum.Infeasible++
				continue
			}
			return nil, err
		}
		sum.Rates = append(sum.Rates, report.ViolationRate)
		sum.RunIDs = append(sum.RunIDs, report.RunID)
		if report.ViolationRate > cfg.Robustness.Epsilon {
			sum.AboveEpsilon++
		}
	}
	if n := len(sum.Rates); n > 0 {
		sum.MeanRate = stat.Mean(sum.Rates, nil)
		if n > 1 {
			sum.StdDevRate = stat.StdDev(sum.Rates, nil)
		}
		sum.FailureFraction = float64(sum.AboveEpsilon) / float64(n)
		sum.WithinBeta = sum.FailureFraction <= cfg.Robustness.Beta
	}
	if e.metrics != nil {
		for _, m := range e.metrics.GetAll() {
			if !m.UpdatedAt.Before(start) {
				sum.RunMetrics = append(sum.RunMetrics, m)
			}
		}
	}
	if e.logger != nil {
		e.logger.Info("trials complete",
			"runs", runs,
			"infeasible", sum.Infeasible,
			"mean_rate", sum.MeanRate,
			"above_epsilon", sum.AboveEpsilon,
			"within_beta", sum.WithinBeta,
		)
	}
	return sum, nil
}
