package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"darms/internal/config"
	"darms/internal/lp"
	"darms/internal/metrics"
	"darms/internal/model"
	"darms/internal/policy"
	"darms/internal/samplesize"
	"darms/internal/scenario"
	"darms/internal/validation"
)

// run is everything a solve needs once the configuration is resolved.
type run struct {
	problem   *model.Problem
	rule      policy.DecisionRule
	mode      Mode
	dimension int
	training  int
	pool      *scenario.Pool
	fines     *scenario.Fines
}

// SampleSize resolves the structural dimension and the training-pool size,
// honouring an explicit training count in the configuration.
func SampleSize(cfg *config.Config, p *model.Problem, rule policy.DecisionRule) (int, int, error) {
	dim := samplesize.Dimension(len(p.Flights), len(p.Categories), len(p.Windows), len(p.Operations), rule == policy.RuleLinear)
	if cfg.Scenario.Training > 0 {
		return dim, cfg.Scenario.Training, nil
	}
	n, err := samplesize.Estimate(cfg.Robustness.Epsilon, cfg.Robustness.Beta, dim, cfg.Robustness.MaxSamples)
	if err != nil {
		return dim, 0, fmt.Errorf("sample size for dimension %d: %w", dim, err)
	}
	return dim, n, nil
}

func (e *Engine) prepare(cfg *config.Config) (*run, error) {
	p, err := cfg.Problem()
	if err != nil {
		return nil, err
	}
	if err := checkZeroSum(p, cfg.Solve.ZeroSum); err != nil {
		return nil, err
	}
	rule, err := policy.ParseRule(cfg.Solve.Rule)
	if err != nil {
		return nil, err
	}
	mode := Mode(cfg.Solve.Mode)
	if mode == "" {
		mode = ModeJoint
	}
	dim, n, err := SampleSize(cfg, p, rule)
	if err != nil {
		return nil, err
	}
	gen := scenario.NewGenerator(cfg.Seed, cfg.Scenario.Uncertainty)
	gen.Domestic = scenario.Arrival{Mean: cfg.Scenario.Domestic.Mean, StdDev: cfg.Scenario.Domestic.StdDev}
	gen.Foreign = scenario.Arrival{Mean: cfg.Scenario.International.Mean, StdDev: cfg.Scenario.International.StdDev}
	gen.Logger = e.logger
	pool, err := gen.Generate(p, n, cfg.Scenario.Validation)
	if err != nil {
		return nil, err
	}
	r := &run{problem: p, rule: rule, mode: mode, dimension: dim, training: n, pool: pool}
	if cfg.Solve.Overflow {
		r.fines, err = scenario.GenerateFines(scenario.FineSpec{
			Distribution: scenario.FineDistribution(cfg.Fines.Distribution),
			Min:          cfg.Fines.Min,
			Max:          cfg.Fines.Max,
			Trial:        cfg.Fines.Trial,
			Trials:       cfg.Fines.Trials,
			Target:       cfg.Fines.Target,
			Other:        cfg.Fines.Other,
			Overrides:    cfg.Fines.Overrides,
			Seed:         cfg.Seed,
		}, p)
		if err != nil {
			return nil, err
		}
	}
	if e.logger != nil {
		e.logger.Info("scenario pool ready",
			"seed", cfg.Seed,
			"dimension", dim,
			"training", n,
			"validation", cfg.Scenario.Validation,
		)
	}
	return r, nil
}

func (r *run) policyOptions(cfg *config.Config) policy.Options {
	return policy.Options{Rule: r.rule, Overflow: cfg.Solve.Overflow, Fines: r.fines}
}

// Execute runs the whole pipeline for one seed: sample, solve, extract,
// validate, then persist, publish and record the report.
func (e *Engine) Execute(ctx context.Context, cfg *config.Config) (*model.Report, error) {
	runID := uuid.NewString()
	r, err := e.prepare(cfg)
	if err != nil {
		return nil, err
	}
	out, err := e.Solve(ctx, r.problem, r.pool.Training(), SolveOptions{
		Mode:    r.mode,
		Policy:  r.policyOptions(cfg),
		ZeroSum: cfg.Solve.ZeroSum,
	})
	if err != nil {
		var infeasible *InfeasibleError
		status := metrics.StatusFailed
		switch {
		case errors.As(err, &infeasible):
			status = metrics.StatusInfeasible
		case errors.Is(err, lp.ErrNumerical):
			status = metrics.StatusNumerical
		}
		e.record(model.RunMetrics{RunID: runID, Mode: string(r.mode), Status: status})
		if e.logger != nil {
			e.logger.Error("solve failed", "run_id", runID, "mode", r.mode, "err", err)
		}
		return nil, err
	}

	v := validation.NewValidator(cfg.Solve.ValidationTolerance, e.violations, e.logger)
	vres := v.Validate(r.problem, out.Strategy, r.pool.Validation())

	report := buildReport(runID, cfg, r, out, vres)
	if e.store != nil {
		if err := e.store.SaveReport(ctx, report); err != nil {
			return &report, fmt.Errorf("save report %s: %w", runID, err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, report); err != nil {
			return &report, fmt.Errorf("publish report %s: %w", runID, err)
		}
	}
	e.record(model.RunMetrics{
		RunID:         runID,
		Mode:          report.Mode,
		Status:        metrics.StatusSolved,
		Variables:     report.Variables,
		Constraints:   report.Constraints,
		ViolationRate: report.ViolationRate,
		SolveSeconds:  report.SolveSeconds,
	})
	if e.logger != nil {
		e.logger.Info("run complete",
			"run_id", runID,
			"mode", report.Mode,
			"objective", report.Objective,
			"total_defender_utility", report.TotalDefenderUtility,
			"violation_rate", report.ViolationRate,
			"solve_seconds", report.SolveSeconds,
		)
	}
	return &report, nil
}

func (e *Engine) record(m model.RunMetrics) {
	m.UpdatedAt = time.Now().UTC()
	if e.metrics != nil {
		e.metrics.Update(m)
	}
	if e.collectors != nil {
		e.collectors.Observe(m)
	}
}

// ExportLP writes the joint policy program of the configured instance in LP
// format without solving it.
func (e *Engine) ExportLP(cfg *config.Config, w io.Writer) error {
	r, err := e.prepare(cfg)
	if err != nil {
		return err
	}
	f, err := policy.Build(r.problem, r.pool.Training(), r.problem.WindowIndexes(), r.policyOptions(cfg))
	if err != nil {
		return err
	}
	return lp.WriteLP(w, f.Model)
}
