package engine

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/config"
	"darms/internal/lp"
	"darms/internal/metrics"
	"darms/internal/model"
	"darms/internal/policy"
	"darms/internal/response"
	"darms/internal/scenario"
	"darms/internal/storage"
	"darms/internal/validation"
)

var zeroSumPayoffs = model.Payoffs{DefenderCovered: 5, DefenderUncovered: -10, AttackerCovered: -5, AttackerUncovered: 10}

type instance struct {
	categories int
	windows    int
	capacity   int
	eff        float64
	payoffs    model.Payoffs
}

func buildInstance(t *testing.T, in instance) *model.Problem {
	t.Helper()
	b := model.NewBuilder()
	var cats []int
	if in.categories == 1 {
		cats = append(cats, b.Category("all", 1))
	} else {
		cats = append(cats, b.Category("low", 0.5), b.Category("high", 0.5))
	}
	methods := []int{b.Method("bomb"), b.Method("gun")}
	eff := map[model.EffectivenessKey]float64{}
	weak := map[model.EffectivenessKey]float64{}
	for _, c := range cats {
		for _, m := range methods {
			eff[model.EffectivenessKey{Category: c, Method: m}] = in.eff
			weak[model.EffectivenessKey{Category: c, Method: m}] = in.eff / 2
		}
	}
	xray := b.Resource("xray", in.capacity, 1, eff)
	b.Operation(xray)
	if in.windows > 1 {
		trace := b.Resource("trace", in.capacity, 1, weak)
		b.Operation(trace)
	}
	passengers := func(n int) map[int]int {
		out := map[int]int{}
		for _, c := range cats {
			out[c] = n
		}
		return out
	}
	b.Flight("AA10", model.Domestic, 600, in.payoffs, passengers(30))
	b.Flight("BA20", model.International, 630, in.payoffs, passengers(20))
	b.Shift(480, 60*in.windows, 60)
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func trainingPool(t *testing.T, p *model.Problem, n int) []*scenario.Realization {
	t.Helper()
	pool, err := scenario.NewGenerator(3, 0).Generate(p, n, 0)
	require.NoError(t, err)
	return pool.Training()
}

func newTestEngine() *Engine {
	return NewEngine(nil, nil, metrics.NewStore(10), metrics.NewCollectors(), nil, nil)
}

func TestPerfectScreeningCoversEveryone(t *testing.T) {
	p := buildInstance(t, instance{categories: 2, windows: 1, capacity: 1000, eff: 1, payoffs: zeroSumPayoffs})
	out, err := newTestEngine().Solve(context.Background(), p, trainingPool(t, p, 4), SolveOptions{
		Mode:    ModeJoint,
		Policy:  policy.Options{Rule: policy.RuleConstant},
		ZeroSum: true,
	})
	require.NoError(t, err)

	for k, v := range out.Strategy.Intercepts {
		assert.InDelta(t, 1, v, 1e-6, "intercept %+v", k)
	}
	for ci, cr := range out.Response.Categories {
		assert.InDelta(t, 5, cr.DefenderValue, 1e-6)
		assert.InDelta(t, -5, cr.AdversaryPayoff, 1e-6)
		assert.Equal(t, response.Attack{Window: 0, Flight: 0, Method: 0}, cr.BestResponse, "category %d", ci)
	}
	assert.InDelta(t, 5, out.Response.TotalDefenderUtility, 1e-6)
	require.Len(t, out.Scopes, 1)
	assert.Equal(t, StateSolved, out.Scopes[0].State)
	assert.Equal(t, "joint", out.Scopes[0].Scope())
}

func TestInsufficientCapacityIsInfeasible(t *testing.T) {
	p := buildInstance(t, instance{categories: 2, windows: 1, capacity: 10, eff: 1, payoffs: zeroSumPayoffs})
	train := trainingPool(t, p, 3)
	eng := newTestEngine()

	_, err := eng.Solve(context.Background(), p, train, SolveOptions{Mode: ModeJoint, Policy: policy.Options{Rule: policy.RuleConstant}})
	var infeasible *InfeasibleError
	require.True(t, errors.As(err, &infeasible))
	assert.Equal(t, "joint", infeasible.Scope)

	_, err = eng.Solve(context.Background(), p, train, SolveOptions{Mode: ModeDecomposed, Policy: policy.Options{Rule: policy.RuleConstant}})
	require.True(t, errors.As(err, &infeasible))
	assert.Equal(t, "window", infeasible.Scope)
	assert.Equal(t, 0, infeasible.Window)
	assert.Contains(t, err.Error(), "window 0")
}

func TestDecomposedNeverBeatsJoint(t *testing.T) {
	p := buildInstance(t, instance{categories: 1, windows: 2, capacity: 40, eff: 0.8, payoffs: zeroSumPayoffs})
	train := trainingPool(t, p, 5)
	eng := newTestEngine()
	ctx := context.Background()

	joint, err := eng.Solve(ctx, p, train, SolveOptions{Mode: ModeJoint, Policy: policy.Options{Rule: policy.RuleLinear}, ZeroSum: true})
	require.NoError(t, err)
	dec, err := eng.Solve(ctx, p, train, SolveOptions{Mode: ModeDecomposed, Policy: policy.Options{Rule: policy.RuleLinear}, ZeroSum: true})
	require.NoError(t, err)

	assert.LessOrEqual(t, dec.Response.Categories[0].DefenderValue, joint.Response.Categories[0].DefenderValue+1e-6)
	assert.Equal(t, DecomposedNote, dec.Note)
	assert.Empty(t, joint.Note)
	assert.Equal(t, []int{0, 1}, dec.Strategy.Windows)
	require.Len(t, dec.Scopes, 2)
	for _, s := range dec.Scopes {
		assert.Equal(t, StateSolved, s.State)
	}
	assert.Empty(t, dec.Strategy.Slopes)
}

func TestZeroSumIsCheckedBeforeBuild(t *testing.T) {
	payoffs := zeroSumPayoffs
	payoffs.AttackerUncovered = 8
	p := buildInstance(t, instance{categories: 2, windows: 1, capacity: 1000, eff: 1, payoffs: payoffs})
	_, err := newTestEngine().Solve(context.Background(), p, trainingPool(t, p, 2), SolveOptions{ZeroSum: true})
	assert.True(t, errors.Is(err, ErrNotZeroSum))
}

func TestNonZeroSumUsesBestResponseUtility(t *testing.T) {
	payoffs := model.Payoffs{DefenderCovered: 2, DefenderUncovered: -6, AttackerCovered: -1, AttackerUncovered: 4}
	p := buildInstance(t, instance{categories: 2, windows: 1, capacity: 1000, eff: 1, payoffs: payoffs})
	out, err := newTestEngine().Solve(context.Background(), p, trainingPool(t, p, 2), SolveOptions{Policy: policy.Options{Rule: policy.RuleConstant}})
	require.NoError(t, err)
	for _, cr := range out.Response.Categories {
		assert.InDelta(t, cr.BestUtility, cr.AdversaryPayoff, 1e-12)
		assert.InDelta(t, -1, cr.AdversaryPayoff, 1e-6)
	}
}

// overflowInstance has one flight of 100 passengers whose first window load
// exceeds the single resource.
func overflowInstance(t *testing.T, capacity int) *model.Problem {
	t.Helper()
	b := model.NewBuilder()
	all := b.Category("all", 1)
	bomb := b.Method("bomb")
	xray := b.Resource("xray", capacity, 1, map[model.EffectivenessKey]float64{{Category: all, Method: bomb}: 1})
	b.Operation(xray)
	b.Flight("AA10", model.Domestic, 720, zeroSumPayoffs, map[int]int{all: 100})
	b.Shift(480, 120, 60)
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestOverflowCarriesExcessLoad(t *testing.T) {
	const capacity = 55
	p := overflowInstance(t, capacity)
	pool, err := scenario.NewGenerator(3, 0).Generate(p, 4, 12)
	require.NoError(t, err)
	train := pool.Training()
	first, second := train[0].Count(0, 0, 0), train[0].Count(1, 0, 0)
	require.Greater(t, first, capacity)
	excess := float64(first - capacity)
	require.LessOrEqual(t, float64(second)+excess, float64(capacity))

	eng := newTestEngine()
	ctx := context.Background()
	_, err = eng.Solve(ctx, p, train, SolveOptions{Policy: policy.Options{Rule: policy.RuleConstant}, ZeroSum: true})
	var infeasible *InfeasibleError
	require.True(t, errors.As(err, &infeasible))

	fines, err := scenario.GenerateFines(scenario.FineSpec{Distribution: scenario.FinesUniform, Min: 2, Max: 2}, p)
	require.NoError(t, err)
	out, err := eng.Solve(ctx, p, train, SolveOptions{
		Policy:  policy.Options{Rule: policy.RuleConstant, Overflow: true, Fines: fines},
		ZeroSum: true,
	})
	require.NoError(t, err)
	s := out.Strategy
	assert.InDelta(t, excess, s.OverflowAt(0, 0), 1e-6)
	assert.InDelta(t, 5, s.Values[0], 1e-6)
	assert.InDelta(t, 5-2*excess, s.Objective, 1e-6)
	assert.InDelta(t, 5, out.Response.TotalDefenderUtility, 1e-6)

	held := pool.Validation()
	res := validation.NewValidator(1e-6, nil, nil).Validate(p, s, held)
	assert.Zero(t, res.Counts.Throughput)
	assert.Zero(t, res.Violated)

	s.Overflow = nil
	res = validation.NewValidator(1e-6, nil, nil).Validate(p, s, held)
	assert.Equal(t, len(held), res.Counts.Throughput)
}

func TestFinesLowerObjectiveOnly(t *testing.T) {
	p := overflowInstance(t, 55)
	train := trainingPool(t, p, 3)
	eng := newTestEngine()
	objective := func(fine float64) float64 {
		fines, err := scenario.GenerateFines(scenario.FineSpec{Distribution: scenario.FinesUniform, Min: fine, Max: fine}, p)
		require.NoError(t, err)
		out, err := eng.Solve(context.Background(), p, train, SolveOptions{
			Policy:  policy.Options{Rule: policy.RuleConstant, Overflow: true, Fines: fines},
			ZeroSum: true,
		})
		require.NoError(t, err)
		assert.InDelta(t, 5, out.Response.TotalDefenderUtility, 1e-6)
		return out.Strategy.Objective
	}
	free, cheap, dear := objective(0), objective(1), objective(4)
	assert.InDelta(t, 5, free, 1e-6)
	assert.Less(t, cheap, free)
	assert.Less(t, dear, cheap)
}

type numericalSolver struct{}

func (numericalSolver) Solve(context.Context, *lp.Model) (*lp.Solution, error) {
	return &lp.Solution{Status: lp.StatusNumerical}, nil
}

func TestExecuteRecordsNumericalFailure(t *testing.T) {
	ms := metrics.NewStore(10)
	eng := NewEngine(nil, nil, ms, nil, nil, nil)
	eng.solver = numericalSolver{}

	_, err := eng.Execute(context.Background(), smallConfig())
	require.ErrorIs(t, err, lp.ErrNumerical)
	var infeasible *InfeasibleError
	assert.False(t, errors.As(err, &infeasible))
	all := ms.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, metrics.StatusNumerical, all[0].Status)
}

func TestNewEngineFollowsSolveConfig(t *testing.T) {
	assert.IsType(t, &lp.Dual{}, NewEngine(nil, nil, nil, nil, nil, nil).solver)

	cfg := config.DefaultConfig()
	cfg.Solve.Solver = lp.SolverSimplex
	cfg.Solve.Tolerance = 1e-8
	cfg.Solve.ViolationLogLimit = 3
	eng := NewEngine(cfg, nil, nil, nil, nil, nil)
	require.IsType(t, &lp.Simplex{}, eng.solver)
	assert.Equal(t, 1e-8, eng.solver.(*lp.Simplex).Tolerance)

	for i := 0; i < 5; i++ {
		eng.Violations().Add(validation.Violation{Sample: i})
	}
	assert.Len(t, eng.Violations().List(0), 3)
}

func TestExecuteDefaultInstanceAtEstimatedSampleSize(t *testing.T) {
	if testing.Short() {
		t.Skip("solves the default instance at its full training size")
	}
	cfg := config.DefaultConfig()
	cfg.Scenario.Validation = 200
	p, err := cfg.Problem()
	require.NoError(t, err)
	rule, err := policy.ParseRule(cfg.Solve.Rule)
	require.NoError(t, err)
	_, n, err := SampleSize(cfg, p, rule)
	require.NoError(t, err)

	const budget = 2 * time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	start := time.Now()
	report, err := NewEngine(cfg, nil, metrics.NewStore(10), nil, nil, nil).Execute(ctx, cfg)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), budget)
	assert.Equal(t, n, report.TrainingSamples)
	assert.Equal(t, 200, report.ValidationSamples)
	assert.GreaterOrEqual(t, report.Constraints, n)
}

func TestStateTrackerTransitions(t *testing.T) {
	tr := newStateTracker(nil)
	tr.finish(0, StateSolved)
	tr.built(0, 3, 4)
	tr.finish(0, StateInfeasible)
	tr.built(0, 9, 9)
	tr.finish(0, StateSolved)
	tr.built(jointScope, 1, 1)
	tr.built(1, 2, 2)
	tr.finish(1, StateFailed)

	got := tr.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, StateFailed, got[2].State)
	assert.Equal(t, StateBuilt, got[0].State)
	assert.Equal(t, StateInfeasible, got[1].State)
	assert.Equal(t, 3, got[1].Variables)
	assert.Equal(t, "window 0", got[1].Scope())
}

type recordingPublisher struct {
	reports []model.Report
}

func (p *recordingPublisher) Publish(_ context.Context, r model.Report) error {
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func smallConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scenario.Training = 8
	cfg.Scenario.Validation = 40
	return cfg
}

func TestExecutePersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Init(ctx))
	pub := &recordingPublisher{}
	ms := metrics.NewStore(10)
	col := metrics.NewCollectors()
	eng := NewEngine(nil, nil, ms, col, store, pub)

	cfg := smallConfig()
	report, err := eng.Execute(ctx, cfg)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "joint", report.Mode)
	assert.Equal(t, "linear", report.Rule)
	assert.Equal(t, 8, report.TrainingSamples)
	assert.Equal(t, 40, report.ValidationSamples)
	assert.Equal(t, 26, report.Dimension)
	assert.Len(t, report.Categories, 2)
	assert.NotEmpty(t, report.Coefficients)
	assert.GreaterOrEqual(t, report.ViolationRate, 0.0)
	assert.LessOrEqual(t, report.ViolationRate, 1.0)

	require.Len(t, pub.reports, 1)
	assert.Equal(t, report.RunID, pub.reports[0].RunID)
	all := ms.GetAll()
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, metrics.StatusSolved, got.Status)
	assert.Equal(t, report.Constraints, got.Constraints)
}

func TestExecuteRecordsInfeasibleRun(t *testing.T) {
	cfg := smallConfig()
	cfg.Instance.Resources[0].Capacity = 1
	cfg.Instance.Resources[1].Capacity = 1
	ms := metrics.NewStore(10)
	eng := NewEngine(nil, nil, ms, nil, nil, nil)

	_, err := eng.Execute(context.Background(), cfg)
	var infeasible *InfeasibleError
	require.True(t, errors.As(err, &infeasible))
	all := ms.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, metrics.StatusInfeasible, all[0].Status)
}

func TestTrialsSummarisesRates(t *testing.T) {
	cfg := smallConfig()
	cfg.Scenario.Validation = 20
	sum, err := newTestEngine().Trials(context.Background(), cfg, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Runs)
	require.Len(t, sum.Rates, 3)
	above := 0
	for _, r := range sum.Rates {
		if r > cfg.Robustness.Epsilon {
			above++
		}
	}
	assert.Equal(t, above, sum.AboveEpsilon)
	assert.Equal(t, sum.FailureFraction <= cfg.Robustness.Beta, sum.WithinBeta)
	assert.Len(t, sum.RunIDs, 3)
	require.Len(t, sum.RunMetrics, 3)
	for i, m := range sum.RunMetrics {
		assert.Equal(t, metrics.StatusSolved, m.Status)
		assert.Equal(t, sum.RunIDs[i], m.RunID)
	}

	_, err = newTestEngine().Trials(context.Background(), cfg, 0)
	assert.Error(t, err)
}

func TestSampleSizeHonoursOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	p, err := cfg.Problem()
	require.NoError(t, err)

	dim, n, err := SampleSize(cfg, p, policy.RuleLinear)
	require.NoError(t, err)
	assert.Equal(t, 26, dim)
	assert.GreaterOrEqual(t, n, dim)

	dim, _, err = SampleSize(cfg, p, policy.RuleConstant)
	require.NoError(t, err)
	assert.Equal(t, 18, dim)

	cfg.Scenario.Training = 12
	_, n, err = SampleSize(cfg, p, policy.RuleLinear)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestExportLP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestEngine().ExportLP(smallConfig(), &buf))
	out := buf.String()
	assert.Contains(t, out, "Maximize")
	assert.Contains(t, out, "Subject To")
	assert.Contains(t, out, "THRU_t1_r")
}
