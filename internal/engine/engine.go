package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"darms/internal/config"
	"darms/internal/lp"
	"darms/internal/metrics"
	"darms/internal/model"
	"darms/internal/policy"
	"darms/internal/publish"
	"darms/internal/response"
	"darms/internal/scenario"
	"darms/internal/storage"
	"darms/internal/validation"
)

type Mode string

const (
	ModeJoint      Mode = "joint"
	ModeDecomposed Mode = "decomposed"
)

const DecomposedNote = "decomposed: windows solved independently and merged per category by the higher adversary payoff; the result is not globally optimal"

var ErrNotZeroSum = errors.New("payoffs are not zero-sum")

// InfeasibleError reports that no coverage assignment satisfies the
// throughput and bounding rows of a scope. Window is only set for the
// window scope.
type InfeasibleError struct {
	Scope  string
	Window int
}

func (e *InfeasibleError) Error() string {
	if e.Scope == "window" {
		return fmt.Sprintf("policy program infeasible for window %d", e.Window)
	}
	return "policy program infeasible for the joint horizon"
}

type SolveOptions struct {
	Mode    Mode
	Policy  policy.Options
	ZeroSum bool
}

type Outcome struct {
	Mode        Mode
	Strategy    *policy.Strategy
	Response    *response.Result
	Variables   int
	Constraints int
	Duration    time.Duration
	Note        string
	Scopes      []ScopeState
}

type Engine struct {
	logger     *slog.Logger
	solver     lp.Solver
	metrics    *metrics.Store
	collectors *metrics.Collectors
	store      storage.Store
	publisher  publish.Publisher
	violations *validation.Log
}

// NewEngine wires the solve pipeline. The LP backend and the violation log
// follow cfg.Solve; a nil cfg means the defaults. Store and publisher may be
// nil.
func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, collectors *metrics.Collectors, store storage.Store, publisher publish.Publisher) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	solver, err := lp.NewSolver(cfg.Solve.Solver, cfg.Solve.Tolerance, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("falling back to the dual solver", "err", err)
		}
		solver = lp.NewDual(cfg.Solve.Tolerance, logger)
	}
	return &Engine{
		logger:     logger,
		solver:     solver,
		metrics:    metricsStore,
		collectors: collectors,
		store:      store,
		publisher:  publisher,
		violations: validation.NewLog(cfg.Solve.ViolationLogLimit),
	}
}

// Violations returns the log of the most recent out-of-sample violations.
func (e *Engine) Violations() *validation.Log {
	return e.violations
}

func checkZeroSum(p *model.Problem, zeroSum bool) error {
	if !zeroSum {
		return nil
	}
	for _, f := range p.Flights {
		if !f.Payoffs.ZeroSum() {
			return fmt.Errorf("%w: flight %s", ErrNotZeroSum, f.Name)
		}
	}
	return nil
}

// Solve runs the policy program over the training realizations in the
// requested mode. Coverage and best responses are evaluated at the mean
// training realization.
func (e *Engine) Solve(ctx context.Context, p *model.Problem, training []*scenario.Realization, opts SolveOptions) (*Outcome, error) {
	if err := checkZeroSum(p, opts.ZeroSum); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeJoint
	}
	tracker := newStateTracker(e.logger)
	start := time.Now()
	var (
		out *Outcome
		err error
	)
	switch opts.Mode {
	case ModeJoint:
		out, err = e.solveJoint(ctx, p, training, opts, tracker)
	case ModeDecomposed:
		out, err = e.solveDecomposed(ctx, p, training, opts, tracker)
	default:
		return nil, fmt.Errorf("unknown solve mode %q", opts.Mode)
	}
	if err != nil {
		return nil, err
	}
	out.Mode = opts.Mode
	out.Duration = time.Since(start)
	out.Scopes = tracker.snapshot()
	return out, nil
}

// solveScope builds and solves one formulation. A nil strategy with a nil
// error means the scope is infeasible.
func (e *Engine) solveScope(ctx context.Context, p *model.Problem, training []*scenario.Realization, windows []int, opts policy.Options, tracker *stateTracker, scope int) (*policy.Strategy, *lp.Model, error) {
	f, err := policy.Build(p, training, windows, opts)
	if err != nil {
		return nil, nil, err
	}
	tracker.built(scope, f.Model.NumVars(), f.Model.NumConstraints())
	sol, err := e.solver.Solve(ctx, f.Model)
	if err != nil {
		return nil, f.Model, err
	}
	switch sol.Status {
	case lp.StatusOptimal:
		tracker.finish(scope, StateSolved)
		return f.Strategy(sol), f.Model, nil
	case lp.StatusInfeasible:
		tracker.finish(scope, StateInfeasible)
		return nil, f.Model, nil
	case lp.StatusNumerical:
		tracker.finish(scope, StateFailed)
		return nil, f.Model, fmt.Errorf("policy program %s: %w", f.Model.Name, lp.ErrNumerical)
	default:
		tracker.finish(scope, StateFailed)
		return nil, f.Model, fmt.Errorf("policy program %s: solver returned %s", f.Model.Name, sol.Status)
	}
}

func (e *Engine) solveJoint(ctx context.Context, p *model.Problem, training []*scenario.Realization, opts SolveOptions, tracker *stateTracker) (*Outcome, error) {
	s, m, err := e.solveScope(ctx, p, training, p.WindowIndexes(), opts.Policy, tracker, jointScope)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &InfeasibleError{Scope: "joint"}
	}
	return &Outcome{
		Strategy:    s,
		Response:    response.Extract(p, s, scenario.NewMean(training), opts.ZeroSum),
		Variables:   m.NumVars(),
		Constraints: m.NumConstraints(),
	}, nil
}

// solveDecomposed solves every window on a fresh program without slopes or
// overflow. Per category the window that leaves the adversary strictly better
// off replaces the one kept so far, together with its value.
func (e *Engine) solveDecomposed(ctx context.Context, p *model.Problem, training []*scenario.Realization, opts SolveOptions, tracker *stateTracker) (*Outcome, error) {
	windowOpts := policy.Options{Rule: opts.Policy.Rule}
	mean := scenario.NewMean(training)
	merged := &policy.Strategy{Rule: windowOpts.Rule}
	result := &response.Result{
		Categories: make([]response.CategoryResponse, len(p.Categories)),
		Coverage:   make(map[model.CoverageKey]float64),
	}
	out := &Outcome{Strategy: merged, Response: result, Note: DecomposedNote}
	for pos, t := range p.WindowIndexes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, m, err := e.solveScope(ctx, p, training, []int{t}, windowOpts, tracker, t)
		if m != nil {
			out.Variables += m.NumVars()
			out.Constraints += m.NumConstraints()
		}
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, &InfeasibleError{Scope: "window", Window: t}
		}
		res := response.Extract(p, s, mean, opts.ZeroSum)
		merged.Merge(s)
		for k, v := range res.Coverage {
			result.Coverage[k] = v
		}
		for ci, cr := range res.Categories {
			if pos == 0 || cr.AdversaryPayoff > result.Categories[ci].AdversaryPayoff {
				result.Categories[ci] = cr
				merged.Values[ci] = s.Values[ci]
			}
		}
	}
	for ci, c := range p.Categories {
		result.TotalDefenderUtility += c.Prior * merged.Values[ci]
	}
	merged.Objective = result.TotalDefenderUtility
	return out, nil
}
