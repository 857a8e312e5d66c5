package lp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	SolverDual    = "dual"
	SolverSimplex = "simplex"
)

const (
	pivotTolerance       = 1e-9
	ratioTie             = 1e-12
	feasibilityTolerance = 1e-7
	residualTolerance    = 1e-6
)

var errPivotLimit = errors.New("pivot limit reached")

// NewSolver returns the LP backend named by kind. The dual tableau is the
// default; the gonum simplex suits small models only.
func NewSolver(kind string, tolerance float64, logger *slog.Logger) (Solver, error) {
	switch kind {
	case SolverDual, "":
		return NewDual(tolerance, logger), nil
	case SolverSimplex:
		s := NewSimplex(logger)
		if tolerance > 0 {
			s.Tolerance = tolerance
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown lp solver %q", kind)
	}
}

// Dual solves a model through its dual program on a dense tableau holding
// one row per variable and one column per inequality. Policy programs have a
// few dozen variables and one row block per training realization, so a pivot
// costs O(variables*rows). Primal values are the simplex multipliers of the
// final basis.
type Dual struct {
	Tolerance float64
	MaxPivots int
	Logger    *slog.Logger
}

func NewDual(tolerance float64, logger *slog.Logger) *Dual {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Dual{Tolerance: tolerance, Logger: logger}
}

func (d *Dual) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, status := inequalities(m)
	if status != StatusOptimal {
		return &Solution{Status: status, Objective: math.NaN()}, nil
	}
	cost := make([]float64, len(m.vars))
	obj, maximize := m.Objective()
	sign := 1.0
	if !maximize {
		sign = -1
	}
	for _, t := range obj {
		cost[t.Var] += sign * t.Coef
	}

	x, outcome, pivots, err := d.solveDual(ctx, rows, cost)
	if errors.Is(err, errPivotLimit) {
		return d.numerical(m, pivots, err), nil
	}
	if err != nil {
		return nil, err
	}
	switch outcome {
	case dualUnbounded:
		return d.finish(m, &Solution{Status: StatusInfeasible, Objective: math.NaN()}, len(rows), pivots), nil
	case dualInfeasible:
		// The primal is unbounded exactly when it has a feasible point.
		_, check, more, err := d.solveDual(ctx, rows, make([]float64, len(cost)))
		pivots += more
		if errors.Is(err, errPivotLimit) {
			return d.numerical(m, pivots, err), nil
		}
		if err != nil {
			return nil, err
		}
		if check == dualUnbounded {
			return d.finish(m, &Solution{Status: StatusInfeasible, Objective: math.NaN()}, len(rows), pivots), nil
		}
		unbounded := math.Inf(1)
		if !maximize {
			unbounded = math.Inf(-1)
		}
		return d.finish(m, &Solution{Status: StatusUnbounded, Objective: unbounded}, len(rows), pivots), nil
	}

	for _, r := range rows {
		if r.slack(x) < -residualTolerance*math.Max(1, math.Abs(r.rhs)) {
			return d.numerical(m, pivots, fmt.Errorf("recovered point misses a row by %g", -r.slack(x))), nil
		}
	}
	total := 0.0
	for _, t := range obj {
		total += t.Coef * x[t.Var]
	}
	return d.finish(m, &Solution{Status: StatusOptimal, Objective: total, values: x}, len(rows), pivots), nil
}

func (d *Dual) finish(m *Model, sol *Solution, rows, pivots int) *Solution {
	if d.Logger != nil {
		d.Logger.Debug("dual solve",
			"model", m.Name,
			"variables", len(m.vars),
			"rows", rows,
			"pivots", pivots,
			"status", sol.Status.String(),
		)
	}
	return sol
}

func (d *Dual) numerical(m *Model, pivots int, cause error) *Solution {
	if d.Logger != nil {
		d.Logger.Warn("dual solve stopped", "model", m.Name, "pivots", pivots, "err", cause)
	}
	return &Solution{Status: StatusNumerical, Objective: math.NaN()}
}

type dualOutcome int

const (
	dualOptimal dualOutcome = iota
	dualInfeasible
	dualUnbounded
)

// solveDual minimizes h'y subject to G'y = cost, y >= 0 for the rows g'x <= h
// and returns the multipliers of its equality rows.
func (d *Dual) solveDual(ctx context.Context, rows []inequality, cost []float64) ([]float64, dualOutcome, int, error) {
	nv, n := len(cost), len(rows)
	if nv == 0 {
		return nil, dualOptimal, 0, nil
	}
	tol := d.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	maxPivots := d.MaxPivots
	if maxPivots <= 0 {
		maxPivots = 50*(nv+n) + 1000
	}

	tb := newTableau(nv, n)
	signs := make([]float64, nv)
	scale := 0.0
	for i, c := range cost {
		signs[i] = 1
		if c < 0 {
			signs[i] = -1
		}
		scale += math.Abs(c)
		tb.t.Set(i, n+i, 1)
		tb.t.Set(i, tb.rhs, signs[i]*c)
		tb.basis[i] = n + i
	}
	for j, r := range rows {
		for k, v := range r.vars {
			tb.t.Set(v, j, signs[v]*r.coefs[k])
		}
	}

	// Phase one drives the artificial columns out of the objective.
	for i := 0; i < nv; i++ {
		row := tb.t.RawRowView(i)
		floats.AddScaled(tb.obj[:n], -1, row[:n])
		tb.obj[tb.rhs] -= row[tb.rhs]
	}
	if _, err := tb.run(ctx, n, tol, maxPivots); err != nil {
		return nil, dualOptimal, tb.pivots, err
	}
	if -tb.obj[tb.rhs] > feasibilityTolerance*math.Max(1, scale) {
		return nil, dualInfeasible, tb.pivots, nil
	}
	for i := 0; i < nv; i++ {
		if tb.basis[i] < n {
			continue
		}
		row := tb.t.RawRowView(i)
		best, at := pivotTolerance, -1
		for j := 0; j < n; j++ {
			if a := math.Abs(row[j]); a > best {
				best, at = a, j
			}
		}
		if at >= 0 {
			row[tb.rhs] = 0
			tb.pivot(i, at)
		}
	}

	// Phase two prices the structural columns at their row bounds.
	for j := range tb.obj {
		tb.obj[j] = 0
	}
	for j, r := range rows {
		tb.obj[j] = r.rhs
	}
	for i := 0; i < nv; i++ {
		if b := tb.basis[i]; b < n {
			floats.AddScaled(tb.obj, -rows[b].rhs, tb.t.RawRowView(i))
		}
	}
	bounded, err := tb.run(ctx, n, tol, maxPivots)
	if err != nil {
		return nil, dualOptimal, tb.pivots, err
	}
	if !bounded {
		return nil, dualUnbounded, tb.pivots, nil
	}
	x := make([]float64, nv)
	for i := range x {
		x[i] = -signs[i] * tb.obj[n+i]
	}
	return x, dualOptimal, tb.pivots, nil
}

type tableau struct {
	m      int
	t      *mat.Dense
	obj    []float64
	basis  []int
	rhs    int
	pivots int
}

func newTableau(vars, rows int) *tableau {
	cols := rows + vars + 1
	return &tableau{
		m:     vars,
		t:     mat.NewDense(vars, cols, nil),
		obj:   make([]float64, cols),
		basis: make([]int, vars),
		rhs:   cols - 1,
	}
}

// run pivots until no column below limit prices under -tol. It reports false
// when the entering column has no positive entry. Dantzig pricing switches to
// Bland's rule for good once a run of degenerate pivots exceeds the row count.
func (tb *tableau) run(ctx context.Context, limit int, tol float64, maxPivots int) (bool, error) {
	bland := false
	degenerate := 0
	for {
		enter := tb.entering(limit, tol, bland)
		if enter < 0 {
			return true, nil
		}
		leave, ratio := tb.leaving(enter)
		if leave < 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if tb.pivots >= maxPivots {
			return false, errPivotLimit
		}
		if ratio <= pivotTolerance {
			degenerate++
			if degenerate > tb.m {
				bland = true
			}
		} else {
			degenerate = 0
		}
		tb.pivot(leave, enter)
	}
}

func (tb *tableau) entering(limit int, tol float64, bland bool) int {
	enter, best := -1, -tol
	for j := 0; j < limit; j++ {
		r := tb.obj[j]
		if r >= best {
			continue
		}
		if bland {
			return j
		}
		enter, best = j, r
	}
	return enter
}

func (tb *tableau) leaving(enter int) (int, float64) {
	leave, best := -1, math.Inf(1)
	for i := 0; i < tb.m; i++ {
		row := tb.t.RawRowView(i)
		a := row[enter]
		if a <= pivotTolerance {
			continue
		}
		ratio := math.Max(row[tb.rhs], 0) / a
		switch {
		case ratio < best-ratioTie:
			leave, best = i, ratio
		case ratio <= best+ratioTie && tb.basis[i] < tb.basis[leave]:
			leave, best = i, math.Min(best, ratio)
		}
	}
	return leave, best
}

func (tb *tableau) pivot(r, c int) {
	pr := tb.t.RawRowView(r)
	floats.Scale(1/pr[c], pr)
	pr[c] = 1
	for i := 0; i < tb.m; i++ {
		if i == r {
			continue
		}
		row := tb.t.RawRowView(i)
		if f := row[c]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[c] = 0
		}
	}
	if f := tb.obj[c]; f != 0 {
		floats.AddScaled(tb.obj, -f, pr)
		tb.obj[c] = 0
	}
	tb.basis[r] = c
	tb.pivots++
}

// inequality is one row g'x <= h over free variables, scaled so that its
// largest coefficient has magnitude one.
type inequality struct {
	vars  []int
	coefs []float64
	rhs   float64
}

// inequalities rewrites the bounds and rows of m as g'x <= h. An equality
// becomes two opposite rows; rows without coefficients are checked and
// dropped.
func inequalities(m *Model) ([]inequality, Status) {
	var out []inequality
	for j, v := range m.vars {
		if v.Upper < v.Lower {
			return nil, StatusInfeasible
		}
		if !math.IsInf(v.Lower, -1) {
			out = append(out, inequality{vars: []int{j}, coefs: []float64{-1}, rhs: -v.Lower})
		}
		if !math.IsInf(v.Upper, 1) {
			out = append(out, inequality{vars: []int{j}, coefs: []float64{1}, rhs: v.Upper})
		}
	}
	for _, con := range m.constraints {
		merged := make(map[Var]float64, len(con.Terms))
		order := make([]Var, 0, len(con.Terms))
		for _, t := range con.Terms {
			if _, ok := merged[t.Var]; !ok {
				order = append(order, t.Var)
			}
			merged[t.Var] += t.Coef
		}
		row := inequality{rhs: con.RHS}
		for _, v := range order {
			if c := merged[v]; c != 0 {
				row.vars = append(row.vars, int(v))
				row.coefs = append(row.coefs, c)
			}
		}
		if len(row.vars) == 0 {
			if !emptyRowHolds(con.Sense, con.RHS) {
				return nil, StatusInfeasible
			}
			continue
		}
		switch con.Sense {
		case LessEq:
			out = append(out, row.scaled(1))
		case GreaterEq:
			out = append(out, row.scaled(-1))
		default:
			out = append(out, row.scaled(1), row.scaled(-1))
		}
	}
	return out, StatusOptimal
}

func emptyRowHolds(sense Sense, rhs float64) bool {
	switch sense {
	case LessEq:
		return rhs >= -zeroRowTolerance
	case GreaterEq:
		return rhs <= zeroRowTolerance
	default:
		return math.Abs(rhs) <= zeroRowTolerance
	}
}

func (r inequality) scaled(sign float64) inequality {
	largest := 0.0
	for _, c := range r.coefs {
		largest = math.Max(largest, math.Abs(c))
	}
	f := sign / largest
	out := inequality{vars: r.vars, coefs: make([]float64, len(r.coefs)), rhs: r.rhs * f}
	for i, c := range r.coefs {
		out.coefs[i] = c * f
	}
	return out
}

// slack returns h - g'x.
func (r inequality) slack(x []float64) float64 {
	s := r.rhs
	for i, v := range r.vars {
		s -= r.coefs[i] * x[v]
	}
	return s
}
