package lp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
	gonumlp "gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	DefaultTolerance = 1e-9
	zeroRowTolerance = 1e-9
)

// Simplex solves models with gonum's dense simplex after rewriting them in
// standard form: minimize c'y subject to Ay = b, y >= 0. Every inequality
// adds a slack column, so it only suits models of a few hundred rows.
type Simplex struct {
	Tolerance float64
	Logger    *slog.Logger
}

func NewSimplex(logger *slog.Logger) *Simplex {
	return &Simplex{Tolerance: DefaultTolerance, Logger: logger}
}

func (s *Simplex) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sf, status := standardize(m)
	if status != StatusOptimal {
		return &Solution{Status: status, Objective: math.NaN()}, nil
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	rows, cols := len(sf.b), len(sf.c)
	if s.Logger != nil {
		s.Logger.Debug("simplex start", "model", m.Name, "rows", rows, "cols", cols)
	}
	y := make([]float64, cols)
	if rows > 0 {
		if rows > cols {
			return nil, fmt.Errorf("simplex %s: %d equality rows exceed %d columns", m.Name, rows, cols)
		}
		A := mat.NewDense(rows, cols, sf.dense())
		type result struct {
			y   []float64
			err error
		}
		done := make(chan result, 1)
		go func() {
			_, opt, err := gonumlp.Simplex(sf.c, A, sf.b, tol, nil)
			done <- result{y: opt, err: err}
		}()
		var res result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-done:
		}
		opt, err := res.y, res.err
		switch {
		case errors.Is(err, gonumlp.ErrInfeasible):
			return &Solution{Status: StatusInfeasible, Objective: math.NaN()}, nil
		case errors.Is(err, gonumlp.ErrUnbounded):
			return &Solution{Status: StatusUnbounded, Objective: math.Inf(1)}, nil
		case err != nil:
			if s.Logger != nil {
				s.Logger.Warn("simplex stopped", "model", m.Name, "err", err)
			}
			return &Solution{Status: StatusNumerical, Objective: math.NaN()}, nil
		}
		y = opt
	}
	values := sf.recover(y)
	obj, _ := m.Objective()
	total := 0.0
	for _, t := range obj {
		total += t.Coef * values[t.Var]
	}
	return &Solution{Status: StatusOptimal, Objective: total, values: values}, nil
}

type column struct {
	index int
	sign  float64
}

type mapping struct {
	offset float64
	cols   []column
}

type standardForm struct {
	c     []float64
	b     []float64
	rows  []map[int]float64
	vars  []mapping
	remap []int
}

func (sf *standardForm) newColumn() int {
	sf.c = append(sf.c, 0)
	return len(sf.c) - 1
}

func standardize(m *Model) (*standardForm, Status) {
	sf := &standardForm{vars: make([]mapping, len(m.vars))}
	for j, v := range m.vars {
		lo, hi := v.Lower, v.Upper
		switch {
		case hi < lo:
			return nil, StatusInfeasible
		case !math.IsInf(lo, -1):
			y := sf.newColumn()
			sf.vars[j] = mapping{offset: lo, cols: []column{{index: y, sign: 1}}}
			if !math.IsInf(hi, 1) {
				slack := sf.newColumn()
				sf.rows = append(sf.rows, map[int]float64{y: 1, slack: 1})
				sf.b = append(sf.b, hi-lo)
			}
		case !math.IsInf(hi, 1):
			y := sf.newColumn()
			sf.vars[j] = mapping{offset: hi, cols: []column{{index: y, sign: -1}}}
		default:
			pos := sf.newColumn()
			neg := sf.newColumn()
			sf.vars[j] = mapping{cols: []column{{index: pos, sign: 1}, {index: neg, sign: -1}}}
		}
	}

	for _, con := range m.constraints {
		row := make(map[int]float64, len(con.Terms)+1)
		rhs := con.RHS
		for _, t := range con.Terms {
			mp := sf.vars[t.Var]
			rhs -= t.Coef * mp.offset
			for _, col := range mp.cols {
				row[col.index] += t.Coef * col.sign
			}
		}
		for k, v := range row {
			if v == 0 {
				delete(row, k)
			}
		}
		switch con.Sense {
		case LessEq:
			row[sf.newColumn()] = 1
		case GreaterEq:
			row[sf.newColumn()] = -1
		default:
			if len(row) == 0 {
				if math.Abs(rhs) > zeroRowTolerance {
					return nil, StatusInfeasible
				}
				continue
			}
		}
		sf.rows = append(sf.rows, row)
		sf.b = append(sf.b, rhs)
	}

	sign := 1.0
	obj, maximize := m.Objective()
	if maximize {
		sign = -1
	}
	for _, t := range obj {
		for _, col := range sf.vars[t.Var].cols {
			sf.c[col.index] += sign * t.Coef * col.sign
		}
	}

	used := make([]bool, len(sf.c))
	for _, row := range sf.rows {
		for k := range row {
			used[k] = true
		}
	}
	sf.remap = make([]int, len(sf.c))
	kept := make([]float64, 0, len(sf.c))
	for j, cost := range sf.c {
		if !used[j] {
			if cost < 0 {
				return nil, StatusUnbounded
			}
			sf.remap[j] = -1
			continue
		}
		sf.remap[j] = len(kept)
		kept = append(kept, cost)
	}
	sf.c = kept
	return sf, StatusOptimal
}

func (sf *standardForm) dense() []float64 {
	cols := len(sf.c)
	data := make([]float64, len(sf.rows)*cols)
	for i, row := range sf.rows {
		for k, v := range row {
			data[i*cols+sf.remap[k]] = v
		}
	}
	return data
}

func (sf *standardForm) recover(y []float64) []float64 {
	values := make([]float64, len(sf.vars))
	for j, mp := range sf.vars {
		x := mp.offset
		for _, col := range mp.cols {
			if idx := sf.remap[col.index]; idx >= 0 {
				x += col.sign * y[idx]
			}
		}
		values[j] = x
	}
	return values
}
