package lp

import (
	"context"
	"errors"
	"math"
)

type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	default:
		return "="
	}
}

type Var int

type Term struct {
	Var  Var
	Coef float64
}

type Variable struct {
	Name  string
	Lower float64
	Upper float64
}

type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

var (
	Inf    = math.Inf(1)
	NegInf = math.Inf(-1)
)

// Model is a linear program in the form the builders emit: bounded
// continuous variables, named linear rows and a linear objective.
type Model struct {
	Name        string
	vars        []Variable
	constraints []Constraint
	objective   []Term
	maximize    bool
}

func NewModel(name string) *Model {
	return &Model{Name: name}
}

func (m *Model) NewVar(name string, lower, upper float64) Var {
	m.vars = append(m.vars, Variable{Name: name, Lower: lower, Upper: upper})
	return Var(len(m.vars) - 1)
}

func (m *Model) AddConstraint(name string, terms []Term, sense Sense, rhs float64) {
	m.constraints = append(m.constraints, Constraint{Name: name, Terms: terms, Sense: sense, RHS: rhs})
}

func (m *Model) Maximize(terms []Term) {
	m.objective = terms
	m.maximize = true
}

func (m *Model) Minimize(terms []Term) {
	m.objective = terms
	m.maximize = false
}

func (m *Model) NumVars() int {
	return len(m.vars)
}

func (m *Model) NumConstraints() int {
	return len(m.constraints)
}

func (m *Model) Variable(v Var) Variable {
	return m.vars[v]
}

func (m *Model) Variables() []Variable {
	return m.vars
}

func (m *Model) Constraints() []Constraint {
	return m.constraints
}

func (m *Model) Objective() ([]Term, bool) {
	return m.objective, m.maximize
}

type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusNumerical
)

// ErrNumerical marks a solve that stopped on round-off or the pivot limit
// rather than on a proof of optimality, infeasibility or unboundedness.
var ErrNumerical = errors.New("lp: numerical failure")

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusNumerical:
		return "numerical"
	default:
		return "unknown"
	}
}

type Solution struct {
	Status    Status
	Objective float64
	values    []float64
}

func (s *Solution) Feasible() bool {
	return s != nil && s.Status == StatusOptimal
}

func (s *Solution) Value(v Var) float64 {
	if s == nil || int(v) >= len(s.values) {
		return 0
	}
	return s.values[v]
}

// Solver is the blocking solve boundary. Any implementation that returns a
// Solution with per-variable values can replace the built-in simplex.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}
