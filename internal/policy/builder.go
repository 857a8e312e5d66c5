package policy

import (
	"errors"
	"fmt"
	"strings"

	"darms/internal/lp"
	"darms/internal/model"
	"darms/internal/scenario"
)

type DecisionRule string

const (
	RuleConstant DecisionRule = "constant"
	RuleLinear   DecisionRule = "linear"
)

func ParseRule(s string) (DecisionRule, error) {
	switch DecisionRule(strings.ToLower(strings.TrimSpace(s))) {
	case RuleConstant:
		return RuleConstant, nil
	case RuleLinear, "":
		return RuleLinear, nil
	default:
		return "", fmt.Errorf("unknown decision rule %q", s)
	}
}

type Options struct {
	Rule     DecisionRule
	Overflow bool
	Fines    *scenario.Fines
}

// Observation exposes passenger counts by (window, flight, category) position.
type Observation interface {
	Passengers(window, flight, category int) float64
}

// Formulation is one model build: it owns its variables and rows and is
// discarded after the solve.
type Formulation struct {
	Model      *lp.Model
	problem    *model.Problem
	windows    []int
	opts       Options
	intercepts map[model.InterceptKey]lp.Var
	slopes     map[model.SlopeKey]lp.Var
	overflow   map[model.OverflowKey]lp.Var
	values     []lp.Var
}

// Build emits the screening policy program over the given window positions,
// which must be in ascending order.
func Build(p *model.Problem, training []*scenario.Realization, windows []int, opts Options) (*Formulation, error) {
	if len(windows) == 0 {
		return nil, errors.New("policy: no time windows to build")
	}
	if len(training) == 0 {
		return nil, errors.New("policy: at least one training scenario is required")
	}
	for i := 1; i < len(windows); i++ {
		if windows[i] <= windows[i-1] {
			return nil, fmt.Errorf("policy: windows not strictly increasing at position %d", i)
		}
	}
	if opts.Rule == "" {
		opts.Rule = RuleLinear
	}
	f := &Formulation{
		Model:      lp.NewModel(modelName(windows)),
		problem:    p,
		windows:    windows,
		opts:       opts,
		intercepts: make(map[model.InterceptKey]lp.Var),
		slopes:     make(map[model.SlopeKey]lp.Var),
		overflow:   make(map[model.OverflowKey]lp.Var),
	}
	f.addVariables()
	f.addNormalization()
	f.addBounding(training)
	f.addValueBounds(training)
	f.addThroughput(training)
	f.addObjective()
	return f, nil
}

func modelName(windows []int) string {
	if len(windows) == 1 {
		return fmt.Sprintf("darms_t%d", windows[0])
	}
	return "darms"
}

func (f *Formulation) Windows() []int {
	return f.windows
}

func (f *Formulation) linear() bool {
	return f.opts.Rule == RuleLinear
}

// scenarioDependent reports whether rows at window position pos reference
// realized counts through slope terms.
func (f *Formulation) scenarioDependent(pos int) bool {
	return f.linear() && pos > 0
}

func (f *Formulation) priors(pos int) []int {
	if !f.linear() {
		return nil
	}
	return f.windows[:pos]
}

func (f *Formulation) addVariables() {
	p := f.problem
	for pos, t := range f.windows {
		for fi, fl := range p.Flights {
			for ci, c := range p.Categories {
				for oi, o := range p.Operations {
					name := fmt.Sprintf("b_t%d_f%d_c%d_o%d", t, fl.ID, c.ID, o.ID)
					f.intercepts[model.InterceptKey{Window: t, Flight: fi, Category: ci, Operation: oi}] = f.Model.NewVar(name, lp.NegInf, lp.Inf)
				}
			}
		}
		for _, i := range f.priors(pos) {
			for fi, fl := range p.Flights {
				for ci, c := range p.Categories {
					for oi, o := range p.Operations {
						name := fmt.Sprintf("m_t%d_i%d_f%d_c%d_o%d", t, i, fl.ID, c.ID, o.ID)
						key := model.SlopeKey{Window: t, Prior: i, Flight: fi, Category: ci, Operation: oi}
						f.slopes[key] = f.Model.NewVar(name, lp.NegInf, lp.Inf)
					}
				}
			}
		}
		if f.opts.Overflow && pos < len(f.windows)-1 {
			for ri, r := range p.Resources {
				name := fmt.Sprintf("ov_t%d_r%d", t, r.ID)
				f.overflow[model.OverflowKey{Window: t, Resource: ri}] = f.Model.NewVar(name, 0, lp.Inf)
			}
		}
	}
	f.values = make([]lp.Var, len(p.Categories))
	for ci, c := range p.Categories {
		f.values[ci] = f.Model.NewVar(fmt.Sprintf("d_c%d", c.ID), lp.NegInf, lp.Inf)
	}
}

// ruleTerms appends scale*(intercept + sum_i slope_i*count_i) for one cell.
func (f *Formulation) ruleTerms(terms []lp.Term, pos, fi, ci, oi int, obs Observation, scale float64) []lp.Term {
	t := f.windows[pos]
	terms = append(terms, lp.Term{Var: f.intercepts[model.InterceptKey{Window: t, Flight: fi, Category: ci, Operation: oi}], Coef: scale})
	for _, i := range f.priors(pos) {
		n := obs.Passengers(i, fi, ci)
		if n == 0 {
			continue
		}
		key := model.SlopeKey{Window: t, Prior: i, Flight: fi, Category: ci, Operation: oi}
		terms = append(terms, lp.Term{Var: f.slopes[key], Coef: scale * n})
	}
	return terms
}

// scenarios returns the realizations rows at pos must be emitted for. Rows
// that do not reference realized counts are emitted once.
func (f *Formulation) scenarios(pos int, training []*scenario.Realization) []*scenario.Realization {
	if f.scenarioDependent(pos) {
		return training
	}
	return training[:1]
}

func (f *Formulation) suffix(pos int, xi *scenario.Realization) string {
	if f.scenarioDependent(pos) {
		return fmt.Sprintf("_xi%d", xi.ID)
	}
	return ""
}

func (f *Formulation) addNormalization() {
	p := f.problem
	for pos, t := range f.windows {
		for fi, fl := range p.Flights {
			for ci, c := range p.Categories {
				sum := make([]lp.Term, 0, len(p.Operations))
				for oi := range p.Operations {
					sum = append(sum, lp.Term{Var: f.intercepts[model.InterceptKey{Window: t, Flight: fi, Category: ci, Operation: oi}], Coef: 1})
				}
				f.Model.AddConstraint(fmt.Sprintf("BSUM1_t%d_f%d_c%d", t, fl.ID, c.ID), sum, lp.Equal, 1)
				for _, i := range f.priors(pos) {
					zero := make([]lp.Term, 0, len(p.Operations))
					for oi := range p.Operations {
						key := model.SlopeKey{Window: t, Prior: i, Flight: fi, Category: ci, Operation: oi}
						zero = append(zero, lp.Term{Var: f.slopes[key], Coef: 1})
					}
					f.Model.AddConstraint(fmt.Sprintf("MSUM0_t%d_i%d_f%d_c%d", t, i, fl.ID, c.ID), zero, lp.Equal, 0)
				}
			}
		}
	}
}

func (f *Formulation) addBounding(training []*scenario.Realization) {
	p := f.problem
	for pos, t := range f.windows {
		for _, xi := range f.scenarios(pos, training) {
			sfx := f.suffix(pos, xi)
			for fi, fl := range p.Flights {
				for ci, c := range p.Categories {
					for oi, o := range p.Operations {
						terms := f.ruleTerms(nil, pos, fi, ci, oi, xi, 1)
						cell := fmt.Sprintf("t%d_f%d_c%d_o%d%s", t, fl.ID, c.ID, o.ID, sfx)
						f.Model.AddConstraint("LE1_"+cell, terms, lp.LessEq, 1)
						f.Model.AddConstraint("GE0_"+cell, terms, lp.GreaterEq, 0)
					}
				}
			}
		}
	}
}

// addValueBounds keeps each category value below the defender payoff of
// every (flight, method) attack under every sampled realization.
func (f *Formulation) addValueBounds(training []*scenario.Realization) {
	p := f.problem
	for pos, t := range f.windows {
		for _, xi := range f.scenarios(pos, training) {
			sfx := f.suffix(pos, xi)
			for ci, c := range p.Categories {
				for fi, fl := range p.Flights {
					gap := fl.Payoffs.DefenderUncovered - fl.Payoffs.DefenderCovered
					for mi, m := range p.Methods {
						terms := []lp.Term{{Var: f.values[ci], Coef: 1}}
						for oi, o := range p.Operations {
							scale := gap * o.Effectiveness(ci, mi)
							if scale == 0 {
								continue
							}
							terms = f.ruleTerms(terms, pos, fi, ci, oi, xi, scale)
						}
						name := fmt.Sprintf("DEFCOV_t%d_c%d_f%d_m%d%s", t, c.ID, fl.ID, m.ID, sfx)
						f.Model.AddConstraint(name, terms, lp.LessEq, fl.Payoffs.DefenderUncovered)
					}
				}
			}
		}
	}
}

func (f *Formulation) addThroughput(training []*scenario.Realization) {
	p := f.problem
	for pos, t := range f.windows {
		for ri, r := range p.Resources {
			for _, xi := range training {
				var terms []lp.Term
				for fi := range p.Flights {
					for ci := range p.Categories {
						n := xi.Passengers(t, fi, ci)
						if n == 0 {
							continue
						}
						for oi, o := range p.Operations {
							if o.Uses(ri) {
								terms = f.ruleTerms(terms, pos, fi, ci, oi, xi, n)
							}
						}
					}
				}
				if f.opts.Overflow {
					if pos > 0 {
						terms = append(terms, lp.Term{Var: f.overflow[model.OverflowKey{Window: f.windows[pos-1], Resource: ri}], Coef: 1})
					}
					if pos < len(f.windows)-1 {
						terms = append(terms, lp.Term{Var: f.overflow[model.OverflowKey{Window: t, Resource: ri}], Coef: -1})
					}
				}
				name := fmt.Sprintf("THRU_t%d_r%d_xi%d", t, r.ID, xi.ID)
				f.Model.AddConstraint(name, terms, lp.LessEq, r.Throughput())
			}
		}
	}
}

func (f *Formulation) addObjective() {
	p := f.problem
	obj := make([]lp.Term, 0, len(p.Categories)+len(f.overflow))
	for ci, c := range p.Categories {
		obj = append(obj, lp.Term{Var: f.values[ci], Coef: c.Prior})
	}
	if f.opts.Overflow {
		for pos := 0; pos < len(f.windows)-1; pos++ {
			t := f.windows[pos]
			for ri := range p.Resources {
				fine := f.opts.Fines.At(t, ri)
				obj = append(obj, lp.Term{Var: f.overflow[model.OverflowKey{Window: t, Resource: ri}], Coef: -fine})
			}
		}
	}
	f.Model.Maximize(obj)
}

// Strategy reads every coefficient of a feasible solution.
func (f *Formulation) Strategy(sol *lp.Solution) *Strategy {
	s := &Strategy{
		Rule:       f.opts.Rule,
		Windows:    append([]int(nil), f.windows...),
		Intercepts: make(map[model.InterceptKey]float64, len(f.intercepts)),
		Slopes:     make(map[model.SlopeKey]float64, len(f.slopes)),
		Overflow:   make(map[model.OverflowKey]float64, len(f.overflow)),
		Values:     make([]float64, len(f.values)),
		Objective:  sol.Objective,
	}
	for k, v := range f.intercepts {
		s.Intercepts[k] = sol.Value(v)
	}
	for k, v := range f.slopes {
		s.Slopes[k] = sol.Value(v)
	}
	for k, v := range f.overflow {
		s.Overflow[k] = sol.Value(v)
	}
	for ci, v := range f.values {
		s.Values[ci] = sol.Value(v)
	}
	return s
}
