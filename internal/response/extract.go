package response

import (
	"math"

	"darms/internal/model"
	"darms/internal/policy"
)

type Attack struct {
	Window int
	Flight int
	Method int
}

type CategoryResponse struct {
	Category        int
	DefenderValue   float64
	AdversaryPayoff float64
	BestResponse    Attack
	BestUtility     float64
}

type Result struct {
	Categories           []CategoryResponse
	Coverage             map[model.CoverageKey]float64
	TotalDefenderUtility float64
}

// Coverage is the detection probability of method m for (window, flight,
// category): sum_o p(t,f,c,o)*eff(o,c,m), capped at 1.
func Coverage(p *model.Problem, s *policy.Strategy, obs policy.Observation, t, f, c, m int) float64 {
	total := 0.0
	for oi, o := range p.Operations {
		total += s.Probability(obs, t, f, c, oi) * o.Effectiveness(c, m)
	}
	return math.Min(total, 1.0)
}

// Extract computes coverage over the strategy's windows, the adversary best
// response per category and the resulting payoffs. Ties keep the first attack
// in flight, window, method order. With zeroSum the adversary payoff is the
// negated defender value, otherwise the best-response utility.
func Extract(p *model.Problem, s *policy.Strategy, obs policy.Observation, zeroSum bool) *Result {
	res := &Result{
		Categories: make([]CategoryResponse, len(p.Categories)),
		Coverage:   make(map[model.CoverageKey]float64),
	}
	for _, t := range s.Windows {
		for ci := range p.Categories {
			for fi := range p.Flights {
				for mi := range p.Methods {
					res.Coverage[model.CoverageKey{Window: t, Flight: fi, Category: ci, Method: mi}] = Coverage(p, s, obs, t, fi, ci, mi)
				}
			}
		}
	}
	for ci, c := range p.Categories {
		cr := CategoryResponse{Category: ci, BestUtility: math.Inf(-1)}
		if ci < len(s.Values) {
			cr.DefenderValue = s.Values[ci]
		}
		for fi, f := range p.Flights {
			for _, t := range s.Windows {
				for mi := range p.Methods {
					cov := res.Coverage[model.CoverageKey{Window: t, Flight: fi, Category: ci, Method: mi}]
					u := cov*f.Payoffs.AttackerCovered + (1-cov)*f.Payoffs.AttackerUncovered
					if u > cr.BestUtility {
						cr.BestUtility = u
						cr.BestResponse = Attack{Window: t, Flight: fi, Method: mi}
					}
				}
			}
		}
		if zeroSum {
			cr.AdversaryPayoff = -cr.DefenderValue
		} else {
			cr.AdversaryPayoff = cr.BestUtility
		}
		res.Categories[ci] = cr
		res.TotalDefenderUtility += c.Prior * cr.DefenderValue
	}
	return res
}

func (r *Result) Choice(p *model.Problem, ci int) model.AttackChoice {
	a := r.Categories[ci].BestResponse
	return model.AttackChoice{
		Window:      a.Window,
		WindowStart: p.Windows[a.Window].Start,
		Flight:      p.Flights[a.Flight].Name,
		Method:      p.Methods[a.Method].Name,
	}
}
