package policy

import (
	"sort"

	"darms/internal/model"
)

// Strategy is a solved affine screening rule. It is immutable after the
// solve except through Merge.
type Strategy struct {
	Rule       DecisionRule
	Windows    []int
	Intercepts map[model.InterceptKey]float64
	Slopes     map[model.SlopeKey]float64
	Overflow   map[model.OverflowKey]float64
	Values     []float64
	// ValuesByWindow holds the value rows each window was solved with when
	// windows come from separate programs. It is nil for a joint solve.
	ValuesByWindow map[int][]float64
	Objective      float64
}

// Probability evaluates the rule for (window, flight, category, operation)
// against the counts observed in earlier windows.
func (s *Strategy) Probability(obs Observation, t, f, c, o int) float64 {
	p := s.Intercepts[model.InterceptKey{Window: t, Flight: f, Category: c, Operation: o}]
	if len(s.Slopes) == 0 {
		return p
	}
	for _, i := range s.Windows {
		if i >= t {
			break
		}
		slope, ok := s.Slopes[model.SlopeKey{Window: t, Prior: i, Flight: f, Category: c, Operation: o}]
		if !ok || slope == 0 {
			continue
		}
		p += slope * obs.Passengers(i, f, c)
	}
	return p
}

func (s *Strategy) OverflowAt(t, r int) float64 {
	return s.Overflow[model.OverflowKey{Window: t, Resource: r}]
}

// ValueAt returns the defender value bounding category c in window t, and
// false when the strategy carries none.
func (s *Strategy) ValueAt(t, c int) (float64, bool) {
	if vals, ok := s.ValuesByWindow[t]; ok {
		if c < len(vals) {
			return vals[c], true
		}
		return 0, false
	}
	if c < len(s.Values) {
		return s.Values[c], true
	}
	return 0, false
}

// Restrict returns a view of the strategy covering a single window.
func (s *Strategy) Restrict(window int) *Strategy {
	out := &Strategy{
		Rule:       s.Rule,
		Windows:    []int{window},
		Intercepts: make(map[model.InterceptKey]float64),
		Slopes:     make(map[model.SlopeKey]float64),
		Overflow:   make(map[model.OverflowKey]float64),
		Values:     append([]float64(nil), s.Values...),
		Objective:  s.Objective,
	}
	if vals, ok := s.ValuesByWindow[window]; ok {
		out.Values = append([]float64(nil), vals...)
	}
	for k, v := range s.Intercepts {
		if k.Window == window {
			out.Intercepts[k] = v
		}
	}
	for k, v := range s.Overflow {
		if k.Window == window {
			out.Overflow[k] = v
		}
	}
	return out
}

// Merge adds the coefficients of other, which must cover different windows,
// and records the values of other under each of its windows.
func (s *Strategy) Merge(other *Strategy) {
	if s.Intercepts == nil {
		s.Intercepts = make(map[model.InterceptKey]float64)
	}
	if s.Slopes == nil {
		s.Slopes = make(map[model.SlopeKey]float64)
	}
	if s.Overflow == nil {
		s.Overflow = make(map[model.OverflowKey]float64)
	}
	for k, v := range other.Intercepts {
		s.Intercepts[k] = v
	}
	for k, v := range other.Slopes {
		s.Slopes[k] = v
	}
	for k, v := range other.Overflow {
		s.Overflow[k] = v
	}
	seen := make(map[int]bool, len(s.Windows))
	for _, w := range s.Windows {
		seen[w] = true
	}
	if s.ValuesByWindow == nil {
		s.ValuesByWindow = make(map[int][]float64)
	}
	for _, w := range other.Windows {
		if !seen[w] {
			s.Windows = append(s.Windows, w)
		}
		s.ValuesByWindow[w] = append([]float64(nil), other.Values...)
	}
	sort.Ints(s.Windows)
	if len(s.Values) == 0 {
		s.Values = append([]float64(nil), other.Values...)
	}
}

// Coefficients flattens the strategy in window, flight, category, operation order.
func (s *Strategy) Coefficients(p *model.Problem) []model.Coefficient {
	var out []model.Coefficient
	for _, t := range s.Windows {
		for fi, f := range p.Flights {
			for ci, c := range p.Categories {
				for oi, o := range p.Operations {
					if v, ok := s.Intercepts[model.InterceptKey{Window: t, Flight: fi, Category: ci, Operation: oi}]; ok {
						out = append(out, model.Coefficient{Kind: model.CoefficientIntercept, Window: t, Flight: f.Name, Category: c.Name, Operation: o.Name, Value: v})
					}
					for _, i := range s.Windows {
						if i >= t {
							break
						}
						if v, ok := s.Slopes[model.SlopeKey{Window: t, Prior: i, Flight: fi, Category: ci, Operation: oi}]; ok {
							out = append(out, model.Coefficient{Kind: model.CoefficientSlope, Window: t, Prior: i, Flight: f.Name, Category: c.Name, Operation: o.Name, Value: v})
						}
					}
				}
			}
		}
		for ri, r := range p.Resources {
			if v, ok := s.Overflow[model.OverflowKey{Window: t, Resource: ri}]; ok {
				out = append(out, model.Coefficient{Kind: model.CoefficientOverflow, Window: t, Resource: r.Name, Value: v})
			}
		}
	}
	return out
}
