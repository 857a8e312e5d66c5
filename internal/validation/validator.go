package validation

import (
	"log/slog"

	"darms/internal/model"
	"darms/internal/policy"
	"darms/internal/scenario"
)

const DefaultTolerance = 1e-6

type Result struct {
	Samples      int
	Violated     int
	Rate         float64
	Counts       model.ViolationCounts
	CategoryRate []float64
}

type Validator struct {
	Tolerance float64
	Log       *Log
	Logger    *slog.Logger
}

func NewValidator(tolerance float64, log *Log, logger *slog.Logger) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{Tolerance: tolerance, Log: log, Logger: logger}
}

// Validate replays the solved strategy against held-out realizations. A
// realization counts once however many rows it breaks.
func (v *Validator) Validate(p *model.Problem, s *policy.Strategy, held []*scenario.Realization) Result {
	res := Result{Samples: len(held), CategoryRate: make([]float64, len(p.Categories))}
	if len(held) == 0 {
		return res
	}
	categoryHits := make([]int, len(p.Categories))
	for _, xi := range held {
		valueHit := make([]bool, len(p.Categories))
		value := v.checkValue(p, s, xi, valueHit)
		bounding := v.checkBounding(p, s, xi)
		throughput := v.checkThroughput(p, s, xi)
		if value {
			res.Counts.Value++
		}
		if bounding {
			res.Counts.Bounding++
		}
		if throughput {
			res.Counts.Throughput++
		}
		for ci, hit := range valueHit {
			if hit {
				categoryHits[ci]++
			}
		}
		if value || bounding || throughput {
			res.Violated++
		}
	}
	res.Rate = float64(res.Violated) / float64(len(held))
	for ci, n := range categoryHits {
		res.CategoryRate[ci] = float64(n) / float64(len(held))
	}
	if v.Logger != nil {
		v.Logger.Info("out-of-sample validation",
			"samples", res.Samples,
			"violated", res.Violated,
			"rate", res.Rate,
			"value", res.Counts.Value,
			"bounding", res.Counts.Bounding,
			"throughput", res.Counts.Throughput,
		)
	}
	return res
}

func (v *Validator) record(viol Violation) {
	if v.Log != nil {
		v.Log.Add(viol)
	}
}

func (v *Validator) checkValue(p *model.Problem, s *policy.Strategy, xi *scenario.Realization, hit []bool) bool {
	violated := false
	for _, t := range s.Windows {
		for ci := range p.Categories {
			value, ok := s.ValueAt(t, ci)
			if !ok {
				continue
			}
			for fi, f := range p.Flights {
				gap := f.Payoffs.DefenderUncovered - f.Payoffs.DefenderCovered
				for mi := range p.Methods {
					lhs := value
					for oi, o := range p.Operations {
						lhs += gap * o.Effectiveness(ci, mi) * s.Probability(xi, t, fi, ci, oi)
					}
					if excess := lhs - f.Payoffs.DefenderUncovered; excess > v.Tolerance {
						violated = true
						hit[ci] = true
						v.record(Violation{Sample: xi.ID, Family: FamilyValue, Window: t, Flight: fi, Category: ci, Excess: excess})
					}
				}
			}
		}
	}
	return violated
}

func (v *Validator) checkBounding(p *model.Problem, s *policy.Strategy, xi *scenario.Realization) bool {
	violated := false
	for _, t := range s.Windows {
		for fi := range p.Flights {
			for ci := range p.Categories {
				sum := 0.0
				for oi := range p.Operations {
					q := s.Probability(xi, t, fi, ci, oi)
					sum += q
					excess := 0.0
					if q > 1 {
						excess = q - 1
					} else if q < 0 {
						excess = -q
					}
					if excess > v.Tolerance {
						violated = true
						v.record(Violation{Sample: xi.ID, Family: FamilyBounding, Window: t, Flight: fi, Category: ci, Excess: excess})
					}
				}
				if d := sum - 1; d > v.Tolerance || d < -v.Tolerance {
					violated = true
					if d < 0 {
						d = -d
					}
					v.record(Violation{Sample: xi.ID, Family: FamilyBounding, Window: t, Flight: fi, Category: ci, Excess: d})
				}
			}
		}
	}
	return violated
}

func (v *Validator) checkThroughput(p *model.Problem, s *policy.Strategy, xi *scenario.Realization) bool {
	violated := false
	for pos, t := range s.Windows {
		for ri, r := range p.Resources {
			load := 0.0
			for fi := range p.Flights {
				for ci := range p.Categories {
					n := xi.Passengers(t, fi, ci)
					if n == 0 {
						continue
					}
					for oi, o := range p.Operations {
						if o.Uses(ri) {
							load += s.Probability(xi, t, fi, ci, oi) * n
						}
					}
				}
			}
			if pos > 0 {
				load += s.OverflowAt(s.Windows[pos-1], ri)
			}
			load -= s.OverflowAt(t, ri)
			if excess := load - r.Throughput(); excess > v.Tolerance {
				violated = true
				v.record(Violation{Sample: xi.ID, Family: FamilyThroughput, Window: t, Resource: ri, Excess: excess})
			}
		}
	}
	return violated
}
