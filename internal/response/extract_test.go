package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/model"
	"darms/internal/policy"
)

type flatObservation float64

func (o flatObservation) Passengers(window, flight, category int) float64 {
	return float64(o)
}

func twoFlightProblem(t *testing.T, payoffs model.Payoffs) *model.Problem {
	t.Helper()
	b := model.NewBuilder()
	low := b.Category("low", 0.25)
	high := b.Category("high", 0.75)
	bomb := b.Method("bomb")
	gun := b.Method("gun")
	eff := map[model.EffectivenessKey]float64{
		{Category: low, Method: bomb}:  1,
		{Category: low, Method: gun}:   1,
		{Category: high, Method: bomb}: 1,
		{Category: high, Method: gun}:  0.5,
	}
	r := b.Resource("xray", 500, 1, eff)
	b.Operation(r)
	b.Flight("F1", model.Domestic, 700, payoffs, map[int]int{low: 10, high: 10})
	b.Flight("F2", model.Domestic, 700, payoffs, map[int]int{low: 10, high: 10})
	b.Shift(480, 120, 60)
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func constantStrategy(p *model.Problem, values []float64, prob func(t, f, c int) float64) *policy.Strategy {
	s := &policy.Strategy{
		Rule:       policy.RuleConstant,
		Windows:    p.WindowIndexes(),
		Intercepts: make(map[model.InterceptKey]float64),
		Values:     values,
	}
	for _, t := range s.Windows {
		for fi := range p.Flights {
			for ci := range p.Categories {
				s.Intercepts[model.InterceptKey{Window: t, Flight: fi, Category: ci}] = prob(t, fi, ci)
			}
		}
	}
	return s
}

var zeroSum = model.Payoffs{DefenderCovered: 5, DefenderUncovered: -10, AttackerCovered: -5, AttackerUncovered: 10}

func TestFullCoverageTiesResolveToFirstAttack(t *testing.T) {
	p := twoFlightProblem(t, zeroSum)
	s := constantStrategy(p, []float64{5, 5}, func(int, int, int) float64 { return 1 })
	res := Extract(p, s, flatObservation(0), true)

	low := res.Categories[0]
	assert.Equal(t, Attack{Window: 0, Flight: 0, Method: 0}, low.BestResponse)
	assert.InDelta(t, -5, low.BestUtility, 1e-12)
	assert.InDelta(t, -5, low.AdversaryPayoff, 1e-12)
	assert.InDelta(t, 5, res.TotalDefenderUtility, 1e-12)

	// gun is only half detected for the high category.
	high := res.Categories[1]
	assert.Equal(t, Attack{Window: 0, Flight: 0, Method: 1}, high.BestResponse)
	assert.InDelta(t, 0.5*-5+0.5*10, high.BestUtility, 1e-12)
}

func TestBestResponseTargetsWeakestCell(t *testing.T) {
	p := twoFlightProblem(t, zeroSum)
	s := constantStrategy(p, []float64{-1, -2}, func(tw, f, c int) float64 {
		if tw == 1 && f == 1 {
			return 0.4
		}
		return 1
	})
	res := Extract(p, s, flatObservation(0), false)
	low := res.Categories[0]
	assert.Equal(t, Attack{Window: 1, Flight: 1, Method: 0}, low.BestResponse)
	assert.InDelta(t, 0.4*-5+0.6*10, low.AdversaryPayoff, 1e-12)
	assert.InDelta(t, 0.25*-1+0.75*-2, res.TotalDefenderUtility, 1e-12)

	choice := res.Choice(p, 0)
	assert.Equal(t, "F2", choice.Flight)
	assert.Equal(t, 540, choice.WindowStart)
	assert.Equal(t, "bomb", choice.Method)
}

func TestCoverageIsCappedAndUsesSlopes(t *testing.T) {
	p := twoFlightProblem(t, zeroSum)
	s := constantStrategy(p, []float64{0, 0}, func(int, int, int) float64 { return 1.2 })
	assert.Equal(t, 1.0, Coverage(p, s, flatObservation(0), 0, 0, 0, 0))

	s = constantStrategy(p, []float64{0, 0}, func(int, int, int) float64 { return 0.5 })
	s.Rule = policy.RuleLinear
	s.Slopes = map[model.SlopeKey]float64{{Window: 1, Prior: 0}: 0.01}
	assert.InDelta(t, 0.5+0.01*20, Coverage(p, s, flatObservation(20), 1, 0, 0, 0), 1e-12)
	assert.InDelta(t, 0.5, Coverage(p, s, flatObservation(20), 0, 0, 0, 0), 1e-12)
}
