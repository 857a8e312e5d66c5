package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"darms/internal/model"
)

func testProblem(t *testing.T, duration int) *model.Problem {
	t.Helper()
	b := model.NewBuilder()
	low := b.Category("low", 0.6)
	high := b.Category("high", 0.4)
	m := b.Method("bomb")
	eff := map[model.EffectivenessKey]float64{{Category: low, Method: m}: 0.5, {Category: high, Method: m}: 0.5}
	xray := b.Resource("xray", 200, 1, eff)
	patdown := b.Resource("patdown", 50, 2, eff)
	b.Operation(xray)
	b.Operation(xray, patdown)
	b.Flight("D1", model.Domestic, 600, model.Payoffs{}, map[int]int{low: 137, high: 23})
	b.Flight("I1", model.International, 540, model.Payoffs{}, map[int]int{low: 251, high: 9})
	b.Flight("D0", model.Domestic, 300, model.Payoffs{}, map[int]int{low: 11, high: 0})
	b.Shift(360, duration, 60)
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func TestGenerateConservesPassengers(t *testing.T) {
	for _, duration := range []int{60, 240} {
		p := testProblem(t, duration)
		pool, err := NewGenerator(42, 10).Generate(p, 20, 15)
		require.NoError(t, err)
		require.Equal(t, 36, pool.Len())
		for s := 0; s < pool.Len(); s++ {
			for fi, f := range p.Flights {
				for ci := range p.Categories {
					sum := 0
					for w := range p.Windows {
						n, err := pool.Realization(s, w, fi, ci)
						require.NoError(t, err)
						require.GreaterOrEqual(t, n, 0)
						sum += n
					}
					assert.Equal(t, f.Passengers[ci], sum, "sample=%d flight=%s category=%d", s, f.Name, ci)
				}
			}
		}
	}
}

func TestGenerateNoArrivalsAtOrAfterDeparture(t *testing.T) {
	p := testProblem(t, 300)
	pool, err := NewGenerator(7, 5).Generate(p, 3, 2)
	require.NoError(t, err)
	// I1 departs at 540, windows start at 360, 420, 480, 540, 600.
	for _, r := range pool.Training() {
		assert.Zero(t, r.Count(3, 1, 0))
		assert.Zero(t, r.Count(4, 1, 0))
	}
}

func TestPoolsAreDisjointAndReproducible(t *testing.T) {
	p := testProblem(t, 240)
	a, err := NewGenerator(99, 20).Generate(p, 10, 5)
	require.NoError(t, err)
	b, err := NewGenerator(99, 20).Generate(p, 10, 5)
	require.NoError(t, err)

	ids := make(map[int]bool)
	for _, r := range a.Validation() {
		ids[r.ID] = true
	}
	for _, r := range a.Training() {
		assert.False(t, ids[r.ID], "realization %d in both pools", r.ID)
	}
	assert.Len(t, a.Validation(), 5)
	assert.Len(t, a.Training(), 10)
	for i, r := range a.Training() {
		assert.Equal(t, r.counts, b.Training()[i].counts)
	}
	_, err = a.Realization(a.Len(), 0, 0, 0)
	assert.Error(t, err)
}

func TestWindowProbabilities(t *testing.T) {
	dist := distuv.Normal{Mu: -190, Sigma: 50}
	windows := model.NewTimeWindows(360, 240, 60)
	probs := windowProbabilities(dist, windows, 60, 540)
	assert.InDelta(t, dist.CDF(420-540), probs[0], 1e-12)
	assert.InDelta(t, dist.CDF(480-540)-dist.CDF(420-540), probs[1], 1e-12)
	assert.InDelta(t, 1-dist.CDF(480-540), probs[2], 1e-12)
	assert.Equal(t, -1.0, probs[3])
	sum := probs[0] + probs[1] + probs[2]
	assert.InDelta(t, 1, sum, 1e-12)

	single := windowProbabilities(dist, windows[:1], 60, 540)
	assert.InDelta(t, dist.CDF(420-540), single[0], 1e-12)
}

func TestDistributeLargestRemainderFirst(t *testing.T) {
	out := distribute(10, []float64{0.34, 0.33, 0.33})
	assert.Equal(t, []int{4, 3, 3}, out)
	out = distribute(7, []float64{0.5, -1, 0.2})
	assert.Equal(t, 7, out[0]+out[2])
	assert.Zero(t, out[1])
	out = distribute(5, []float64{0.01})
	assert.Equal(t, []int{5}, out)
}

func TestUncertaintyMustStayBelowStdDev(t *testing.T) {
	p := testProblem(t, 60)
	_, err := NewGenerator(1, 50).Generate(p, 1, 1)
	assert.Error(t, err)
}

func TestMeanRealization(t *testing.T) {
	p := testProblem(t, 120)
	pool, err := NewGenerator(3, 0).Generate(p, 4, 0)
	require.NoError(t, err)
	mean := NewMean(pool.Training())
	first := pool.Training()[0]
	// Without uncertainty every sample is identical.
	assert.InDelta(t, first.Passengers(0, 0, 0), mean.Passengers(0, 0, 0), 1e-12)
}

func TestGenerateFines(t *testing.T) {
	p := testProblem(t, 120)
	f, err := GenerateFines(FineSpec{Distribution: FinesUniform, Min: 10, Max: 20, Trial: 1, Trials: 4}, p)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, f.At(1, 1), 1e-12)

	f, err = GenerateFines(FineSpec{Distribution: FinesTargeted, Min: 0, Max: 100, Trial: 2, Trials: 4, Target: "PATDOWN", Other: 10000}, p)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, f.At(0, 0))
	assert.InDelta(t, 50, f.At(0, 1), 1e-12)

	f, err = GenerateFines(FineSpec{Distribution: FinesRandom, Min: 5, Max: 6, Seed: 11, Overrides: map[string]float64{"xray": 1}}, p)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.At(1, 0))
	assert.GreaterOrEqual(t, f.At(1, 1), 5.0)
	assert.LessOrEqual(t, f.At(1, 1), 6.0)

	_, err = GenerateFines(FineSpec{Distribution: "gaussian"}, p)
	assert.Error(t, err)
}
