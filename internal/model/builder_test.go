package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() (*Builder, int, int, int) {
	b := NewBuilder()
	low := b.Category("low", 0.8)
	high := b.Category("high", 0.2)
	bomb := b.Method("bomb")
	eff := map[EffectivenessKey]float64{
		{Category: low, Method: bomb}:  0.5,
		{Category: high, Method: bomb}: 0.6,
	}
	xray := b.Resource("xray", 100, 2, eff)
	b.Operation(xray)
	b.Flight("UA1", Domestic, 480, Payoffs{DefenderCovered: 1, DefenderUncovered: -5, AttackerCovered: -1, AttackerUncovered: 5},
		map[int]int{low: 100, high: 10})
	b.Shift(360, 120, 60)
	return b, low, high, xray
}

func TestBuildOrdersAndIndexes(t *testing.T) {
	b, _, _, _ := testBuilder()
	p, err := b.Build()
	require.NoError(t, err)
	require.Len(t, p.Windows, 2)
	assert.Equal(t, 420, p.Windows[1].Start)
	assert.Equal(t, []int{100, 10}, p.Flights[0].Passengers)
	assert.Equal(t, 200.0, p.Resources[0].Throughput())
	assert.True(t, p.Flights[0].Payoffs.ZeroSum())
}

func TestRegistryIsPerProblem(t *testing.T) {
	first := NewBuilder()
	second := NewBuilder()
	assert.Equal(t, 1, first.Category("a", 1))
	assert.Equal(t, 2, first.Category("b", 0))
	assert.Equal(t, 1, second.Category("a", 1))
}

func TestNoisyOrEffectiveness(t *testing.T) {
	b := NewBuilder()
	c := b.Category("all", 1)
	m := b.Method("gun")
	r1 := b.Resource("xray", 10, 1, map[EffectivenessKey]float64{{Category: c, Method: m}: 0.5})
	r2 := b.Resource("patdown", 10, 1, map[EffectivenessKey]float64{{Category: c, Method: m}: 0.4})
	b.Operation(r2, r1)
	b.Flight("F", International, 600, Payoffs{}, map[int]int{c: 1})
	b.Shift(0, 60, 60)
	p, err := b.Build()
	require.NoError(t, err)
	op := p.Operations[0]
	assert.InDelta(t, 1-0.5*0.6, op.Effectiveness(0, 0), 1e-12)
	assert.Equal(t, "patdown/xray", op.Name)
	assert.Equal(t, []int{0, 1}, op.Resources)
	assert.True(t, op.Uses(1))
}

func TestBuildRejectsMissingEffectiveness(t *testing.T) {
	b, _, _, _ := testBuilder()
	b.Method("gun")
	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingData))
}

func TestBuildRejectsMissingPassengers(t *testing.T) {
	b, low, _, _ := testBuilder()
	b.Flight("UA2", Domestic, 500, Payoffs{}, map[int]int{low: 5})
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestBuildRejectsPriorsAndDivisibility(t *testing.T) {
	b, _, _, _ := testBuilder()
	b.Category("extra", 0.5)
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrInvalidInstance)

	b, _, _, _ = testBuilder()
	b.Shift(360, 100, 60)
	_, err = b.Build()
	assert.ErrorIs(t, err, ErrInvalidInstance)
}
