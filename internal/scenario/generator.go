package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"darms/internal/model"
)

const (
	DefaultArrivalMean   = -190
	DefaultArrivalStdDev = 50
)

// Arrival is the arrival-time model in minutes relative to departure.
type Arrival struct {
	Mean   float64
	StdDev float64
}

type Generator struct {
	Seed        uint64
	Uncertainty int
	Domestic    Arrival
	Foreign     Arrival
	Logger      *slog.Logger
}

func NewGenerator(seed uint64, uncertainty int) *Generator {
	return &Generator{
		Seed:        seed,
		Uncertainty: uncertainty,
		Domestic:    Arrival{Mean: DefaultArrivalMean, StdDev: DefaultArrivalStdDev},
		Foreign:     Arrival{Mean: DefaultArrivalMean, StdDev: DefaultArrivalStdDev},
	}
}

// Generate draws validation+training+1 samples. The first validation samples
// are held out, the next training samples feed the model and the trailing
// draw is discarded.
func (g *Generator) Generate(p *model.Problem, training, validation int) (*Pool, error) {
	if training < 0 || validation < 0 {
		return nil, errors.New("sample counts must be >= 0")
	}
	if g.Uncertainty < 0 {
		return nil, errors.New("uncertainty must be >= 0")
	}
	for _, a := range []Arrival{g.Domestic, g.Foreign} {
		if a.StdDev-float64(g.Uncertainty) <= 0 {
			return nil, fmt.Errorf("uncertainty %d must be smaller than arrival stddev %g", g.Uncertainty, a.StdDev)
		}
	}
	total := training + validation + 1
	windows, flights, categories := len(p.Windows), len(p.Flights), len(p.Categories)
	samples := make([]*Realization, total)
	for i := range samples {
		samples[i] = newRealization(i, windows, flights, categories)
	}

	rng := rand.New(rand.NewPCG(g.Seed, g.Seed))
	for fi, f := range p.Flights {
		for s := 0; s < total; s++ {
			for ci := range p.Categories {
				dom := g.jitter(rng, g.Domestic)
				foreign := g.jitter(rng, g.Foreign)
				dist := dom
				if f.Type == model.International {
					dist = foreign
				}
				counts := distribute(f.Passengers[ci], windowProbabilities(dist, p.Windows, p.Granularity, f.Departure))
				for t, n := range counts {
					samples[s].set(t, fi, ci, n)
				}
			}
		}
	}
	if g.Logger != nil {
		g.Logger.Info("scenarios generated",
			"seed", g.Seed,
			"training", training,
			"validation", validation,
			"flights", flights,
			"windows", windows,
		)
	}
	return &Pool{samples: samples, validation: validation, training: training}, nil
}

func (g *Generator) jitter(rng *rand.Rand, a Arrival) distuv.Normal {
	mean := a.Mean + float64(rng.IntN(2*g.Uncertainty+1)-g.Uncertainty)
	sd := a.StdDev + float64(rng.IntN(2*g.Uncertainty+1)-g.Uncertainty)
	return distuv.Normal{Mu: mean, Sigma: sd}
}

// windowProbabilities returns the arrival mass per window; windows at or
// after departure get none and the last window before departure absorbs the
// upper tail.
func windowProbabilities(dist distuv.Normal, windows []model.TimeWindow, granularity, departure int) []float64 {
	probs := make([]float64, len(windows))
	active := make([]bool, len(windows))
	dep := float64(departure)
	if len(windows) == 1 {
		probs[0] = dist.CDF(float64(windows[0].Start+granularity) - dep)
		return probs
	}
	for t, w := range windows {
		start := float64(w.Start)
		switch {
		case t == 0:
			probs[t] = dist.CDF(float64(windows[1].Start) - dep)
		case w.Start < departure && t == len(windows)-1:
			probs[t] = 1 - dist.CDF(start-dep)
		case w.Start < departure && departure <= windows[t+1].Start:
			probs[t] = 1 - dist.CDF(start-dep)
		case w.Start < departure:
			probs[t] = dist.CDF(float64(windows[t+1].Start)-dep) - dist.CDF(start-dep)
		default:
			continue
		}
		active[t] = true
	}
	for t := range probs {
		if !active[t] {
			probs[t] = -1
		}
	}
	return probs
}

// distribute floors count*p per window and hands out the remaining passengers
// one at a time by descending fractional remainder until count is conserved.
// Windows with a negative probability receive nothing.
func distribute(count int, probs []float64) []int {
	out := make([]int, len(probs))
	type remainder struct {
		window int
		frac   float64
	}
	var rems []remainder
	assigned := 0
	for t, p := range probs {
		if p < 0 {
			continue
		}
		exact := float64(count) * p
		whole := math.Floor(exact)
		out[t] = int(whole)
		assigned += out[t]
		rems = append(rems, remainder{window: t, frac: exact - whole})
	}
	if len(rems) == 0 {
		return out
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := len(rems) - 1; assigned > count; i-- {
		if i < 0 {
			i = len(rems) - 1
		}
		if out[rems[i].window] > 0 {
			out[rems[i].window]--
			assigned--
		}
	}
	for i := 0; assigned < count; i = (i + 1) % len(rems) {
		out[rems[i].window]++
		assigned++
	}
	return out
}
