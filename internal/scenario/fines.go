package scenario

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"darms/internal/model"
)

type FineDistribution string

const (
	FinesRandom   FineDistribution = "random"
	FinesUniform  FineDistribution = "uniform"
	FinesTargeted FineDistribution = "targeted"
)

type FineSpec struct {
	Distribution FineDistribution
	Min          float64
	Max          float64
	Trial        int
	Trials       int
	Target       string
	Other        float64
	Overrides    map[string]float64
	Seed         uint64
}

// Fines holds the per-unit overflow penalty by (window, resource) position.
type Fines struct {
	resources int
	values    []float64
}

func (f *Fines) At(window, resource int) float64 {
	if f == nil || len(f.values) == 0 {
		return 0
	}
	return f.values[window*f.resources+resource]
}

func GenerateFines(spec FineSpec, p *model.Problem) (*Fines, error) {
	if spec.Max < spec.Min {
		return nil, fmt.Errorf("fines max %g < min %g", spec.Max, spec.Min)
	}
	f := &Fines{resources: len(p.Resources), values: make([]float64, len(p.Windows)*len(p.Resources))}
	spread := func() float64 {
		if spec.Trials <= 0 {
			return spec.Min
		}
		return float64(spec.Trial)*(spec.Max-spec.Min)/float64(spec.Trials) + spec.Min
	}
	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	for t := range p.Windows {
		for ri, r := range p.Resources {
			var v float64
			switch spec.Distribution {
			case FinesRandom, "":
				v = spec.Min + rng.Float64()*(spec.Max-spec.Min)
			case FinesUniform:
				v = spread()
			case FinesTargeted:
				if strings.EqualFold(r.Name, spec.Target) {
					v = spread()
				} else {
					v = spec.Other
				}
			default:
				return nil, fmt.Errorf("unknown fine distribution %q", spec.Distribution)
			}
			if o, ok := spec.Overrides[r.Name]; ok {
				v = o
			}
			f.values[t*f.resources+ri] = v
		}
	}
	return f, nil
}
