package scenario

import "fmt"

// Realization is one sampled passenger table indexed by (window, flight, category) positions.
type Realization struct {
	ID         int
	windows    int
	flights    int
	categories int
	counts     []int
}

func newRealization(id, windows, flights, categories int) *Realization {
	return &Realization{
		ID:         id,
		windows:    windows,
		flights:    flights,
		categories: categories,
		counts:     make([]int, windows*flights*categories),
	}
}

func (r *Realization) index(window, flight, category int) int {
	return (window*r.flights+flight)*r.categories + category
}

func (r *Realization) Count(window, flight, category int) int {
	return r.counts[r.index(window, flight, category)]
}

func (r *Realization) Passengers(window, flight, category int) float64 {
	return float64(r.Count(window, flight, category))
}

func (r *Realization) set(window, flight, category, n int) {
	r.counts[r.index(window, flight, category)] = n
}

// Mean is the element-wise average of a set of realizations.
type Mean struct {
	flights    int
	categories int
	values     []float64
}

func NewMean(samples []*Realization) *Mean {
	if len(samples) == 0 {
		return &Mean{}
	}
	first := samples[0]
	m := &Mean{flights: first.flights, categories: first.categories, values: make([]float64, len(first.counts))}
	for _, s := range samples {
		for i, n := range s.counts {
			m.values[i] += float64(n)
		}
	}
	for i := range m.values {
		m.values[i] /= float64(len(samples))
	}
	return m
}

func (m *Mean) Passengers(window, flight, category int) float64 {
	if len(m.values) == 0 {
		return 0
	}
	return m.values[(window*m.flights+flight)*m.categories+category]
}

// Pool owns every generated realization. The validation prefix and the
// training block never overlap.
type Pool struct {
	samples    []*Realization
	validation int
	training   int
}

func (p *Pool) Validation() []*Realization {
	return p.samples[:p.validation]
}

func (p *Pool) Training() []*Realization {
	return p.samples[p.validation : p.validation+p.training]
}

func (p *Pool) Len() int {
	return len(p.samples)
}

func (p *Pool) Realization(sample, window, flight, category int) (int, error) {
	if sample < 0 || sample >= len(p.samples) {
		return 0, fmt.Errorf("sample %d out of range [0,%d)", sample, len(p.samples))
	}
	return p.samples[sample].Count(window, flight, category), nil
}
