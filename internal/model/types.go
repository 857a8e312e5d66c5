package model

import (
	"sort"
	"strings"
)

type FlightType string

const (
	Domestic      FlightType = "DOMESTIC"
	International FlightType = "INTERNATIONAL"
)

type RiskCategory struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Prior float64 `json:"prior"`
}

type AttackMethod struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Payoffs struct {
	DefenderCovered   float64 `json:"defender_covered" yaml:"defender_covered"`
	DefenderUncovered float64 `json:"defender_uncovered" yaml:"defender_uncovered"`
	AttackerCovered   float64 `json:"attacker_covered" yaml:"attacker_covered"`
	AttackerUncovered float64 `json:"attacker_uncovered" yaml:"attacker_uncovered"`
}

func (p Payoffs) ZeroSum() bool {
	return p.DefenderCovered == -p.AttackerCovered && p.DefenderUncovered == -p.AttackerUncovered
}

type Flight struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Type      FlightType `json:"type"`
	Departure int        `json:"departure"`
	Payoffs   Payoffs    `json:"payoffs"`
	// Passengers is indexed by category position.
	Passengers []int `json:"passengers"`
}

type ScreeningResource struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Quantity int    `json:"quantity"`
	// Effectiveness is indexed by [category][method] position.
	Effectiveness [][]float64 `json:"effectiveness"`
}

func (r ScreeningResource) Throughput() float64 {
	return float64(r.Capacity * r.Quantity)
}

type ScreeningOperation struct {
	ID int `json:"id"`
	// Resources holds resource positions, ascending.
	Resources []int  `json:"resources"`
	Name      string `json:"name"`
	effect    [][]float64
}

func (o ScreeningOperation) Uses(resource int) bool {
	for _, r := range o.Resources {
		if r == resource {
			return true
		}
	}
	return false
}

func (o ScreeningOperation) Effectiveness(category, method int) float64 {
	return o.effect[category][method]
}

func combineEffectiveness(resources []ScreeningResource, category, method int) float64 {
	undetected := 1.0
	for _, r := range resources {
		undetected *= 1.0 - r.Effectiveness[category][method]
	}
	return 1.0 - undetected
}

func operationName(resources []ScreeningResource) string {
	names := make([]string, 0, len(resources))
	for _, r := range resources {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return strings.Join(names, "/")
}

type TimeWindow struct {
	Index int `json:"index"`
	Start int `json:"start"`
}

func NewTimeWindows(start, duration, granularity int) []TimeWindow {
	if granularity <= 0 || duration <= 0 {
		return nil
	}
	n := duration / granularity
	out := make([]TimeWindow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, TimeWindow{Index: i, Start: start + i*granularity})
	}
	return out
}

// Problem is immutable once built. Every slice is ordered by entity id and all
// positional keys index into these slices.
type Problem struct {
	Categories  []RiskCategory
	Methods     []AttackMethod
	Flights     []Flight
	Resources   []ScreeningResource
	Operations  []ScreeningOperation
	Windows     []TimeWindow
	Granularity int
}

func (p *Problem) WindowIndexes() []int {
	out := make([]int, len(p.Windows))
	for i := range p.Windows {
		out[i] = i
	}
	return out
}
