package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrMissingData     = errors.New("missing input data")
	ErrInvalidInstance = errors.New("invalid instance")
)

const priorTolerance = 1e-6

type EffectivenessKey struct {
	Category int
	Method   int
}

type flightInput struct {
	flight     Flight
	passengers map[int]int
}

type resourceInput struct {
	resource      ScreeningResource
	effectiveness map[EffectivenessKey]float64
}

type operationInput struct {
	id        int
	resources []int
}

// Builder collects entities by id and assembles a validated Problem.
type Builder struct {
	reg         *Registry
	categories  []RiskCategory
	methods     []AttackMethod
	flights     []flightInput
	resources   []resourceInput
	operations  []operationInput
	shiftStart  int
	duration    int
	granularity int
}

func NewBuilder() *Builder {
	return &Builder{reg: NewRegistry()}
}

func (b *Builder) Category(name string, prior float64) int {
	id := b.reg.Next(KindCategory)
	b.categories = append(b.categories, RiskCategory{ID: id, Name: name, Prior: prior})
	return id
}

func (b *Builder) Method(name string) int {
	id := b.reg.Next(KindMethod)
	b.methods = append(b.methods, AttackMethod{ID: id, Name: name})
	return id
}

// Flight registers a flight; passengers are keyed by category id.
func (b *Builder) Flight(name string, typ FlightType, departure int, payoffs Payoffs, passengers map[int]int) int {
	id := b.reg.Next(KindFlight)
	b.flights = append(b.flights, flightInput{
		flight:     Flight{ID: id, Name: name, Type: typ, Departure: departure, Payoffs: payoffs},
		passengers: passengers,
	})
	return id
}

// Resource registers a screening resource; effectiveness is keyed by category and method id.
func (b *Builder) Resource(name string, capacity, quantity int, effectiveness map[EffectivenessKey]float64) int {
	id := b.reg.Next(KindResource)
	b.resources = append(b.resources, resourceInput{
		resource:      ScreeningResource{ID: id, Name: name, Capacity: capacity, Quantity: quantity},
		effectiveness: effectiveness,
	})
	return id
}

func (b *Builder) Operation(resourceIDs ...int) int {
	id := b.reg.Next(KindOperation)
	b.operations = append(b.operations, operationInput{id: id, resources: resourceIDs})
	return id
}

func (b *Builder) Shift(start, duration, granularity int) {
	b.shiftStart = start
	b.duration = duration
	b.granularity = granularity
}

func (b *Builder) Build() (*Problem, error) {
	if b.granularity <= 0 || b.duration <= 0 {
		return nil, fmt.Errorf("%w: shift duration and time granularity must be > 0", ErrInvalidInstance)
	}
	if b.duration%b.granularity != 0 {
		return nil, fmt.Errorf("%w: shift duration %d is not divisible by time granularity %d", ErrInvalidInstance, b.duration, b.granularity)
	}
	if len(b.categories) == 0 || len(b.methods) == 0 || len(b.flights) == 0 || len(b.resources) == 0 || len(b.operations) == 0 {
		return nil, fmt.Errorf("%w: categories, methods, flights, resources and operations are required", ErrInvalidInstance)
	}

	p := &Problem{
		Categories:  append([]RiskCategory(nil), b.categories...),
		Methods:     append([]AttackMethod(nil), b.methods...),
		Windows:     NewTimeWindows(b.shiftStart, b.duration, b.granularity),
		Granularity: b.granularity,
	}
	sort.Slice(p.Categories, func(i, j int) bool { return p.Categories[i].ID < p.Categories[j].ID })
	sort.Slice(p.Methods, func(i, j int) bool { return p.Methods[i].ID < p.Methods[j].ID })

	priorSum := 0.0
	for _, c := range p.Categories {
		if c.Prior < 0 || c.Prior > 1 {
			return nil, fmt.Errorf("%w: prior of category %q outside [0,1]", ErrInvalidInstance, c.Name)
		}
		priorSum += c.Prior
	}
	if math.Abs(priorSum-1) > priorTolerance {
		return nil, fmt.Errorf("%w: category priors sum to %g, expected 1", ErrInvalidInstance, priorSum)
	}

	flights := append([]flightInput(nil), b.flights...)
	sort.Slice(flights, func(i, j int) bool { return flights[i].flight.ID < flights[j].flight.ID })
	for _, in := range flights {
		f := in.flight
		if f.Type != Domestic && f.Type != International {
			return nil, fmt.Errorf("%w: flight %q has unknown type %q", ErrInvalidInstance, f.Name, f.Type)
		}
		f.Passengers = make([]int, len(p.Categories))
		for ci, c := range p.Categories {
			n, ok := in.passengers[c.ID]
			if !ok {
				return nil, fmt.Errorf("%w: flight %q has no passenger count for category %q", ErrMissingData, f.Name, c.Name)
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: flight %q has negative passengers for category %q", ErrInvalidInstance, f.Name, c.Name)
			}
			f.Passengers[ci] = n
		}
		p.Flights = append(p.Flights, f)
	}

	resources := append([]resourceInput(nil), b.resources...)
	sort.Slice(resources, func(i, j int) bool { return resources[i].resource.ID < resources[j].resource.ID })
	resourcePos := make(map[int]int, len(resources))
	for _, in := range resources {
		r := in.resource
		if r.Capacity < 0 || r.Quantity < 0 {
			return nil, fmt.Errorf("%w: resource %q has negative capacity or quantity", ErrInvalidInstance, r.Name)
		}
		r.Effectiveness = make([][]float64, len(p.Categories))
		for ci, c := range p.Categories {
			r.Effectiveness[ci] = make([]float64, len(p.Methods))
			for mi, m := range p.Methods {
				eff, ok := in.effectiveness[EffectivenessKey{Category: c.ID, Method: m.ID}]
				if !ok {
					return nil, fmt.Errorf("%w: resource %q has no effectiveness for category %q and method %q", ErrMissingData, r.Name, c.Name, m.Name)
				}
				if eff < 0 || eff > 1 {
					return nil, fmt.Errorf("%w: resource %q effectiveness %g outside [0,1]", ErrInvalidInstance, r.Name, eff)
				}
				r.Effectiveness[ci][mi] = eff
			}
		}
		resourcePos[r.ID] = len(p.Resources)
		p.Resources = append(p.Resources, r)
	}

	operations := append([]operationInput(nil), b.operations...)
	sort.Slice(operations, func(i, j int) bool { return operations[i].id < operations[j].id })
	for _, in := range operations {
		if len(in.resources) == 0 {
			return nil, fmt.Errorf("%w: operation %d has no resources", ErrInvalidInstance, in.id)
		}
		op := ScreeningOperation{ID: in.id}
		seen := make(map[int]bool, len(in.resources))
		members := make([]ScreeningResource, 0, len(in.resources))
		for _, rid := range in.resources {
			pos, ok := resourcePos[rid]
			if !ok {
				return nil, fmt.Errorf("%w: operation %d references unknown resource %d", ErrMissingData, in.id, rid)
			}
			if seen[pos] {
				continue
			}
			seen[pos] = true
			op.Resources = append(op.Resources, pos)
			members = append(members, p.Resources[pos])
		}
		sort.Ints(op.Resources)
		op.Name = operationName(members)
		op.effect = make([][]float64, len(p.Categories))
		for ci := range p.Categories {
			op.effect[ci] = make([]float64, len(p.Methods))
			for mi := range p.Methods {
				op.effect[ci][mi] = combineEffectiveness(members, ci, mi)
			}
		}
		p.Operations = append(p.Operations, op)
	}
	return p, nil
}
