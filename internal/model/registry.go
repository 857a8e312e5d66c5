package model

type Kind string

const (
	KindCategory  Kind = "category"
	KindMethod    Kind = "method"
	KindFlight    Kind = "flight"
	KindResource  Kind = "resource"
	KindOperation Kind = "operation"
)

// Registry hands out sequential ids per entity kind for a single problem.
type Registry struct {
	next map[Kind]int
}

func NewRegistry() *Registry {
	return &Registry{next: make(map[Kind]int)}
}

func (r *Registry) Next(kind Kind) int {
	r.next[kind]++
	return r.next[kind]
}
