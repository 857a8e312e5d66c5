package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type State string

const (
	StateUnsolved   State = "unsolved"
	StateBuilt      State = "built"
	StateSolved     State = "solved"
	StateInfeasible State = "infeasible"
	StateFailed     State = "failed"
)

const jointScope = -1

// ScopeState is the solve state of one scope: the whole horizon or a single
// window.
type ScopeState struct {
	Window      int
	State       State
	Variables   int
	Constraints int
}

func (s ScopeState) Scope() string {
	if s.Window == jointScope {
		return "joint"
	}
	return fmt.Sprintf("window %d", s.Window)
}

// stateTracker moves scopes from unsolved to built, then to one terminal
// state. A terminal state is never left.
type stateTracker struct {
	mu     sync.Mutex
	scopes map[int]*ScopeState
	logger *slog.Logger
}

func newStateTracker(logger *slog.Logger) *stateTracker {
	return &stateTracker{scopes: make(map[int]*ScopeState), logger: logger}
}

func (t *stateTracker) get(window int) *ScopeState {
	s, ok := t.scopes[window]
	if !ok {
		s = &ScopeState{Window: window, State: StateUnsolved}
		t.scopes[window] = s
	}
	return s
}

func (t *stateTracker) built(window, variables, constraints int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(window)
	if s.State != StateUnsolved {
		return
	}
	s.State = StateBuilt
	s.Variables = variables
	s.Constraints = constraints
	if t.logger != nil {
		t.logger.Debug("policy program built", "scope", s.Scope(), "variables", variables, "constraints", constraints)
	}
}

func (t *stateTracker) finish(window int, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(window)
	if s.State != StateBuilt {
		return
	}
	s.State = state
	if t.logger == nil {
		return
	}
	switch state {
	case StateInfeasible:
		t.logger.Warn("policy program infeasible", "scope", s.Scope())
	case StateFailed:
		t.logger.Error("policy program failed", "scope", s.Scope(), "constraints", s.Constraints)
	default:
		t.logger.Info("policy program solved", "scope", s.Scope(), "constraints", s.Constraints)
	}
}

func (t *stateTracker) snapshot() []ScopeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]int, 0, len(t.scopes))
	for k := range t.scopes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]ScopeState, 0, len(keys))
	for _, k := range keys {
		out = append(out, *t.scopes[k])
	}
	return out
}
