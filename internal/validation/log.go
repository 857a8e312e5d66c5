package validation

import "sync"

type Family string

const (
	FamilyValue      Family = "value"
	FamilyBounding   Family = "bounding"
	FamilyThroughput Family = "throughput"
)

type Violation struct {
	Sample   int     `json:"sample"`
	Family   Family  `json:"family"`
	Window   int     `json:"window"`
	Flight   int     `json:"flight,omitempty"`
	Category int     `json:"category,omitempty"`
	Resource int     `json:"resource,omitempty"`
	Excess   float64 `json:"excess"`
}

// Log keeps the most recent violations up to limit.
type Log struct {
	mu    sync.RWMutex
	buf   []Violation
	limit int
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 100
	}
	return &Log{limit: limit}
}

func (l *Log) Add(v Violation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.limit {
		l.buf = append(l.buf, v)
		return
	}
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = v
}

func (l *Log) List(limit int) []Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	out := make([]Violation, 0, limit)
	for i := len(l.buf) - limit; i < len(l.buf); i++ {
		out = append(out, l.buf[i])
	}
	return out
}
