package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"darms/internal/model"
)

const namespace = "darms"

// Collectors are registered on their own registry so a batch run can dump
// them to a node-exporter textfile.
type Collectors struct {
	Registry      *prometheus.Registry
	RunsTotal     *prometheus.CounterVec
	ViolationRate *prometheus.GaugeVec
	SolveSeconds  *prometheus.HistogramVec
	Constraints   *prometheus.GaugeVec
	Variables     *prometheus.GaugeVec
}

func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Solve runs by mode and final status",
			},
			[]string{"mode", "status"},
		),
		ViolationRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "violation_rate",
				Help:      "Empirical out-of-sample violation rate of the last run",
			},
			[]string{"mode"},
		),
		SolveSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solve_seconds",
				Help:      "Wall time spent building and solving the policy program",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"mode"},
		),
		Constraints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_constraints",
				Help:      "Rows of the last solved program",
			},
			[]string{"mode"},
		),
		Variables: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_variables",
				Help:      "Columns of the last solved program",
			},
			[]string{"mode"},
		),
	}
	c.Registry.MustRegister(c.RunsTotal, c.ViolationRate, c.SolveSeconds, c.Constraints, c.Variables)
	return c
}

// Observe records a finished run. Infeasible and failed runs only count.
func (c *Collectors) Observe(m model.RunMetrics) {
	c.RunsTotal.WithLabelValues(m.Mode, m.Status).Inc()
	if m.Status != StatusSolved {
		return
	}
	c.ViolationRate.WithLabelValues(m.Mode).Set(m.ViolationRate)
	c.SolveSeconds.WithLabelValues(m.Mode).Observe(m.SolveSeconds)
	c.Constraints.WithLabelValues(m.Mode).Set(float64(m.Constraints))
	c.Variables.WithLabelValues(m.Mode).Set(float64(m.Variables))
}

// WriteTextfile dumps the registry in text exposition format.
func (c *Collectors) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.Registry)
}

const (
	StatusSolved     = "solved"
	StatusInfeasible = "infeasible"
	StatusFailed     = "failed"
	StatusNumerical  = "numerical"
)
