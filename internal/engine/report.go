package engine

import (
	"time"

	"darms/internal/config"
	"darms/internal/model"
	"darms/internal/response"
	"darms/internal/validation"
)

func buildReport(runID string, cfg *config.Config, r *run, out *Outcome, vres validation.Result) model.Report {
	return model.Report{
		RunID:                runID,
		CreatedAt:            time.Now().UTC(),
		Mode:                 string(out.Mode),
		Rule:                 string(r.rule),
		Overflow:             cfg.Solve.Overflow,
		ZeroSum:              cfg.Solve.ZeroSum,
		Seed:                 cfg.Seed,
		Epsilon:              cfg.Robustness.Epsilon,
		Beta:                 cfg.Robustness.Beta,
		Dimension:            r.dimension,
		TrainingSamples:      r.training,
		ValidationSamples:    vres.Samples,
		Variables:            out.Variables,
		Constraints:          out.Constraints,
		Objective:            out.Strategy.Objective,
		TotalDefenderUtility: out.Response.TotalDefenderUtility,
		ViolationRate:        vres.Rate,
		Violations:           vres.Counts,
		SolveSeconds:         out.Duration.Seconds(),
		Note:                 out.Note,
		Categories:           summarize(r.problem, out.Response, vres),
		Coefficients:         out.Strategy.Coefficients(r.problem),
	}
}

// summarize joins the per-category game results with the per-category
// value-bound violation rates.
func summarize(p *model.Problem, res *response.Result, vres validation.Result) []model.CategoryResult {
	out := make([]model.CategoryResult, 0, len(p.Categories))
	for ci, c := range p.Categories {
		cr := res.Categories[ci]
		item := model.CategoryResult{
			Category:        c.Name,
			Prior:           c.Prior,
			DefenderValue:   cr.DefenderValue,
			AdversaryPayoff: cr.AdversaryPayoff,
			BestResponse:    res.Choice(p, ci),
		}
		if ci < len(vres.CategoryRate) {
			item.ViolationRate = vres.CategoryRate[ci]
		}
		out = append(out, item)
	}
	return out
}
