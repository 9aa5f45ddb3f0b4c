package workflow

import (
	"context"

	"gae-orchestrator/internal/shared/telemetry"
)

// BatchSummary aggregates a batch of results.
type BatchSummary struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	TotalSeconds float64 `json:"total_seconds"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Summarize totals a list of results.
func Summarize(results []*AnalysisResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Status == StatusCompleted {
			s.Completed++
		}
		s.TotalSeconds += r.DurationSeconds
		s.TotalCostUSD += r.EstimatedCostUSD
	}
	s.Failed = s.Total - s.Completed
	return s
}

// RunBatch runs configs in order, one at a time. A canceled context stops
// the batch before the next run starts.
func (o *Orchestrator) RunBatch(ctx context.Context, configs []AnalysisConfig) []*AnalysisResult {
	telemetry.Info("batch.start", map[string]any{"analyses": len(configs)})
	results := make([]*AnalysisResult, 0, len(configs))
	for i, cfg := range configs {
		if err := ctx.Err(); err != nil {
			telemetry.Warn("batch.canceled", map[string]any{"remaining": len(configs) - i, "error": err})
			break
		}
		res := o.Run(ctx, cfg)
		results = append(results, res)
		fields := map[string]any{"index": i + 1, "of": len(configs), "name": cfg.Name, "status": res.Status}
		if res.Status != StatusCompleted {
			fields["error"] = res.ErrorMessage
		}
		telemetry.Info("batch.item", fields)
	}

	s := Summarize(results)
	telemetry.Info("batch.complete", map[string]any{
		"completed":      s.Completed,
		"failed":         s.Failed,
		"total":          s.Total,
		"total_seconds":  s.TotalSeconds,
		"total_cost_usd": s.TotalCostUSD,
	})
	return results
}
