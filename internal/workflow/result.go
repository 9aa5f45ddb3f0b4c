package workflow

import (
	"strings"
	"time"
)

const maxErrorMessageLen = 2000

// AnalysisResult records one workflow execution. The orchestrator owns it
// until Run returns.
type AnalysisResult struct {
	ID     string         `json:"id"`
	Config AnalysisConfig `json:"config"`
	Status Status         `json:"status"`

	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`

	EngineID          string   `json:"engine_id,omitempty"`
	EngineSize        string   `json:"engine_size,omitempty"`
	EngineDeleted     bool     `json:"engine_deleted"`
	OrphanedEngineIDs []string `json:"orphaned_engine_ids,omitempty"`

	GraphID     string `json:"graph_id,omitempty"`
	VertexCount *int64 `json:"vertex_count,omitempty"`
	EdgeCount   *int64 `json:"edge_count,omitempty"`

	JobID                string   `json:"job_id,omitempty"`
	Algorithm            string   `json:"algorithm,omitempty"`
	AlgorithmExecutionMs *float64 `json:"algorithm_execution_ms,omitempty"`

	ResultsStored    bool   `json:"results_stored"`
	DocumentsUpdated *int64 `json:"documents_updated,omitempty"`

	EstimatedCostUSD     float64 `json:"estimated_cost_usd"`
	EngineRuntimeMinutes float64 `json:"engine_runtime_minutes"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *AnalysisResult) Clone() AnalysisResult {
	out := *r
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	out.OrphanedEngineIDs = append([]string(nil), r.OrphanedEngineIDs...)
	out.VertexCount = cloneInt(r.VertexCount)
	out.EdgeCount = cloneInt(r.EdgeCount)
	out.DocumentsUpdated = cloneInt(r.DocumentsUpdated)
	if r.AlgorithmExecutionMs != nil {
		v := *r.AlgorithmExecutionMs
		out.AlgorithmExecutionMs = &v
	}
	out.Config.VertexCollections = append([]string(nil), r.Config.VertexCollections...)
	out.Config.EdgeCollections = append([]string(nil), r.Config.EdgeCollections...)
	out.Config.VertexAttributes = append([]string(nil), r.Config.VertexAttributes...)
	if r.Config.AlgorithmParams != nil {
		out.Config.AlgorithmParams = make(map[string]any, len(r.Config.AlgorithmParams))
		for k, v := range r.Config.AlgorithmParams {
			out.Config.AlgorithmParams[k] = v
		}
	}
	return out
}

func (r *AnalysisResult) finish(now time.Time) {
	end := now
	r.EndTime = &end
	r.DurationSeconds = end.Sub(r.StartTime).Seconds()
}

func (r *AnalysisResult) fail(err error, now time.Time) {
	r.Status = StatusFailed
	r.ErrorMessage = sanitizeError(err.Error())
	r.finish(now)
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// sanitizeError collapses whitespace and caps the message length.
func sanitizeError(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen] + "..."
	}
	return msg
}
