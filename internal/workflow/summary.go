package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FormatSummary renders a result for people. Graph, result and cost lines
// appear only when they carry a non-zero value.
func FormatSummary(res *AnalysisResult) string {
	lines := []string{
		"Analysis: " + res.Config.Name,
		"Status: " + string(res.Status),
		"Algorithm: " + res.Algorithm,
		fmt.Sprintf("Duration: %.1fs", res.DurationSeconds),
	}
	if res.VertexCount != nil && *res.VertexCount != 0 {
		var edges int64
		if res.EdgeCount != nil {
			edges = *res.EdgeCount
		}
		lines = append(lines, fmt.Sprintf("Graph: %s vertices, %s edges", groupThousands(*res.VertexCount), groupThousands(edges)))
	}
	if res.DocumentsUpdated != nil && *res.DocumentsUpdated != 0 {
		lines = append(lines, fmt.Sprintf("Results: %s documents updated", groupThousands(*res.DocumentsUpdated)))
	}
	if res.EstimatedCostUSD != 0 {
		lines = append(lines, fmt.Sprintf("Cost: $%.4f", res.EstimatedCostUSD))
	}
	if len(res.OrphanedEngineIDs) > 0 {
		lines = append(lines, "Orphaned engines (delete manually): "+strings.Join(res.OrphanedEngineIDs, ", "))
	}
	if res.ErrorMessage != "" {
		lines = append(lines, "Error: "+res.ErrorMessage)
	}
	return strings.Join(lines, "\n")
}

// WriteHistory writes results as an indented JSON array.
func WriteHistory(w io.Writer, results []AnalysisResult) error {
	if results == nil {
		results = []AnalysisResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return nil
}

// ReadHistory decodes a document written by WriteHistory.
func ReadHistory(r io.Reader) ([]AnalysisResult, error) {
	var out []AnalysisResult
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return out, nil
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
