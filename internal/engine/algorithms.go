package engine

import (
	"context"
	"errors"
	"fmt"
)

// Algorithm selects a graph algorithm.
type Algorithm string

const (
	PageRank         Algorithm = "pagerank"
	WCC              Algorithm = "wcc"
	SCC              Algorithm = "scc"
	LabelPropagation Algorithm = "label_propagation"
	Betweenness      Algorithm = "betweenness"
)

var (
	ErrUnsupportedAlgorithm   = errors.New("invalid configuration: unsupported algorithm")
	ErrBetweennessUnsupported = errors.New("invalid configuration: betweenness centrality not yet supported")
)

// Known reports whether a is a recognized selector, implemented or not.
func (a Algorithm) Known() bool {
	switch a {
	case PageRank, WCC, SCC, LabelPropagation, Betweenness:
		return true
	default:
		return false
	}
}

// PageRankParams configures RunPageRank.
type PageRankParams struct {
	DampingFactor     float64
	MaximumSupersteps int
}

// LabelPropagationParams configures RunLabelPropagation.
type LabelPropagationParams struct {
	StartLabelAttribute string
	Synchronous         bool
	RandomTiebreak      bool
	MaximumSupersteps   int
}

// DefaultParams returns the parameter set used when a run supplies none.
func DefaultParams(a Algorithm) map[string]any {
	switch a {
	case PageRank:
		return map[string]any{"damping_factor": 0.85, "maximum_supersteps": 100}
	case LabelPropagation:
		return map[string]any{
			"start_label_attribute": "_key",
			"synchronous":           false,
			"random_tiebreak":       false,
			"maximum_supersteps":    100,
		}
	case Betweenness:
		return map[string]any{"maximum_supersteps": 100}
	default:
		return map[string]any{}
	}
}

// RunAlgorithm dispatches a to the matching Connection entry point.
func RunAlgorithm(ctx context.Context, conn Connection, a Algorithm, graphID string, params map[string]any) (JobRef, error) {
	defaults := DefaultParams(a)
	switch a {
	case PageRank:
		return conn.RunPageRank(ctx, graphID, PageRankParams{
			DampingFactor:     floatParam(params, defaults, "damping_factor"),
			MaximumSupersteps: intParam(params, defaults, "maximum_supersteps"),
		})
	case WCC:
		return conn.RunWCC(ctx, graphID)
	case SCC:
		return conn.RunSCC(ctx, graphID)
	case LabelPropagation:
		attr, _ := params["start_label_attribute"].(string)
		if attr == "" {
			attr = defaults["start_label_attribute"].(string)
		}
		sync, _ := params["synchronous"].(bool)
		tiebreak, _ := params["random_tiebreak"].(bool)
		return conn.RunLabelPropagation(ctx, graphID, LabelPropagationParams{
			StartLabelAttribute: attr,
			Synchronous:         sync,
			RandomTiebreak:      tiebreak,
			MaximumSupersteps:   intParam(params, defaults, "maximum_supersteps"),
		})
	case Betweenness:
		return JobRef{}, ErrBetweennessUnsupported
	default:
		return JobRef{}, fmt.Errorf("%w %q", ErrUnsupportedAlgorithm, string(a))
	}
}

func floatParam(params, defaults map[string]any, key string) float64 {
	if v, ok := Float(params[key]); ok {
		return v
	}
	v, _ := Float(defaults[key])
	return v
}

func intParam(params, defaults map[string]any, key string) int {
	if v, ok := Int(params[key]); ok {
		return int(v)
	}
	v, _ := Int(defaults[key])
	return int(v)
}
