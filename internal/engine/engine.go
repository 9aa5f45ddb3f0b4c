// Package engine defines the capability set shared by the graph analytics
// engine backends and the request payloads common to all of them.
package engine

import (
	"context"
	"errors"
)

var (
	ErrNoEngine          = errors.New("no engine deployed")
	ErrInvalidLoadSource = errors.New("invalid configuration: must specify either graph_name or both vertex_collections and edge_collections")
)

// Connection is the capability set every backend variant provides.
type Connection interface {
	DeployEngine(ctx context.Context, size, engineType string) (Engine, error)
	DeleteEngine(ctx context.Context, engineID string) error
	LoadGraph(ctx context.Context, req LoadRequest) (JobRef, error)
	RunPageRank(ctx context.Context, graphID string, params PageRankParams) (JobRef, error)
	RunWCC(ctx context.Context, graphID string) (JobRef, error)
	RunSCC(ctx context.Context, graphID string) (JobRef, error)
	RunLabelPropagation(ctx context.Context, graphID string, params LabelPropagationParams) (JobRef, error)
	StoreResults(ctx context.Context, req StoreRequest) (JobRef, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetGraph(ctx context.Context, graphID string) (Graph, error)
}

// EngineLister is implemented by backends that can enumerate deployed engines.
type EngineLister interface {
	ListEngines(ctx context.Context) ([]Engine, error)
}

// DeployTracker is implemented by backends that can report an engine id
// obtained by a deploy call that later failed.
type DeployTracker interface {
	CurrentEngineID() string
}

// Engine describes a deployed engine.
type Engine struct {
	ID     string         `json:"id"`
	URL    string         `json:"url,omitempty"`
	Type   string         `json:"type,omitempty"`
	Size   string         `json:"size,omitempty"`
	Status string         `json:"status,omitempty"`
	Raw    map[string]any `json:"-"`
}

// Job is the raw job record returned by a backend. Its shape varies.
type Job map[string]any

// JobRef is a normalized job descriptor. ID and JobID are always both set
// when the backend returned either.
type JobRef struct {
	ID      string
	JobID   string
	GraphID string
	Raw     map[string]any
}

// Graph is a loaded in-engine graph.
type Graph struct {
	ID          string
	VertexCount *int64
	EdgeCount   *int64
	Raw         map[string]any
}

// LoadRequest selects the data to load. Exactly one of GraphName or the
// VertexCollections/EdgeCollections pair must be set.
type LoadRequest struct {
	Database          string
	GraphName         string
	VertexCollections []string
	EdgeCollections   []string
	VertexAttributes  []string
}

// Validate enforces the graph source rule.
func (r LoadRequest) Validate() error {
	hasGraph := r.GraphName != ""
	hasCollections := len(r.VertexCollections) > 0 && len(r.EdgeCollections) > 0
	if hasGraph == hasCollections {
		return ErrInvalidLoadSource
	}
	return nil
}

// StoreRequest writes algorithm results back to the database.
type StoreRequest struct {
	Database         string
	TargetCollection string
	JobIDs           []string
	AttributeNames   []string
	Parallelism      int
	BatchSize        int
}

// NormalizeJob builds a JobRef from a backend response, filling id from
// job_id when the backend only returns the latter.
func NormalizeJob(raw map[string]any) JobRef {
	if raw == nil {
		raw = map[string]any{}
	}
	id := StringField(raw, "id")
	jobID := StringField(raw, "job_id")
	if id == "" && jobID != "" {
		id = jobID
		raw["id"] = raw["job_id"]
	}
	if jobID == "" {
		jobID = id
	}
	return JobRef{ID: id, JobID: jobID, GraphID: StringField(raw, "graph_id"), Raw: raw}
}

// ParseGraph extracts identifiers and counts from a graph record.
func ParseGraph(raw map[string]any) Graph {
	g := Graph{Raw: raw}
	if raw == nil {
		return g
	}
	g.ID = StringField(raw, "graph_id")
	if g.ID == "" {
		g.ID = StringField(raw, "id")
	}
	if v, ok := Int(raw["vertex_count"]); ok {
		g.VertexCount = &v
	}
	if v, ok := Int(raw["edge_count"]); ok {
		g.EdgeCount = &v
	}
	return g
}
