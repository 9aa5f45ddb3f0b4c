package engine

import (
	"context"
	"fmt"
	"net/http"
)

const (
	defaultStoreParallelism = 8
	defaultStoreBatchSize   = 10000
)

// Requester issues one authenticated call against the current engine.
// The endpoint is relative, for example "v1/loaddata".
type Requester interface {
	Request(ctx context.Context, method, endpoint string, payload any) (map[string]any, error)
}

// Operations implements the engine calls whose wire format is identical
// across backends. Backends embed it and supply a Requester.
type Operations struct {
	Requester Requester
}

// LoadGraph starts a graph load job.
func (o Operations) LoadGraph(ctx context.Context, req LoadRequest) (JobRef, error) {
	if err := req.Validate(); err != nil {
		return JobRef{}, err
	}
	payload := map[string]any{"database": req.Database}
	if req.GraphName != "" {
		payload["graph_name"] = req.GraphName
	} else {
		payload["vertex_collections"] = req.VertexCollections
		payload["edge_collections"] = req.EdgeCollections
	}
	if len(req.VertexAttributes) > 0 {
		payload["vertex_attributes"] = req.VertexAttributes
	}
	return o.post(ctx, "v1/loaddata", payload)
}

// RunPageRank starts a PageRank job.
func (o Operations) RunPageRank(ctx context.Context, graphID string, params PageRankParams) (JobRef, error) {
	return o.post(ctx, "v1/pagerank", map[string]any{
		"graph_id":           graphID,
		"damping_factor":     params.DampingFactor,
		"maximum_supersteps": params.MaximumSupersteps,
	})
}

// RunWCC starts a weakly connected components job.
func (o Operations) RunWCC(ctx context.Context, graphID string) (JobRef, error) {
	return o.post(ctx, "v1/wcc", map[string]any{"graph_id": graphID})
}

// RunSCC starts a strongly connected components job.
func (o Operations) RunSCC(ctx context.Context, graphID string) (JobRef, error) {
	return o.post(ctx, "v1/scc", map[string]any{"graph_id": graphID})
}

// RunLabelPropagation starts a label propagation job.
func (o Operations) RunLabelPropagation(ctx context.Context, graphID string, params LabelPropagationParams) (JobRef, error) {
	return o.post(ctx, "v1/labelpropagation", map[string]any{
		"graph_id":              graphID,
		"start_label_attribute": params.StartLabelAttribute,
		"synchronous":           params.Synchronous,
		"random_tiebreak":       params.RandomTiebreak,
		"maximum_supersteps":    params.MaximumSupersteps,
	})
}

// StoreResults starts a job writing algorithm output to TargetCollection.
func (o Operations) StoreResults(ctx context.Context, req StoreRequest) (JobRef, error) {
	if req.Database == "" {
		return JobRef{}, fmt.Errorf("invalid configuration: database is required to store results")
	}
	if req.Parallelism <= 0 {
		req.Parallelism = defaultStoreParallelism
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultStoreBatchSize
	}
	payload := map[string]any{
		"database":        req.Database,
		"job_ids":         req.JobIDs,
		"attribute_names": req.AttributeNames,
		"parallelism":     req.Parallelism,
		"batch_size":      req.BatchSize,
	}
	if req.TargetCollection != "" {
		payload["target_collection"] = req.TargetCollection
	}
	return o.post(ctx, "v1/storeresults", payload)
}

func (o Operations) post(ctx context.Context, endpoint string, payload map[string]any) (JobRef, error) {
	if o.Requester == nil {
		return JobRef{}, fmt.Errorf("engine operations: requester not configured")
	}
	raw, err := o.Requester.Request(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return JobRef{}, err
	}
	return NormalizeJob(raw), nil
}
