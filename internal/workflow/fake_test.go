package workflow

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/shared/telemetry"
)

// fakeConn is a scripted engine connection.
type fakeConn struct {
	mu sync.Mutex

	deployErrs  []error
	deployCalls int
	deployed    []string

	deleteErr error
	deleted   []string

	loadErr   error
	loads     []engine.LoadRequest
	algorithm []string
	stores    []engine.StoreRequest

	jobs     map[string][]engine.Job
	jobCalls map[string]int
	graph    engine.Graph
	graphErr error
}

func newFakeConn() *fakeConn {
	v, e := int64(100), int64(250)
	return &fakeConn{
		jobs:     map[string][]engine.Job{},
		jobCalls: map[string]int{},
		graph:    engine.Graph{ID: "g1", VertexCount: &v, EdgeCount: &e},
	}
}

func (f *fakeConn) DeployEngine(ctx context.Context, size, engineType string) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.deployCalls
	f.deployCalls++
	if idx < len(f.deployErrs) && f.deployErrs[idx] != nil {
		return engine.Engine{}, f.deployErrs[idx]
	}
	id := fmt.Sprintf("eng-%d", idx+1)
	f.deployed = append(f.deployed, id)
	return engine.Engine{ID: id, Size: size, Type: engineType}, nil
}

func (f *fakeConn) DeleteEngine(ctx context.Context, engineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, engineID)
	return f.deleteErr
}

func (f *fakeConn) LoadGraph(ctx context.Context, req engine.LoadRequest) (engine.JobRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, req)
	if f.loadErr != nil {
		return engine.JobRef{}, f.loadErr
	}
	return engine.JobRef{ID: "load-1", JobID: "load-1", GraphID: "g1"}, nil
}

func (f *fakeConn) algo(name string) (engine.JobRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.algorithm = append(f.algorithm, name)
	return engine.JobRef{ID: "algo-1", JobID: "algo-1"}, nil
}

func (f *fakeConn) RunPageRank(ctx context.Context, graphID string, params engine.PageRankParams) (engine.JobRef, error) {
	return f.algo("pagerank")
}

func (f *fakeConn) RunWCC(ctx context.Context, graphID string) (engine.JobRef, error) {
	return f.algo("wcc")
}

func (f *fakeConn) RunSCC(ctx context.Context, graphID string) (engine.JobRef, error) {
	return f.algo("scc")
}

func (f *fakeConn) RunLabelPropagation(ctx context.Context, graphID string, params engine.LabelPropagationParams) (engine.JobRef, error) {
	return f.algo("label_propagation")
}

func (f *fakeConn) StoreResults(ctx context.Context, req engine.StoreRequest) (engine.JobRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores = append(f.stores, req)
	return engine.JobRef{ID: "store-1", JobID: "store-1"}, nil
}

// GetJob replays the script for jobID, repeating its last entry. Unscripted
// jobs succeed immediately.
func (f *fakeConn) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.jobs[jobID]
	i := f.jobCalls[jobID]
	f.jobCalls[jobID]++
	if len(script) == 0 {
		return engine.Job{"status": "succeeded"}, nil
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], nil
}

func (f *fakeConn) GetGraph(ctx context.Context, graphID string) (engine.Graph, error) {
	if f.graphErr != nil {
		return engine.Graph{}, f.graphErr
	}
	return f.graph, nil
}

type listingConn struct {
	*fakeConn
	engines []engine.Engine
	err     error
}

func (l *listingConn) ListEngines(ctx context.Context) ([]engine.Engine, error) {
	return l.engines, l.err
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

type memoryRecorder struct {
	mu        sync.Mutex
	snapshots []AnalysisResult
}

func (r *memoryRecorder) Save(ctx context.Context, res AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, res)
	return nil
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := telemetry.SetOutput(&syncWriter{w: &buf})
	t.Cleanup(restore)
	return &buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func collectionsConfig(name string) AnalysisConfig {
	cfg := DefaultConfig(name)
	cfg.VertexCollections = []string{"users"}
	cfg.EdgeCollections = []string{"follows"}
	cfg.Database = "social"
	return cfg
}
