package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/store"
)

func newTestOrchestrator(conn engine.Connection, db store.Database) *Orchestrator {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Minute}
	return &Orchestrator{
		Conn:  conn,
		DB:    db,
		Now:   clock.Now,
		Sleep: noSleep,
	}
}

func TestRunCompletesAndDeletesEngine(t *testing.T) {
	conn := newFakeConn()
	db := store.NewMemoryDatabase("social")
	db.Put(DefaultTargetCollection, map[string]any{"id": "users/1"}, map[string]any{"id": "users/2"}, map[string]any{"id": "users/3"})
	o := newTestOrchestrator(conn, db)

	cfg := collectionsConfig("influence")
	cfg.MaxRetries = 0
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}
	if len(conn.deleted) != 1 || conn.deleted[0] != "eng-1" {
		t.Fatalf("expected engine eng-1 deleted once, got %v", conn.deleted)
	}
	if !res.EngineDeleted || res.EngineID != "eng-1" {
		t.Fatalf("unexpected engine fields %+v", res)
	}
	if res.DocumentsUpdated == nil || *res.DocumentsUpdated != 3 {
		t.Fatalf("documents_updated = %v", res.DocumentsUpdated)
	}
	if res.VertexCount == nil || *res.VertexCount != 100 || res.GraphID != "g1" {
		t.Fatalf("graph fields not recorded: %+v", res)
	}
	if res.DurationSeconds <= 0 {
		t.Fatalf("expected positive duration")
	}
	if want := res.DurationSeconds / 60 / 60 * HourlyRate("e16"); res.EstimatedCostUSD != want {
		t.Fatalf("cost = %v, want %v", res.EstimatedCostUSD, want)
	}
	if len(conn.algorithm) != 1 || conn.algorithm[0] != "pagerank" {
		t.Fatalf("unexpected algorithm calls %v", conn.algorithm)
	}
	req := conn.stores[0]
	if req.Database != "social" || req.JobIDs[0] != "algo-1" || req.AttributeNames[0] != "pagerank_influence" {
		t.Fatalf("unexpected store request %+v", req)
	}
	if req.Parallelism != DefaultStoreParallelism || req.BatchSize != DefaultStoreBatchSize {
		t.Fatalf("store defaults not applied: %+v", req)
	}
	if h := o.History(); len(h) != 1 || h[0].ID != res.ID {
		t.Fatalf("history = %+v", h)
	}
}

func TestBestEffortLookupFailuresStillComplete(t *testing.T) {
	cases := []struct {
		name      string
		graphErr  error
		countErr  error
		wantGraph bool
		wantDocs  bool
	}{
		{name: "graph stats unavailable", graphErr: errors.New("graph not found"), wantDocs: true},
		{name: "document count unavailable", countErr: errors.New("collection not found"), wantGraph: true},
		{name: "both unavailable", graphErr: errors.New("connection reset"), countErr: errors.New("collection not found")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			captureLogs(t)
			conn := newFakeConn()
			conn.graphErr = tc.graphErr
			db := store.NewMemoryDatabase("social")
			db.Put(DefaultTargetCollection, map[string]any{"id": "users/1"})
			db.CountErr = tc.countErr
			o := newTestOrchestrator(conn, db)

			cfg := collectionsConfig("lookups")
			cfg.MaxRetries = 0
			res := o.Run(context.Background(), cfg)

			if res.Status != StatusCompleted || res.ErrorMessage != "" {
				t.Fatalf("status = %s (%q)", res.Status, res.ErrorMessage)
			}
			if !res.ResultsStored || !res.EngineDeleted {
				t.Fatalf("expected stored results and deleted engine: %+v", res)
			}
			if gotGraph := res.VertexCount != nil && res.EdgeCount != nil; gotGraph != tc.wantGraph {
				t.Fatalf("vertex/edge counts = %v/%v, want recorded=%v", res.VertexCount, res.EdgeCount, tc.wantGraph)
			}
			if gotDocs := res.DocumentsUpdated != nil; gotDocs != tc.wantDocs {
				t.Fatalf("documents_updated = %v, want recorded=%v", res.DocumentsUpdated, tc.wantDocs)
			}
		})
	}
}

func TestRunRetriesTransientDeployFailure(t *testing.T) {
	conn := newFakeConn()
	conn.deployErrs = []error{errors.New("Transient connection error")}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("retry")
	cfg.MaxRetries = 1
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}
	if res.RetryCount != 1 || conn.deployCalls != 2 {
		t.Fatalf("retry_count = %d, deploy calls = %d", res.RetryCount, conn.deployCalls)
	}
	if res.ErrorMessage != "" {
		t.Fatalf("expected error cleared on success, got %q", res.ErrorMessage)
	}
	if res.DocumentsUpdated != nil {
		t.Fatalf("expected no document count without a database")
	}
}

func TestRunDoesNotRetryConfigurationErrors(t *testing.T) {
	conn := newFakeConn()
	conn.deployErrs = []error{errors.New("Invalid configuration: missing API key")}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("bad-key")
	cfg.MaxRetries = 3
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusFailed || res.RetryCount != 0 || conn.deployCalls != 1 {
		t.Fatalf("status = %s retry_count = %d deploy calls = %d", res.Status, res.RetryCount, conn.deployCalls)
	}
	if !strings.Contains(res.ErrorMessage, "missing API key") {
		t.Fatalf("error message = %q", res.ErrorMessage)
	}
}

func TestRunRejectsInvalidGraphSourceBeforeDeploy(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AnalysisConfig)
	}{
		{"nothing", func(c *AnalysisConfig) {}},
		{"vertices only", func(c *AnalysisConfig) { c.VertexCollections = []string{"users"} }},
		{"edges only", func(c *AnalysisConfig) { c.EdgeCollections = []string{"follows"} }},
		{"graph and collections", func(c *AnalysisConfig) {
			c.GraphName = "social"
			c.VertexCollections = []string{"users"}
			c.EdgeCollections = []string{"follows"}
		}},
		{"betweenness", func(c *AnalysisConfig) {
			c.GraphName = "social"
			c.Algorithm = engine.Betweenness
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			o := newTestOrchestrator(conn, nil)
			cfg := DefaultConfig("invalid")
			cfg.Database = "social"
			tc.mutate(&cfg)

			res := o.Run(context.Background(), cfg)
			if res.Status != StatusFailed || res.RetryCount != 0 {
				t.Fatalf("status = %s retry_count = %d", res.Status, res.RetryCount)
			}
			if conn.deployCalls != 0 {
				t.Fatalf("deploy called %d times", conn.deployCalls)
			}
			if IsRetryable(res.ErrorMessage) {
				t.Fatalf("expected non-retryable message, got %q", res.ErrorMessage)
			}
		})
	}
}

func TestDeployAttemptsMatchFailuresUntilSuccess(t *testing.T) {
	const maxRetries = 2
	for failures := 0; failures <= 4; failures++ {
		conn := newFakeConn()
		for i := 0; i < failures; i++ {
			conn.deployErrs = append(conn.deployErrs, errors.New("connection reset by peer"))
		}
		o := newTestOrchestrator(conn, nil)
		cfg := collectionsConfig("property")
		cfg.MaxRetries = maxRetries
		res := o.Run(context.Background(), cfg)

		want := failures + 1
		if want > maxRetries+1 {
			want = maxRetries + 1
		}
		if conn.deployCalls != want {
			t.Fatalf("failures=%d: deploy calls = %d, want %d", failures, conn.deployCalls, want)
		}
		wantStatus := StatusCompleted
		if failures > maxRetries {
			wantStatus = StatusFailed
		}
		if res.Status != wantStatus {
			t.Fatalf("failures=%d: status = %s", failures, res.Status)
		}
	}
}

func TestRetryTearsDownEngineBetweenAttempts(t *testing.T) {
	conn := newFakeConn()
	conn.jobs["store-1"] = []engine.Job{{"status": "failed", "error": "disk full"}, {"status": "succeeded"}}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("teardown")
	cfg.MaxRetries = 2
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted || res.RetryCount != 1 {
		t.Fatalf("status = %s retry_count = %d (%s)", res.Status, res.RetryCount, res.ErrorMessage)
	}
	if got := strings.Join(conn.deleted, ","); got != "eng-1,eng-2" {
		t.Fatalf("deleted = %s", got)
	}
	if res.EngineID != "eng-2" {
		t.Fatalf("engine id = %s", res.EngineID)
	}
}

func TestNonRetryableFailureStillCleansUp(t *testing.T) {
	conn := newFakeConn()
	conn.loadErr = errors.New("Configuration error: collection users not found")
	o := newTestOrchestrator(conn, nil)

	res := o.Run(context.Background(), collectionsConfig("cleanup"))

	if res.Status != StatusFailed || res.RetryCount != 0 {
		t.Fatalf("status = %s retry_count = %d", res.Status, res.RetryCount)
	}
	if len(conn.deleted) != 1 || conn.deleted[0] != "eng-1" || !res.EngineDeleted {
		t.Fatalf("expected engine deleted, got %v", conn.deleted)
	}
}

func TestFinalCleanupFailureIsReportedNotRaised(t *testing.T) {
	logs := captureLogs(t)
	conn := newFakeConn()
	conn.deleteErr = errors.New("503 service unavailable")
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("orphan")
	cfg.MaxRetries = 0
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted {
		t.Fatalf("cleanup failure must not change status, got %s", res.Status)
	}
	if res.EngineDeleted || len(res.OrphanedEngineIDs) != 1 || res.OrphanedEngineIDs[0] != "eng-1" {
		t.Fatalf("unexpected orphan fields %+v", res)
	}
	out := logs.String()
	for _, want := range []string{"workflow.engine.orphaned", "manual deletion required", "eng-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in logs:\n%s", want, out)
		}
	}
	if !strings.Contains(FormatSummary(res), "Orphaned engines (delete manually): eng-1") {
		t.Fatalf("summary does not name the orphan:\n%s", FormatSummary(res))
	}
}

func TestRetryCleanupFailureClearsEngineAndRecordsOrphan(t *testing.T) {
	captureLogs(t)
	conn := newFakeConn()
	conn.deleteErr = errors.New("timeout")
	conn.jobs["algo-1"] = []engine.Job{{"state": "error", "error": "worker lost"}, {"state": "done"}}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("double-orphan")
	cfg.MaxRetries = 1
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}
	if got := strings.Join(res.OrphanedEngineIDs, ","); got != "eng-1,eng-2" {
		t.Fatalf("orphaned = %s", got)
	}
}

func TestCleanupEngineIsIdempotent(t *testing.T) {
	captureLogs(t)
	conn := newFakeConn()
	o := newTestOrchestrator(conn, nil)
	res := o.Run(context.Background(), collectionsConfig("idempotent"))
	if !res.EngineDeleted {
		t.Fatalf("expected first cleanup to succeed")
	}

	conn.deleteErr = errors.New("engine not found")
	if o.CleanupEngine(context.Background(), res) {
		t.Fatalf("expected second cleanup to report failure")
	}
	if o.CleanupEngine(context.Background(), res) {
		t.Fatalf("expected third cleanup to report failure")
	}
	if res.Status != StatusCompleted {
		t.Fatalf("cleanup changed terminal status to %s", res.Status)
	}
}

func TestCleanupEngineConcurrentWithRun(t *testing.T) {
	captureLogs(t)
	conn := newFakeConn()
	o := newTestOrchestrator(nil, nil)
	o.Connect = func(ctx context.Context) (engine.Connection, error) { return conn, nil }

	cfg := collectionsConfig("kept")
	cfg.AutoCleanup = false
	first := o.Run(context.Background(), cfg)
	if first.EngineDeleted || first.EngineID != "eng-1" {
		t.Fatalf("expected engine left running, got %+v", first)
	}

	done := make(chan *AnalysisResult)
	go func() {
		done <- o.Run(context.Background(), collectionsConfig("second"))
	}()
	cleaned := o.CleanupEngine(context.Background(), first)
	second := <-done

	if !cleaned || !first.EngineDeleted {
		t.Fatalf("expected first engine deleted")
	}
	if second.Status != StatusCompleted {
		t.Fatalf("second status = %s (%s)", second.Status, second.ErrorMessage)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.deleted) != 2 {
		t.Fatalf("expected both engines deleted, got %v", conn.deleted)
	}
}

func TestExistingEnginesAbortRun(t *testing.T) {
	conn := &listingConn{
		fakeConn: newFakeConn(),
		engines:  []engine.Engine{{ID: "eng-0", Size: "e8"}, {ID: "eng-9"}},
	}
	o := newTestOrchestrator(conn, nil)
	res := o.Run(context.Background(), collectionsConfig("guard"))

	if res.Status != StatusFailed || conn.deployCalls != 0 {
		t.Fatalf("status = %s deploy calls = %d", res.Status, conn.deployCalls)
	}
	want := "Engines already running: eng-0 (e8), eng-9 (unknown). Delete them first or risk multiple billing charges."
	if res.ErrorMessage != want {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
}

func TestExistingEnginesCheckErrorIsNotFatal(t *testing.T) {
	captureLogs(t)
	conn := &listingConn{fakeConn: newFakeConn(), err: errors.New("403 forbidden")}
	o := newTestOrchestrator(conn, nil)
	res := o.Run(context.Background(), collectionsConfig("guard-error"))
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.ErrorMessage)
	}
}

func TestAutoCleanupDisabledLeavesEngine(t *testing.T) {
	logs := captureLogs(t)
	conn := newFakeConn()
	o := newTestOrchestrator(conn, nil)
	cfg := collectionsConfig("keep")
	cfg.AutoCleanup = false
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusCompleted || len(conn.deleted) != 0 || res.EngineDeleted {
		t.Fatalf("expected engine left running, deleted = %v", conn.deleted)
	}
	if !strings.Contains(logs.String(), "workflow.engine.left_running") {
		t.Fatalf("expected warning about running engine")
	}
}

func TestCanceledRunStillDeletesEngine(t *testing.T) {
	captureLogs(t)
	conn := newFakeConn()
	conn.jobs["load-1"] = []engine.Job{{"progress": 1, "total": 10}}
	ctx, cancel := context.WithCancel(context.Background())
	o := newTestOrchestrator(conn, nil)
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := o.Run(ctx, collectionsConfig("cancel"))

	if res.Status != StatusFailed || res.RetryCount != 0 {
		t.Fatalf("status = %s retry_count = %d", res.Status, res.RetryCount)
	}
	if len(conn.deleted) != 1 || !res.EngineDeleted {
		t.Fatalf("expected cleanup after cancellation, deleted = %v", conn.deleted)
	}
}

func TestPollTimeoutIsRetried(t *testing.T) {
	captureLogs(t)
	conn := newFakeConn()
	conn.jobs["load-1"] = []engine.Job{{"state": "running"}}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("slow")
	cfg.TimeoutSeconds = 90
	cfg.MaxRetries = 1
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusFailed || res.RetryCount != 1 || conn.deployCalls != 2 {
		t.Fatalf("status = %s retry_count = %d deploy calls = %d", res.Status, res.RetryCount, conn.deployCalls)
	}
	if !strings.Contains(res.ErrorMessage, "Graph loading timed out") {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
}

func TestDeployFailureWithTrackedEngineIsCleanedUp(t *testing.T) {
	conn := &trackingConn{fakeConn: newFakeConn(), current: "eng-partial"}
	conn.deployErrs = []error{errors.New("Invalid configuration: engine did not start")}
	o := newTestOrchestrator(conn, nil)

	res := o.Run(context.Background(), collectionsConfig("partial"))
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if len(conn.deleted) != 1 || conn.deleted[0] != "eng-partial" {
		t.Fatalf("expected partial engine deleted, got %v", conn.deleted)
	}
}

func TestTrackedEngineFromEarlierAttemptIsNotReclaimed(t *testing.T) {
	captureLogs(t)
	conn := &trackingConn{fakeConn: newFakeConn(), current: "eng-1"}
	conn.deleteErr = errors.New("timeout")
	conn.deployErrs = []error{nil, errors.New("connection reset by peer")}
	conn.jobs["algo-1"] = []engine.Job{{"state": "error", "error": "worker lost"}}
	o := newTestOrchestrator(conn, nil)

	cfg := collectionsConfig("stale-tracker")
	cfg.MaxRetries = 1
	res := o.Run(context.Background(), cfg)

	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if got := strings.Join(res.OrphanedEngineIDs, ","); got != "eng-1" {
		t.Fatalf("orphaned = %s", got)
	}
	if res.EngineID != "" {
		t.Fatalf("engine id = %q, want none for the failed deploy", res.EngineID)
	}
	if len(conn.deleted) != 1 {
		t.Fatalf("expected a single delete of eng-1, got %v", conn.deleted)
	}
}

type trackingConn struct {
	*fakeConn
	current string
}

func (c *trackingConn) CurrentEngineID() string { return c.current }

func TestRecorderSeesTransitions(t *testing.T) {
	rec := &memoryRecorder{}
	o := newTestOrchestrator(newFakeConn(), nil)
	o.Recorder = rec
	res := o.Run(context.Background(), collectionsConfig("recorded"))

	var seen []Status
	for _, s := range rec.snapshots {
		if s.ID != res.ID {
			t.Fatalf("snapshot for unexpected run %s", s.ID)
		}
		if len(seen) == 0 || seen[len(seen)-1] != s.Status {
			seen = append(seen, s.Status)
		}
	}
	want := []Status{
		StatusPending, StatusEngineDeploying, StatusGraphLoading, StatusAlgorithmRunning,
		StatusStoringResults, StatusCleaningUp, StatusCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
	if last := rec.snapshots[len(rec.snapshots)-1]; last.EndTime == nil || !last.EngineDeleted {
		t.Fatalf("final snapshot incomplete: %+v", last)
	}
}

func TestConnectCalledOnceAcrossRuns(t *testing.T) {
	conn := newFakeConn()
	var connects, opens int
	o := newTestOrchestrator(nil, nil)
	o.Connect = func(ctx context.Context) (engine.Connection, error) {
		connects++
		return conn, nil
	}
	o.OpenDatabase = func(ctx context.Context, name string) (store.Database, error) {
		opens++
		db := store.NewMemoryDatabase(name)
		db.Put(DefaultTargetCollection)
		return db, nil
	}
	o.DefaultDatabase = "fallback"

	cfg := collectionsConfig("first")
	cfg.Database = ""
	results := o.RunBatch(context.Background(), []AnalysisConfig{cfg, collectionsConfig("second")})

	if len(results) != 2 || results[0].Status != StatusCompleted || results[1].Status != StatusCompleted {
		t.Fatalf("unexpected results %+v", results)
	}
	if connects != 1 || opens != 2 {
		t.Fatalf("connects = %d opens = %d", connects, opens)
	}
	if results[0].Config.Database != "fallback" || conn.loads[0].Database != "fallback" {
		t.Fatalf("default database not applied: %+v", results[0].Config)
	}
	if s := Summarize(results); s.Completed != 2 || s.Failed != 0 || s.Total != 2 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestConnectFailureFailsRun(t *testing.T) {
	o := newTestOrchestrator(nil, nil)
	o.Connect = func(ctx context.Context) (engine.Connection, error) {
		return nil, errors.New("ARANGO_GRAPH_TOKEN not set and API key credentials missing")
	}
	res := o.Run(context.Background(), collectionsConfig("no-token"))
	if res.Status != StatusFailed || !strings.Contains(res.ErrorMessage, "ARANGO_GRAPH_TOKEN not set") {
		t.Fatalf("status = %s error = %q", res.Status, res.ErrorMessage)
	}
}

func TestPanicInAttemptBecomesFailure(t *testing.T) {
	captureLogs(t)
	conn := &panicConn{fakeConn: newFakeConn()}
	o := newTestOrchestrator(conn, nil)
	cfg := collectionsConfig("panic")
	cfg.MaxRetries = 0
	res := o.Run(context.Background(), cfg)
	if res.Status != StatusFailed || !strings.Contains(res.ErrorMessage, "unexpected panic") {
		t.Fatalf("status = %s error = %q", res.Status, res.ErrorMessage)
	}
	if len(conn.deleted) != 1 {
		t.Fatalf("expected cleanup after panic")
	}
}

type panicConn struct{ *fakeConn }

func (p *panicConn) GetGraph(ctx context.Context, graphID string) (engine.Graph, error) {
	panic("nil map")
}

func TestBatchStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(newFakeConn(), nil)
	results := o.RunBatch(ctx, []AnalysisConfig{collectionsConfig("a"), collectionsConfig("b")})
	if len(results) != 0 {
		t.Fatalf("expected no runs after cancellation, got %d", len(results))
	}
}
