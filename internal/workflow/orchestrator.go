package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/shared/metrics"
	"gae-orchestrator/internal/shared/telemetry"
	"gae-orchestrator/internal/store"
)

const DefaultCleanupTimeout = 2 * time.Minute

var (
	ErrNoConnection   = errors.New("configuration error: no engine connection configured")
	ErrDatabaseNotSet = errors.New("ARANGO_DATABASE not set")
)

// Recorder persists result snapshots as a run progresses.
type Recorder interface {
	Save(ctx context.Context, result AnalysisResult) error
}

// ConnectFunc opens an engine connection.
type ConnectFunc func(ctx context.Context) (engine.Connection, error)

// OpenDatabaseFunc opens the named database.
type OpenDatabaseFunc func(ctx context.Context, name string) (store.Database, error)

// Orchestrator runs analysis workflows one at a time.
type Orchestrator struct {
	// Conn is used when set; otherwise Connect is called on first use.
	Conn    engine.Connection
	Connect ConnectFunc

	// DB is used when set; otherwise OpenDatabase is called per run.
	DB           store.Database
	OpenDatabase OpenDatabaseFunc

	DefaultDatabase string
	PollInterval    time.Duration
	CleanupTimeout  time.Duration
	Recorder        Recorder

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	runMu   sync.Mutex
	mu      sync.Mutex
	history []AnalysisResult
}

// Run executes one analysis. The returned result is terminal; its Status
// and ErrorMessage are the record of what happened. Any engine deployed
// by the run is deleted before Run returns when cfg.AutoCleanup is set.
func (o *Orchestrator) Run(ctx context.Context, cfg AnalysisConfig) *AnalysisResult {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	cfg = cfg.withDefaults(o.DefaultDatabase)
	res := &AnalysisResult{
		ID:         uuid.NewString(),
		Config:     cfg,
		Status:     StatusPending,
		StartTime:  o.now(),
		EngineSize: cfg.EngineSize,
		Algorithm:  string(cfg.Algorithm),
	}
	metrics.IncWorkflowStarted()
	telemetry.Info("workflow.start", map[string]any{
		"run_id":    res.ID,
		"name":      cfg.Name,
		"algorithm": cfg.Algorithm,
		"database":  cfg.Database,
	})
	o.record(ctx, res)
	defer o.finish(ctx, res)

	if err := cfg.Validate(); err != nil {
		res.fail(err, o.now())
		return res
	}
	if cfg.Database == "" {
		res.fail(ErrDatabaseNotSet, o.now())
		return res
	}

	conn, db, err := o.initialize(ctx, cfg)
	if err != nil {
		res.fail(err, o.now())
		return res
	}
	if err := o.checkExistingEngines(ctx, conn); err != nil {
		res.fail(err, o.now())
		return res
	}

	o.execute(ctx, conn, db, res)
	return res
}

// History returns copies of every finished result in run order.
func (o *Orchestrator) History() []AnalysisResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AnalysisResult, len(o.history))
	for i := range o.history {
		out[i] = o.history[i].Clone()
	}
	return out
}

// CleanupEngine deletes the engine recorded on res. Failures are logged and
// reported through the return value only, so repeated calls are safe.
// It waits for an in-progress Run to return.
func (o *Orchestrator) CleanupEngine(ctx context.Context, res *AnalysisResult) bool {
	if res == nil || res.EngineID == "" {
		return false
	}
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.Conn == nil {
		telemetry.Warn("workflow.cleanup.skipped", map[string]any{"engine_id": res.EngineID, "error": ErrNoConnection})
		return false
	}
	if err := o.cleanup(ctx, o.Conn, res); err != nil {
		telemetry.Warn("workflow.cleanup.failed", map[string]any{"run_id": res.ID, "engine_id": res.EngineID, "error": err})
		return false
	}
	res.EngineDeleted = true
	return true
}

func (o *Orchestrator) initialize(ctx context.Context, cfg AnalysisConfig) (engine.Connection, store.Database, error) {
	if o.Conn == nil {
		if o.Connect == nil {
			return nil, nil, ErrNoConnection
		}
		telemetry.Info("workflow.connect", map[string]any{"target": "engine"})
		conn, err := o.Connect(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("connect engine: %w", err)
		}
		o.Conn = conn
	}

	db := o.DB
	if db == nil && o.OpenDatabase != nil {
		telemetry.Info("workflow.connect", map[string]any{"target": "database", "database": cfg.Database})
		opened, err := o.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database %s: %w", cfg.Database, err)
		}
		db = opened
	}
	return o.Conn, db, nil
}

func (o *Orchestrator) checkExistingEngines(ctx context.Context, conn engine.Connection) error {
	lister, ok := conn.(engine.EngineLister)
	if !ok {
		return nil
	}
	engines, err := lister.ListEngines(ctx)
	if err != nil {
		telemetry.Warn("workflow.engines.check_failed", map[string]any{"error": err})
		return nil
	}
	if len(engines) > 0 {
		return &ExistingEnginesError{Engines: engines}
	}
	return nil
}

// execute runs the retry loop. Final cleanup is deferred so it runs on
// every exit path.
func (o *Orchestrator) execute(ctx context.Context, conn engine.Connection, db store.Database, res *AnalysisResult) {
	defer o.finalCleanup(ctx, conn, res)

	attempts := res.Config.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			res.RetryCount = attempt
			metrics.IncWorkflowRetry()
			telemetry.Info("workflow.retry", map[string]any{
				"run_id":      res.ID,
				"attempt":     attempt,
				"max_retries": res.Config.MaxRetries,
			})
		}

		err := o.attempt(ctx, conn, db, res)
		if err == nil {
			o.complete(ctx, res)
			return
		}

		res.fail(err, o.now())
		retryable := Retryable(err)
		telemetry.Error("workflow.attempt.failed", map[string]any{
			"run_id":    res.ID,
			"attempt":   attempt,
			"error":     res.ErrorMessage,
			"retryable": retryable,
		})
		o.record(ctx, res)
		if !retryable || attempt+1 >= attempts {
			return
		}

		if res.EngineID != "" {
			cctx, cancel := o.cleanupContext(ctx)
			err := o.cleanup(cctx, conn, res)
			cancel()
			if err != nil {
				o.orphan(res, err, "retry")
			}
			res.EngineID = ""
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, conn engine.Connection, db store.Database, res *AnalysisResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	poller := &Poller{Fetcher: conn, Interval: o.PollInterval, Now: o.Now, Sleep: o.Sleep}
	maxWait := time.Duration(res.Config.TimeoutSeconds) * time.Second

	if err := o.deploy(ctx, conn, res); err != nil {
		return err
	}
	if err := o.loadGraph(ctx, conn, poller, maxWait, res); err != nil {
		return err
	}
	if err := o.runAlgorithm(ctx, conn, poller, maxWait, res); err != nil {
		return err
	}
	return o.storeResults(ctx, conn, db, poller, maxWait, res)
}

func (o *Orchestrator) deploy(ctx context.Context, conn engine.Connection, res *AnalysisResult) error {
	o.transition(ctx, res, StatusEngineDeploying)
	cfg := res.Config
	eng, err := conn.DeployEngine(ctx, cfg.EngineSize, cfg.EngineType)
	id := eng.ID
	if id == "" && err != nil {
		if tracker, ok := conn.(engine.DeployTracker); ok {
			// A tracked id already orphaned belongs to an earlier attempt.
			if tracked := tracker.CurrentEngineID(); !slices.Contains(res.OrphanedEngineIDs, tracked) {
				id = tracked
			}
		}
	}
	if id != "" {
		res.EngineID = id
		metrics.IncEngineDeployed()
		telemetry.Info("workflow.engine.deployed", map[string]any{"run_id": res.ID, "engine_id": id, "size": cfg.EngineSize})
	}
	if err != nil {
		return fmt.Errorf("deploy engine: %w", err)
	}
	if id == "" {
		return errors.New("deploy engine: backend returned no engine id")
	}
	return nil
}

func (o *Orchestrator) loadGraph(ctx context.Context, conn engine.Connection, poller *Poller, maxWait time.Duration, res *AnalysisResult) error {
	o.transition(ctx, res, StatusGraphLoading)
	ref, err := conn.LoadGraph(ctx, res.Config.loadRequest())
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	res.GraphID = ref.GraphID
	if res.GraphID == "" {
		res.GraphID = ref.ID
	}
	if ref.JobID != "" {
		if _, err := poller.Wait(ctx, ref.JobID, "Graph loading", maxWait); err != nil {
			return err
		}
	}

	if res.GraphID != "" {
		graph, err := conn.GetGraph(ctx, res.GraphID)
		if err != nil {
			telemetry.Warn("workflow.graph.details_unavailable", map[string]any{"graph_id": res.GraphID, "error": err})
		} else {
			res.VertexCount = graph.VertexCount
			res.EdgeCount = graph.EdgeCount
		}
	}
	telemetry.Info("workflow.graph.loaded", map[string]any{
		"run_id":       res.ID,
		"graph_id":     res.GraphID,
		"vertex_count": res.VertexCount,
		"edge_count":   res.EdgeCount,
	})
	return nil
}

func (o *Orchestrator) runAlgorithm(ctx context.Context, conn engine.Connection, poller *Poller, maxWait time.Duration, res *AnalysisResult) error {
	o.transition(ctx, res, StatusAlgorithmRunning)
	cfg := res.Config
	ref, err := engine.RunAlgorithm(ctx, conn, cfg.Algorithm, res.GraphID, cfg.AlgorithmParams)
	if err != nil {
		return fmt.Errorf("run %s: %w", cfg.Algorithm, err)
	}
	res.JobID = ref.JobID
	if res.JobID == "" {
		return fmt.Errorf("run %s: backend returned no job id", cfg.Algorithm)
	}

	job, err := poller.Wait(ctx, res.JobID, string(cfg.Algorithm)+" computation", maxWait)
	if err != nil {
		return err
	}
	stats := engine.MapField(job, "statistics")
	if ms, ok := engine.Float(stats["execution_time_ms"]); ok && ms > 0 {
		res.AlgorithmExecutionMs = &ms
	}
	return nil
}

func (o *Orchestrator) storeResults(ctx context.Context, conn engine.Connection, db store.Database, poller *Poller, maxWait time.Duration, res *AnalysisResult) error {
	o.transition(ctx, res, StatusStoringResults)
	cfg := res.Config
	ref, err := conn.StoreResults(ctx, engine.StoreRequest{
		Database:         cfg.Database,
		TargetCollection: cfg.TargetCollection,
		JobIDs:           []string{res.JobID},
		AttributeNames:   []string{cfg.ResultField},
		Parallelism:      cfg.StoreParallelism,
		BatchSize:        cfg.StoreBatchSize,
	})
	if err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	if ref.JobID != "" {
		if _, err := poller.Wait(ctx, ref.JobID, "Results storage", maxWait); err != nil {
			return err
		}
	}
	res.ResultsStored = true

	if db == nil {
		telemetry.Warn("workflow.results.count_skipped", map[string]any{"run_id": res.ID, "reason": "no database connection"})
		return nil
	}
	n, err := db.Count(ctx, cfg.TargetCollection)
	if err != nil {
		telemetry.Warn("workflow.results.count_failed", map[string]any{
			"run_id":     res.ID,
			"collection": cfg.TargetCollection,
			"error":      err,
		})
		return nil
	}
	res.DocumentsUpdated = &n
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, res *AnalysisResult) {
	res.finish(o.now())
	res.Status = StatusCompleted
	res.ErrorMessage = ""
	res.EngineRuntimeMinutes = res.DurationSeconds / 60
	res.EstimatedCostUSD = RunCost(res.Config.EngineSize, res.DurationSeconds)
	telemetry.Info("workflow.completed", map[string]any{
		"run_id":             res.ID,
		"duration_s":         res.DurationSeconds,
		"estimated_cost_usd": res.EstimatedCostUSD,
		"documents_updated":  res.DocumentsUpdated,
	})
}

// cleanup deletes the run's engine, passing through CLEANING_UP and
// restoring a terminal status afterwards.
func (o *Orchestrator) cleanup(ctx context.Context, conn engine.Connection, res *AnalysisResult) error {
	original := res.Status
	o.transition(ctx, res, StatusCleaningUp)
	err := conn.DeleteEngine(ctx, res.EngineID)
	if original.Terminal() {
		o.transition(ctx, res, original)
	}
	if err != nil {
		return err
	}
	metrics.IncEngineDeleted()
	telemetry.Info("workflow.engine.deleted", map[string]any{"run_id": res.ID, "engine_id": res.EngineID})
	return nil
}

func (o *Orchestrator) finalCleanup(ctx context.Context, conn engine.Connection, res *AnalysisResult) {
	if res.EngineID == "" {
		return
	}
	if !res.Config.AutoCleanup {
		telemetry.Warn("workflow.engine.left_running", map[string]any{
			"run_id":    res.ID,
			"engine_id": res.EngineID,
			"reason":    "auto_cleanup disabled",
		})
		return
	}
	cctx, cancel := o.cleanupContext(ctx)
	defer cancel()
	if err := o.cleanup(cctx, conn, res); err != nil {
		o.orphan(res, err, "final")
		return
	}
	res.EngineDeleted = true
}

func (o *Orchestrator) orphan(res *AnalysisResult, err error, phase string) {
	res.OrphanedEngineIDs = append(res.OrphanedEngineIDs, res.EngineID)
	metrics.IncEngineOrphaned()
	telemetry.Error("workflow.engine.orphaned", map[string]any{
		"run_id":    res.ID,
		"engine_id": res.EngineID,
		"phase":     phase,
		"error":     err,
		"action":    "manual deletion required: delete engine " + res.EngineID,
	})
}

// cleanupContext detaches from ctx so cancellation of the run does not
// prevent engine deletion.
func (o *Orchestrator) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (o *Orchestrator) transition(ctx context.Context, res *AnalysisResult, to Status) {
	from := res.Status
	res.Status = to
	telemetry.Info("workflow.status", map[string]any{
		"run_id":            res.ID,
		"status_transition": string(from) + "->" + string(to),
	})
	o.record(ctx, res)
}

func (o *Orchestrator) finish(ctx context.Context, res *AnalysisResult) {
	if res.EndTime == nil {
		res.finish(o.now())
	}
	if res.Status == StatusCompleted {
		metrics.IncWorkflowCompleted()
	} else {
		metrics.IncWorkflowFailed()
		telemetry.Error("workflow.failed", map[string]any{
			"run_id":      res.ID,
			"error":       res.ErrorMessage,
			"retry_count": res.RetryCount,
		})
	}
	metrics.ObserveWorkflowDurationSeconds(res.DurationSeconds)
	o.record(ctx, res)

	o.mu.Lock()
	o.history = append(o.history, res.Clone())
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, res *AnalysisResult) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.Save(context.WithoutCancel(ctx), res.Clone()); err != nil {
		telemetry.Warn("workflow.record_failed", map[string]any{"run_id": res.ID, "error": err})
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
