// Package workflow runs graph analyses end to end: deploy an engine, load
// a graph, run an algorithm, store its results and tear the engine down.
package workflow

// Status is a workflow state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusEngineDeploying  Status = "engine_deploying"
	StatusGraphLoading     Status = "graph_loading"
	StatusAlgorithmRunning Status = "algorithm_running"
	StatusStoringResults   Status = "storing_results"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCleaningUp       Status = "cleaning_up"
)

// Terminal reports whether s is COMPLETED or FAILED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
