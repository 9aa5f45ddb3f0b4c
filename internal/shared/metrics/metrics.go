package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	workflowsStartedTotal   atomic.Uint64
	workflowsCompletedTotal atomic.Uint64
	workflowsFailedTotal    atomic.Uint64
	workflowRetriesTotal    atomic.Uint64

	enginesDeployedTotal atomic.Uint64
	enginesDeletedTotal  atomic.Uint64
	enginesOrphanedTotal atomic.Uint64

	workflowDuration = newHistogram([]float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200})
)

// IncWorkflowStarted increments the started counter.
func IncWorkflowStarted() {
	workflowsStartedTotal.Add(1)
}

// IncWorkflowCompleted increments the completed counter.
func IncWorkflowCompleted() {
	workflowsCompletedTotal.Add(1)
}

// IncWorkflowFailed increments the failed counter.
func IncWorkflowFailed() {
	workflowsFailedTotal.Add(1)
}

func IncWorkflowRetry() {
	workflowRetriesTotal.Add(1)
}

func IncEngineDeployed() {
	enginesDeployedTotal.Add(1)
}

func IncEngineDeleted() {
	enginesDeletedTotal.Add(1)
}

// IncEngineOrphaned counts engines whose deletion failed and need manual cleanup.
func IncEngineOrphaned() {
	enginesOrphanedTotal.Add(1)
}

// ObserveWorkflowDurationSeconds records a workflow duration in seconds.
func ObserveWorkflowDurationSeconds(value float64) {
	if value < 0 {
		value = 0
	}
	workflowDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "gae_workflows_started_total", "Total analysis workflows started", workflowsStartedTotal.Load())
	writeCounter(&buf, "gae_workflows_completed_total", "Total analysis workflows completed", workflowsCompletedTotal.Load())
	writeCounter(&buf, "gae_workflows_failed_total", "Total analysis workflows failed", workflowsFailedTotal.Load())
	writeCounter(&buf, "gae_workflow_retries_total", "Total workflow retry attempts", workflowRetriesTotal.Load())
	writeCounter(&buf, "gae_engines_deployed_total", "Total engines deployed", enginesDeployedTotal.Load())
	writeCounter(&buf, "gae_engines_deleted_total", "Total engines deleted", enginesDeletedTotal.Load())
	writeCounter(&buf, "gae_engines_orphaned_total", "Engines that could not be deleted", enginesOrphanedTotal.Load())
	writeHistogram(&buf, "gae_workflow_duration_seconds", "Workflow duration in seconds", workflowDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds value to the first bucket that holds it; Snapshot consumers
// accumulate counts when rendering.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
