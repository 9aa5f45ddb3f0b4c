package metrics

import (
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{1, 10, 100})
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 4 {
		t.Fatalf("count = %d", snap.count)
	}
	var cumulative uint64
	want := []uint64{1, 2, 3}
	for i := range snap.buckets {
		cumulative += snap.counts[i]
		if cumulative != want[i] {
			t.Fatalf("bucket %v cumulative = %d, want %d", snap.buckets[i], cumulative, want[i])
		}
	}
}

func TestRenderIncludesWorkflowCounters(t *testing.T) {
	IncWorkflowStarted()
	IncEngineOrphaned()
	ObserveWorkflowDurationSeconds(42)

	out := Render()
	for _, name := range []string{
		"gae_workflows_started_total",
		"gae_engines_orphaned_total",
		"gae_workflow_duration_seconds_bucket{le=\"60\"}",
		"gae_workflow_duration_seconds_count",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output:\n%s", name, out)
		}
	}
}
