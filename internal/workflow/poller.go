package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/shared/telemetry"
)

const DefaultPollInterval = 2 * time.Second

// JobState is the normalized state of a polled job.
type JobState int

const (
	JobRunning JobState = iota
	JobSucceeded
	JobFailed
)

// JobShape names the record layout a backend used.
type JobShape string

const (
	ShapeProgress JobShape = "progress"
	ShapeStatus   JobShape = "status"
	ShapeState    JobShape = "state"
	ShapeUnknown  JobShape = "unknown"
)

// Outcome is a job record reduced to a state, with the failure reason on
// JobFailed and a progress label for logging.
type Outcome struct {
	State  JobState
	Shape  JobShape
	Reason string
	Label  string
}

var (
	completedStates = map[string]bool{"done": true, "finished": true, "completed": true, "succeeded": true}
	failedStates    = map[string]bool{"failed": true, "error": true}
)

// Classify normalizes the three job record layouts. A progress/total pair
// wins over a status field, which wins over a state field.
func Classify(job engine.Job) Outcome {
	_, hasProgress := job["progress"]
	_, hasTotal := job["total"]
	if hasProgress && hasTotal {
		if errorFlagged(job["error"]) {
			return Outcome{State: JobFailed, Shape: ShapeProgress, Reason: failureReason(job, "error_message", "errorMessage", "error")}
		}
		progress, _ := engine.Float(job["progress"])
		total, _ := engine.Float(job["total"])
		label := fmt.Sprintf("%s/%s", engine.StringField(job, "progress"), engine.StringField(job, "total"))
		if total > 0 && progress >= total {
			return Outcome{State: JobSucceeded, Shape: ShapeProgress, Label: label}
		}
		return Outcome{State: JobRunning, Shape: ShapeProgress, Label: label}
	}

	if raw, ok := job["status"]; ok {
		status := strings.ToLower(fmt.Sprint(raw))
		switch status {
		case "succeeded":
			return Outcome{State: JobSucceeded, Shape: ShapeStatus, Label: status}
		case "failed":
			return Outcome{State: JobFailed, Shape: ShapeStatus, Label: status, Reason: failureReason(job, "error", "error_message", "errorMessage")}
		}
		return Outcome{State: JobRunning, Shape: ShapeStatus, Label: status}
	}

	if raw, ok := job["state"]; ok {
		state := strings.ToLower(fmt.Sprint(raw))
		switch {
		case completedStates[state]:
			return Outcome{State: JobSucceeded, Shape: ShapeState, Label: state}
		case failedStates[state]:
			return Outcome{State: JobFailed, Shape: ShapeState, Label: state, Reason: failureReason(job, "error", "error_message", "errorMessage")}
		}
		return Outcome{State: JobRunning, Shape: ShapeState, Label: state}
	}

	return Outcome{State: JobRunning, Shape: ShapeUnknown, Label: string(ShapeUnknown)}
}

func errorFlagged(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	default:
		f, ok := engine.Float(v)
		return ok && f != 0
	}
}

func failureReason(job engine.Job, keys ...string) string {
	for _, key := range keys {
		if _, isBool := job[key].(bool); isBool {
			continue
		}
		if msg := engine.StringField(job, key); msg != "" {
			return msg
		}
	}
	return "Unknown error"
}

// JobFailedError reports a job the backend marked as failed.
type JobFailedError struct {
	JobID       string
	Description string
	Reason      string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Description, e.Reason)
}

// JobTimeoutError reports a job still running after its wait budget.
type JobTimeoutError struct {
	JobID       string
	Description string
	Elapsed     time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %ds", e.Description, int(e.Elapsed.Seconds()))
}

// JobFetcher reads a job record.
type JobFetcher interface {
	GetJob(ctx context.Context, jobID string) (engine.Job, error)
}

// Poller waits for engine jobs to finish.
type Poller struct {
	Fetcher  JobFetcher
	Interval time.Duration
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Wait polls jobID until it succeeds, fails, or maxWait elapses, and
// returns the last record fetched. maxWait <= 0 waits indefinitely.
func (p *Poller) Wait(ctx context.Context, jobID, description string, maxWait time.Duration) (engine.Job, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	telemetry.Info("poller.wait", map[string]any{"job_id": jobID, "description": description})
	start := now()
	lastLabel := ""
	for {
		job, err := p.Fetcher.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("%s: get job %s: %w", description, jobID, err)
		}
		outcome := Classify(job)
		if outcome.Label != lastLabel {
			if outcome.Shape == ShapeUnknown {
				telemetry.Warn("poller.unknown_shape", map[string]any{"job_id": jobID, "description": description})
			} else {
				telemetry.Info("poller.status", map[string]any{"job_id": jobID, "description": description, "status": outcome.Label})
			}
			lastLabel = outcome.Label
		}

		switch outcome.State {
		case JobSucceeded:
			telemetry.Info("poller.done", map[string]any{
				"job_id":      jobID,
				"description": description,
				"elapsed_s":   now().Sub(start).Seconds(),
			})
			return job, nil
		case JobFailed:
			return job, &JobFailedError{JobID: jobID, Description: description, Reason: outcome.Reason}
		}

		if elapsed := now().Sub(start); maxWait > 0 && elapsed > maxWait {
			return job, &JobTimeoutError{JobID: jobID, Description: description, Elapsed: elapsed}
		}
		if err := sleep(ctx, interval); err != nil {
			return job, fmt.Errorf("%s: %w", description, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
