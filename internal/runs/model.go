// Package runs is the persistent ledger of workflow runs. Every status
// transition the orchestrator records upserts the run's row.
package runs

import (
	"context"
	"errors"
	"time"

	"gae-orchestrator/internal/workflow"
)

var ErrNotFound = errors.New("run not found")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Run is one ledger row: indexed columns plus the full result snapshot.
type Run struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Status     workflow.Status         `json:"status"`
	Algorithm  string                  `json:"algorithm"`
	EngineID   string                  `json:"engine_id,omitempty"`
	RetryCount int                     `json:"retry_count"`
	StartedAt  time.Time               `json:"started_at"`
	EndedAt    *time.Time              `json:"ended_at,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`
	Result     workflow.AnalysisResult `json:"result"`
}

// Repo persists runs. It satisfies workflow.Recorder.
type Repo interface {
	Save(ctx context.Context, result workflow.AnalysisResult) error
	GetByID(ctx context.Context, id string) (Run, error)
	// List returns runs newest first.
	List(ctx context.Context, limit, offset int) ([]Run, error)
}

var _ workflow.Recorder = Repo(nil)

func fromResult(res workflow.AnalysisResult, now time.Time) Run {
	algorithm := res.Algorithm
	if algorithm == "" {
		algorithm = string(res.Config.Algorithm)
	}
	return Run{
		ID:         res.ID,
		Name:       res.Config.Name,
		Status:     res.Status,
		Algorithm:  algorithm,
		EngineID:   res.EngineID,
		RetryCount: res.RetryCount,
		StartedAt:  res.StartTime,
		EndedAt:    res.EndTime,
		UpdatedAt:  now,
		Result:     res,
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
