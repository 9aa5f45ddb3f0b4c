package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"gae-orchestrator/internal/workflow"
)

// MemoryRepo is an in-memory Repo used in dev and by the CLI when no
// DATABASE_URL is configured.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Run
	Now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Run), Now: time.Now}
}

// Save inserts or replaces the run for result.ID.
func (r *MemoryRepo) Save(ctx context.Context, result workflow.AnalysisResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run := fromResult(result.Clone(), r.Now().UTC())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[run.ID] = run
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.data[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// List returns runs newest first by start time, honoring limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)

	r.mu.RLock()
	all := make([]Run, 0, len(r.data))
	for _, run := range r.data {
		all = append(all, run)
	}
	r.mu.RUnlock()

	if offset >= len(all) {
		return []Run{}, nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

var _ Repo = (*MemoryRepo)(nil)
