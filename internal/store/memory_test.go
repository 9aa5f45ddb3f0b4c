package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDatabaseCountAndIndexes(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDatabase("graphs")
	db.Put("results", map[string]any{"id": "a"}, map[string]any{"id": "b"})

	n, err := db.Count(ctx, "results")
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if _, err := db.Count(ctx, "missing"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}

	created, err := db.EnsurePersistentIndex(ctx, "results", []string{"id"}, "idx_results_id")
	if err != nil || !created {
		t.Fatalf("first ensure = %v, %v", created, err)
	}
	created, err = db.EnsurePersistentIndex(ctx, "results", []string{"id"}, "idx_results_id")
	if err != nil || created {
		t.Fatalf("second ensure = %v, %v", created, err)
	}
	idx, err := db.Indexes(ctx, "results")
	if err != nil || len(idx) != 2 {
		t.Fatalf("Indexes = %v, %v", idx, err)
	}

	if err := db.Truncate(ctx, "results"); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if n, _ := db.Count(ctx, "results"); n != 0 {
		t.Fatalf("expected empty collection, got %d", n)
	}
}

func TestMemoryDatabaseRecordsQueries(t *testing.T) {
	db := NewMemoryDatabase("graphs")
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"n": 1}}, nil
	}
	rows, err := db.Query(context.Background(), "RETURN 1", map[string]any{"x": 1})
	if err != nil || len(rows) != 1 {
		t.Fatalf("Query = %v, %v", rows, err)
	}
	if q := db.Queries(); len(q) != 1 || q[0].Query != "RETURN 1" {
		t.Fatalf("unexpected recorded queries %v", q)
	}
}
