package results

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gae-orchestrator/internal/shared/telemetry"
	"gae-orchestrator/internal/store"
)

func quiet(t *testing.T) {
	t.Helper()
	t.Cleanup(telemetry.SetOutput(io.Discard))
}

func TestEnsureIndexes(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.Put("pagerank_results", map[string]any{"id": "users/1"})
	db.Put("wcc_results")
	if _, err := db.EnsurePersistentIndex(ctx, "wcc_results", []string{"id"}, "existing"); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	rep := EnsureIndexes(ctx, db, nil)
	if rep != (IndexReport{Created: 1, Existing: 1, Missing: 1}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	idxs, _ := db.Indexes(ctx, "pagerank_results")
	if idxs[len(idxs)-1].Name != "idx_pagerank_results_id" {
		t.Fatalf("expected named index, got %+v", idxs)
	}

	again := EnsureIndexes(ctx, db, []string{"pagerank_results"})
	if again != (IndexReport{Existing: 1}) {
		t.Fatalf("second pass should find the index, got %+v", again)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.Put("scores", map[string]any{"id": "users/1", "rank": 0.2})
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		return db.Documents(bind["@col"].(string)), nil
	}

	v := Verify(ctx, db, "scores")
	if !v.Exists || v.Count != 1 || !v.HasIDField || v.HasIndex || v.Valid {
		t.Fatalf("unexpected verification %+v", v)
	}
	_, _ = db.EnsurePersistentIndex(ctx, "scores", []string{"id"}, "idx_scores_id")
	if v := Verify(ctx, db, "scores"); !v.Valid {
		t.Fatalf("expected valid after indexing, got %+v", v)
	}
	if v := Verify(ctx, db, "absent"); v.Exists || v.Valid {
		t.Fatalf("absent collection reported %+v", v)
	}
}

func TestValidateSchema(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.Put("scores", map[string]any{"id": "users/1", "rank": "high"})
	db.Put("empty")
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		return db.Documents(bind["@col"].(string)), nil
	}

	rep, err := ValidateSchema(ctx, db, "scores", SchemaOptions{
		Fields: []string{"id", "component"},
		Kinds:  map[string]FieldKind{"rank": KindNumber, "id": KindString},
	})
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if rep.Valid || rep.HasRequiredFields || rep.FieldTypesMatch || rep.SampleCount != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(rep.Issues) != 2 || !strings.Contains(rep.Issues[1], "rank: expected number, got string") {
		t.Fatalf("unexpected issues %q", rep.Issues)
	}

	rep, err = ValidateSchema(ctx, db, "empty", SchemaOptions{})
	if err != nil || rep.Valid || rep.Issues[0] != "collection is empty" {
		t.Fatalf("empty collection: %+v, %v", rep, err)
	}
	rep, _ = ValidateSchema(ctx, db, "absent", SchemaOptions{})
	if !strings.Contains(rep.Issues[0], "does not exist") {
		t.Fatalf("absent collection: %+v", rep)
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.Put("run_a", map[string]any{"id": "a"}, map[string]any{"id": "b"}, map[string]any{"id": "c"}, map[string]any{"id": "d"})
	db.Put("run_b", map[string]any{"id": "a"}, map[string]any{"id": "b"}, map[string]any{"id": "x"})
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		if strings.Contains(q, "INTERSECTION") {
			return []map[string]any{{"value": float64(2)}}, nil
		}
		return []map[string]any{{"value": float64(1)}}, nil
	}

	cmp, err := Compare(ctx, db, "run_a", "run_b", []string{"rank"})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if cmp.FirstCount != 4 || cmp.SecondCount != 3 || cmp.OverlapCount != 2 {
		t.Fatalf("unexpected counts %+v", cmp)
	}
	if cmp.OverlapPercent != 50 || cmp.FirstOnly != 2 || cmp.SecondOnly != 1 {
		t.Fatalf("unexpected overlap %+v", cmp)
	}
	if cmp.FieldDifferences["rank"] != 1 {
		t.Fatalf("unexpected field differences %+v", cmp.FieldDifferences)
	}
	qs := db.Queries()
	if !strings.Contains(qs[1].Query, "r1.rank != r2.rank") {
		t.Fatalf("field query not rendered: %s", qs[1].Query)
	}

	if _, err := Compare(ctx, db, "run_a", "run_b", []string{"rank) OR true"}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("expected invalid identifier, got %v", err)
	}
	empty, err := Compare(ctx, db, "run_a", "absent", nil)
	if err != nil || empty.OverlapCount != 0 || empty.FirstCount != 4 {
		t.Fatalf("absent second collection: %+v, %v", empty, err)
	}
}

func TestBulkEdits(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.Put("scores", map[string]any{"id": "a"})
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"value": float64(7)}}, nil
	}

	n, err := BulkUpdateMetadata(ctx, db, "scores", map[string]any{"run": "r1"}, "r.rank >= 0.1")
	if err != nil || n != 7 {
		t.Fatalf("BulkUpdateMetadata = %d, %v", n, err)
	}
	last := db.Queries()[0]
	if !strings.Contains(last.Query, "FILTER r.rank >= 0.1 UPDATE r WITH @metadata IN @@col") {
		t.Fatalf("unexpected update query %s", last.Query)
	}
	if last.BindVars["metadata"].(map[string]any)["run"] != "r1" {
		t.Fatalf("metadata not bound: %v", last.BindVars)
	}

	if _, err := DeleteByFilter(ctx, db, "scores", "  "); !errors.Is(err, ErrFilterRequired) {
		t.Fatalf("expected ErrFilterRequired, got %v", err)
	}
	if n, err := DeleteByFilter(ctx, db, "scores", "r.rank < 0.01"); err != nil || n != 7 {
		t.Fatalf("DeleteByFilter = %d, %v", n, err)
	}

	n, err = Copy(ctx, db, "scores", "scores_archive", CopyOptions{})
	if err != nil || n != 7 {
		t.Fatalf("Copy = %d, %v", n, err)
	}
	if ok, _ := db.CollectionExists(ctx, "scores_archive"); !ok {
		t.Fatal("Copy should create the target collection")
	}
	qs := db.Queries()
	if q := qs[len(qs)-1]; !strings.Contains(q.Query, `INSERT UNSET(r, "_id", "_rev", "_key") INTO @@target`) || q.BindVars["@target"] != "scores_archive" {
		t.Fatalf("unexpected copy query %+v", q)
	}
}
