package results

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"gae-orchestrator/internal/shared/storage/object/local"
	"gae-orchestrator/internal/store"
)

func TestWriteCSV(t *testing.T) {
	rows := []map[string]any{
		{"id": "users/1", "rank": 0.25},
		{"id": "users/2", "tags": []any{"a", "b"}},
	}
	var b strings.Builder
	if err := WriteCSV(&b, rows, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "id,rank,tags\nusers/1,0.25,\nusers/2,,\"[\"\"a\"\",\"\"b\"\"]\"\n"
	if b.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", b.String(), want)
	}
}

func TestExport(t *testing.T) {
	quiet(t)
	ctx := context.Background()
	db := store.NewMemoryDatabase("graphs")
	db.OnQuery = func(q string, bind map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"id": "users/1", "rank": 0.5}, {"id": "users/2", "rank": 0.1}}, nil
	}
	objects := local.New(t.TempDir())

	n, err := Export(ctx, db, objects, ExportOptions{
		Collection: "pagerank_results",
		Format:     FormatCSV,
		Key:        "exports/top.csv",
		Fields:     []string{"id", "rank"},
		Filter:     "r.rank > 0",
		Limit:      2,
	})
	if err != nil || n != 2 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	q := db.Queries()[0]
	if q.Query != "FOR r IN @@col FILTER r.rank > 0 LIMIT @limit RETURN KEEP(r, @fields)" {
		t.Fatalf("unexpected query %q", q.Query)
	}
	if got := read(t, objects, "exports/top.csv"); got != "id,rank\nusers/1,0.5\nusers/2,0.1\n" {
		t.Fatalf("unexpected csv %q", got)
	}

	if _, err := Export(ctx, db, objects, ExportOptions{Collection: "pagerank_results", Format: FormatJSON, Key: "exports/all.json"}); err != nil {
		t.Fatalf("Export json: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal([]byte(read(t, objects, "exports/all.json")), &docs); err != nil || len(docs) != 2 {
		t.Fatalf("json export = %v, %v", docs, err)
	}
}

func TestExportEmptyWritesNothing(t *testing.T) {
	quiet(t)
	objects := local.New(t.TempDir())
	n, err := Export(context.Background(), store.NewMemoryDatabase("graphs"), objects, ExportOptions{Collection: "c", Key: "out.json"})
	if err != nil || n != 0 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	if _, err := objects.Open(context.Background(), "out.json"); err == nil {
		t.Fatal("no object should be written for an empty result")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" CSV "); err != nil || f != FormatCSV {
		t.Fatalf("ParseFormat = %q, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for xml")
	}
}

func read(t *testing.T, objects *local.Store, key string) string {
	t.Helper()
	rc, err := objects.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(b)
}
