// Package results maintains the collections an engine writes results into:
// index management, structural checks, comparison and bulk edits.
package results

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gae-orchestrator/internal/shared/telemetry"
	"gae-orchestrator/internal/store"
)

// DefaultCollections are the result collections indexed when none are named.
var DefaultCollections = []string{"pagerank_results", "wcc_results", "label_propagation_results"}

// IDField holds the source vertex document id on every result record.
const IDField = "id"

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrFilterRequired    = errors.New("filter expression is required")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func checkIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, name)
	}
	return nil
}

// IndexReport counts the outcome of EnsureIndexes.
type IndexReport struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Missing  int `json:"missing"`
}

// EnsureIndexes makes sure each collection has a persistent index on the id
// field. Collections that are absent or fail are counted as missing.
func EnsureIndexes(ctx context.Context, db store.Database, collections []string) IndexReport {
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	var rep IndexReport
	for _, name := range collections {
		ok, err := db.CollectionExists(ctx, name)
		if err != nil || !ok {
			telemetry.Warn("results.index.collection_missing", map[string]any{"collection": name, "error": err})
			rep.Missing++
			continue
		}
		has, err := hasIDIndex(ctx, db, name)
		if err != nil {
			telemetry.Error("results.index.failed", map[string]any{"collection": name, "error": err})
			rep.Missing++
			continue
		}
		if has {
			rep.Existing++
			continue
		}
		if _, err := db.EnsurePersistentIndex(ctx, name, []string{IDField}, "idx_"+name+"_id"); err != nil {
			telemetry.Error("results.index.failed", map[string]any{"collection": name, "error": err})
			rep.Missing++
			continue
		}
		telemetry.Info("results.index.created", map[string]any{"collection": name})
		rep.Created++
	}
	return rep
}

func hasIDIndex(ctx context.Context, db store.Database, collection string) (bool, error) {
	idxs, err := db.Indexes(ctx, collection)
	if err != nil {
		return false, err
	}
	for _, idx := range idxs {
		if idx.Type != "persistent" {
			continue
		}
		for _, f := range idx.Fields {
			if f == IDField {
				return true, nil
			}
		}
	}
	return false, nil
}

// Verification describes the shape of one result collection.
type Verification struct {
	Exists     bool   `json:"exists"`
	Count      int64  `json:"count"`
	HasIDField bool   `json:"has_id_field"`
	HasIndex   bool   `json:"has_index"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}

// Verify checks that a collection exists, that a sampled record carries the
// id field and that the id field is indexed.
func Verify(ctx context.Context, db store.Database, collection string) Verification {
	var v Verification
	ok, err := db.CollectionExists(ctx, collection)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	if !ok {
		return v
	}
	v.Exists = true
	if v.Count, err = db.Count(ctx, collection); err != nil {
		v.Error = err.Error()
		return v
	}
	if v.Count > 0 {
		rows, err := db.Query(ctx, "FOR doc IN @@col LIMIT 1 RETURN doc", map[string]any{"@col": collection})
		if err == nil && len(rows) > 0 {
			_, v.HasIDField = rows[0][IDField]
		}
	}
	if v.HasIndex, err = hasIDIndex(ctx, db, collection); err != nil {
		v.Error = err.Error()
		return v
	}
	v.Valid = v.HasIDField && v.HasIndex
	return v
}

// FieldKind is the JSON kind a schema check expects a field to hold.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
)

// SchemaReport is the outcome of ValidateSchema.
type SchemaReport struct {
	Valid             bool     `json:"valid"`
	HasRequiredFields bool     `json:"has_required_fields"`
	FieldTypesMatch   bool     `json:"field_types_match"`
	SampleCount       int      `json:"sample_count"`
	Issues            []string `json:"issues"`
}

// SchemaOptions configures ValidateSchema. Fields defaults to the id field
// and SampleSize to 100.
type SchemaOptions struct {
	Fields     []string
	Kinds      map[string]FieldKind
	SampleSize int
}

// ValidateSchema samples a collection and checks the first record for the
// expected fields and kinds.
func ValidateSchema(ctx context.Context, db store.Database, collection string, opts SchemaOptions) (SchemaReport, error) {
	rep := SchemaReport{Issues: []string{}}
	if len(opts.Fields) == 0 {
		opts.Fields = []string{IDField}
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 100
	}

	ok, err := db.CollectionExists(ctx, collection)
	if err != nil {
		return rep, err
	}
	if !ok {
		rep.Issues = append(rep.Issues, fmt.Sprintf("collection %q does not exist", collection))
		return rep, nil
	}
	n, err := db.Count(ctx, collection)
	if err != nil {
		return rep, err
	}
	if n == 0 {
		rep.Issues = append(rep.Issues, "collection is empty")
		return rep, nil
	}

	rows, err := db.Query(ctx, "FOR doc IN @@col LIMIT @n RETURN doc", map[string]any{"@col": collection, "n": opts.SampleSize})
	if err != nil {
		return rep, fmt.Errorf("sample %s: %w", collection, err)
	}
	rep.SampleCount = len(rows)
	if len(rows) == 0 {
		rep.Issues = append(rep.Issues, "could not sample any documents")
		return rep, nil
	}

	sample := rows[0]
	var missing []string
	for _, f := range opts.Fields {
		if _, ok := sample[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		rep.Issues = append(rep.Issues, "missing required fields: "+strings.Join(missing, ", "))
	} else {
		rep.HasRequiredFields = true
	}

	rep.FieldTypesMatch = true
	for field, want := range opts.Kinds {
		v, ok := sample[field]
		if !ok {
			continue
		}
		if got := kindOf(v); got != want {
			rep.FieldTypesMatch = false
			rep.Issues = append(rep.Issues, fmt.Sprintf("%s: expected %s, got %s", field, want, got))
		}
	}
	rep.Valid = rep.HasRequiredFields && rep.FieldTypesMatch
	return rep, nil
}

func kindOf(v any) FieldKind {
	switch v.(type) {
	case string:
		return KindString
	case float64, float32, int, int64, int32:
		return KindNumber
	case bool:
		return KindBool
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case nil:
		return "null"
	default:
		return FieldKind(fmt.Sprintf("%T", v))
	}
}

// Comparison summarizes the id overlap of two result collections.
type Comparison struct {
	FirstCount       int64            `json:"collection1_count"`
	SecondCount      int64            `json:"collection2_count"`
	OverlapCount     int64            `json:"overlap_count"`
	OverlapPercent   float64          `json:"overlap_percentage"`
	FirstOnly        int64            `json:"collection1_only"`
	SecondOnly       int64            `json:"collection2_only"`
	FieldDifferences map[string]int64 `json:"field_differences"`
}

const overlapQuery = `LET ids1 = (FOR r IN @@first RETURN r.id)
LET ids2 = (FOR r IN @@second RETURN r.id)
RETURN LENGTH(INTERSECTION(ids1, ids2))`

// Compare counts shared ids between two collections and, for each named
// field, how many shared records disagree on it.
func Compare(ctx context.Context, db store.Database, first, second string, fields []string) (Comparison, error) {
	cmp := Comparison{FieldDifferences: map[string]int64{}}
	for _, f := range fields {
		if err := checkIdent("field", f); err != nil {
			return cmp, err
		}
	}
	var err error
	if cmp.FirstCount, err = countIfExists(ctx, db, first); err != nil {
		return cmp, err
	}
	if cmp.SecondCount, err = countIfExists(ctx, db, second); err != nil {
		return cmp, err
	}
	if cmp.FirstCount == 0 || cmp.SecondCount == 0 {
		return cmp, nil
	}

	bind := map[string]any{"@first": first, "@second": second}
	rows, err := db.Query(ctx, overlapQuery, bind)
	if err != nil {
		return cmp, fmt.Errorf("overlap %s/%s: %w", first, second, err)
	}
	cmp.OverlapCount = scalarInt(rows)
	cmp.OverlapPercent = float64(cmp.OverlapCount) / float64(cmp.FirstCount) * 100
	cmp.FirstOnly = cmp.FirstCount - cmp.OverlapCount
	cmp.SecondOnly = cmp.SecondCount - cmp.OverlapCount

	for _, f := range fields {
		q := fmt.Sprintf(`RETURN LENGTH(
  FOR r1 IN @@first
    LET r2 = FIRST(FOR x IN @@second FILTER x.id == r1.id RETURN x)
    FILTER r2 != null AND r1.%[1]s != r2.%[1]s
    RETURN 1)`, f)
		rows, err := db.Query(ctx, q, bind)
		if err != nil {
			return cmp, fmt.Errorf("compare field %s: %w", f, err)
		}
		cmp.FieldDifferences[f] = scalarInt(rows)
	}
	return cmp, nil
}

func countIfExists(ctx context.Context, db store.Database, collection string) (int64, error) {
	ok, err := db.CollectionExists(ctx, collection)
	if err != nil || !ok {
		return 0, err
	}
	return db.Count(ctx, collection)
}

// BulkUpdateMetadata merges metadata into every record matching filter (all
// records when filter is empty) and returns the number updated.
func BulkUpdateMetadata(ctx context.Context, db store.Database, collection string, metadata map[string]any, filter string) (int64, error) {
	if len(metadata) == 0 {
		return 0, nil
	}
	q := "LET n = (FOR r IN @@col " + filterClause(filter) + "UPDATE r WITH @metadata IN @@col RETURN 1) RETURN LENGTH(n)"
	rows, err := db.Query(ctx, q, map[string]any{"@col": collection, "metadata": metadata})
	if err != nil {
		return 0, fmt.Errorf("update metadata %s: %w", collection, err)
	}
	n := scalarInt(rows)
	telemetry.Info("results.metadata.updated", map[string]any{"collection": collection, "documents": n})
	return n, nil
}

// CopyOptions configures Copy. Transform is an AQL expression over r; by
// default system attributes are dropped so the target assigns its own.
type CopyOptions struct {
	Filter    string
	Transform string
}

// Copy inserts the (optionally filtered and transformed) records of source
// into target, creating target when it does not exist.
func Copy(ctx context.Context, db store.Database, source, target string, opts CopyOptions) (int64, error) {
	ok, err := db.CollectionExists(ctx, target)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := db.CreateCollection(ctx, target); err != nil {
			return 0, err
		}
	}
	transform := opts.Transform
	if transform == "" {
		transform = `UNSET(r, "_id", "_rev", "_key")`
	}
	q := "LET n = (FOR r IN @@source " + filterClause(opts.Filter) + "INSERT " + transform + " INTO @@target RETURN 1) RETURN LENGTH(n)"
	rows, err := db.Query(ctx, q, map[string]any{"@source": source, "@target": target})
	if err != nil {
		return 0, fmt.Errorf("copy %s to %s: %w", source, target, err)
	}
	return scalarInt(rows), nil
}

// DeleteByFilter removes the records matching filter. An empty filter is
// rejected; use Database.Truncate to empty a collection.
func DeleteByFilter(ctx context.Context, db store.Database, collection, filter string) (int64, error) {
	if strings.TrimSpace(filter) == "" {
		return 0, ErrFilterRequired
	}
	q := "LET n = (FOR r IN @@col " + filterClause(filter) + "REMOVE r IN @@col RETURN 1) RETURN LENGTH(n)"
	rows, err := db.Query(ctx, q, map[string]any{"@col": collection})
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", collection, err)
	}
	n := scalarInt(rows)
	telemetry.Info("results.deleted", map[string]any{"collection": collection, "documents": n})
	return n, nil
}

func filterClause(filter string) string {
	if strings.TrimSpace(filter) == "" {
		return ""
	}
	return "FILTER " + filter + " "
}

// scalarInt reads a single numeric query result.
func scalarInt(rows []map[string]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	switch v := rows[0]["value"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
