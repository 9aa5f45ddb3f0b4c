package results

import (
	"context"
	"fmt"
	"strings"

	"gae-orchestrator/internal/store"
)

// DefaultVertexFields are joined from vertex documents when none are named.
var DefaultVertexFields = []string{"full_name", "category", "email"}

// CrossReferenceOptions configures CrossReference. Filter1 is an AQL
// expression over r1 and Filter2 one over x, the candidate record of the
// second collection. The join fields default to id.
type CrossReferenceOptions struct {
	Filter1    string
	Filter2    string
	JoinField1 string
	JoinField2 string
	Limit      int
}

// CrossReference joins two result collections on their join fields and
// returns {id, result1, result2} records.
func CrossReference(ctx context.Context, db store.Database, first, second string, opts CrossReferenceOptions) ([]map[string]any, error) {
	k1, k2 := opts.JoinField1, opts.JoinField2
	if k1 == "" {
		k1 = IDField
	}
	if k2 == "" {
		k2 = IDField
	}
	if err := checkIdent("join field", k1); err != nil {
		return nil, err
	}
	if err := checkIdent("join field", k2); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("FOR r1 IN @@first\n")
	if opts.Filter1 != "" {
		fmt.Fprintf(&b, "  FILTER %s\n", opts.Filter1)
	}
	fmt.Fprintf(&b, "  LET r2 = FIRST(FOR x IN @@second FILTER x.%s == r1.%s", k2, k1)
	if opts.Filter2 != "" {
		fmt.Fprintf(&b, " FILTER %s", opts.Filter2)
	}
	b.WriteString(" RETURN x)\n  FILTER r2 != null\n")
	if opts.Limit > 0 {
		b.WriteString("  LIMIT @limit\n")
	}
	fmt.Fprintf(&b, "  RETURN {id: r1.%s, result1: r1, result2: r2}", k1)

	bind := map[string]any{"@first": first, "@second": second}
	if opts.Limit > 0 {
		bind["limit"] = opts.Limit
	}
	rows, err := db.Query(ctx, b.String(), bind)
	if err != nil {
		return nil, fmt.Errorf("cross reference %s/%s: %w", first, second, err)
	}
	return rows, nil
}

// InfluentialOptions configures TopInfluentialConnected.
type InfluentialOptions struct {
	PageRankCollection string
	WCCCollection      string
	// ComponentID selects the component; empty means the largest one.
	ComponentID   string
	MinInfluence  float64
	Limit         int
	ScoreField    string
	VertexDetails bool
	VertexFields  []string
}

func (o *InfluentialOptions) defaults() {
	if o.PageRankCollection == "" {
		o.PageRankCollection = "pagerank_results"
	}
	if o.WCCCollection == "" {
		o.WCCCollection = "wcc_results"
	}
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.ScoreField == "" {
		o.ScoreField = "pagerank_influence"
	}
	if o.VertexDetails && len(o.VertexFields) == 0 {
		o.VertexFields = DefaultVertexFields
	}
}

const largestComponentQuery = `FOR r IN @@wcc
  FILTER r.component_id != null
  COLLECT component = r.component_id WITH COUNT INTO size
  SORT size DESC
  LIMIT 1
  RETURN component`

// TopInfluentialConnected returns the highest-scoring PageRank vertices that
// belong to one weakly connected component.
func TopInfluentialConnected(ctx context.Context, db store.Database, opts InfluentialOptions) ([]map[string]any, error) {
	opts.defaults()
	if err := checkIdent("score field", opts.ScoreField); err != nil {
		return nil, err
	}
	var selects []string
	if opts.VertexDetails {
		var err error
		if selects, err = vertexSelects("v", opts.VertexFields); err != nil {
			return nil, err
		}
	}

	component := opts.ComponentID
	if component == "" {
		rows, err := db.Query(ctx, largestComponentQuery, map[string]any{"@wcc": opts.WCCCollection})
		if err != nil {
			return nil, fmt.Errorf("largest component: %w", err)
		}
		if len(rows) == 0 {
			return []map[string]any{}, nil
		}
		component, _ = rows[0]["value"].(string)
		if component == "" {
			return []map[string]any{}, nil
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FOR pr IN @@pagerank\n  SORT pr.%s DESC\n", opts.ScoreField)
	if opts.VertexDetails {
		b.WriteString("  LET v = DOCUMENT(pr.id)\n")
	}
	b.WriteString("  LET wcc = FIRST(FOR w IN @@wcc FILTER w.id == pr.id AND w.component_id == @component_id RETURN w)\n")
	b.WriteString("  FILTER wcc != null\n")
	bind := map[string]any{
		"@pagerank":    opts.PageRankCollection,
		"@wcc":         opts.WCCCollection,
		"component_id": component,
		"limit":        opts.Limit,
	}
	if opts.MinInfluence > 0 {
		fmt.Fprintf(&b, "  FILTER pr.%s >= @min_influence\n", opts.ScoreField)
		bind["min_influence"] = opts.MinInfluence
	}
	b.WriteString("  LIMIT @limit\n  RETURN {vertex_id: pr.id, ")
	for _, s := range selects {
		b.WriteString(s + ", ")
	}
	fmt.Fprintf(&b, "%s: pr.%s, component_id: wcc.component_id, in_connected_network: true}", lastSegment(opts.ScoreField), opts.ScoreField)

	rows, err := db.Query(ctx, b.String(), bind)
	if err != nil {
		return nil, fmt.Errorf("top influential: %w", err)
	}
	return rows, nil
}

// DetailsOptions configures WithDetails.
type DetailsOptions struct {
	Filter string
	Fields []string
	Limit  int
}

// WithDetails returns result records joined with the vertex document their
// id field points at. Records whose vertex is gone are skipped.
func WithDetails(ctx context.Context, db store.Database, collection string, opts DetailsOptions) ([]map[string]any, error) {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultVertexFields
	}
	selects, err := vertexSelects("v", fields)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("FOR r IN @@col\n")
	if opts.Filter != "" {
		fmt.Fprintf(&b, "  FILTER %s\n", opts.Filter)
	}
	b.WriteString("  LET v = DOCUMENT(r.id)\n  FILTER v != null\n")
	bind := map[string]any{"@col": collection}
	if opts.Limit > 0 {
		b.WriteString("  LIMIT @limit\n")
		bind["limit"] = opts.Limit
	}
	fmt.Fprintf(&b, "  RETURN {result_id: r.id, %s, result_data: r}", strings.Join(selects, ", "))

	rows, err := db.Query(ctx, b.String(), bind)
	if err != nil {
		return nil, fmt.Errorf("details %s: %w", collection, err)
	}
	return rows, nil
}

// vertexSelects renders "name: v.path" projections, naming each by the
// last segment of its dotted path.
func vertexSelects(alias string, fields []string) ([]string, error) {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if err := checkIdent("vertex field", f); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s: %s.%s", lastSegment(f), alias, f))
	}
	return out, nil
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
