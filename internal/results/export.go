package results

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gae-orchestrator/internal/shared/storage/object"
	"gae-orchestrator/internal/shared/telemetry"
	"gae-orchestrator/internal/store"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts csv or json, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q (want csv or json)", s)
}

// ExportOptions selects what Export reads and where it writes.
type ExportOptions struct {
	Collection string
	Format     Format
	Key        string
	// Fields restricts and orders the exported columns.
	Fields []string
	Filter string
	Limit  int
}

// Export queries a result collection and writes the records to the object
// store under Key. It returns the number of records written; nothing is
// written when the query matches no records.
func Export(ctx context.Context, db store.Database, objects object.Store, opts ExportOptions) (int, error) {
	if opts.Key == "" {
		return 0, fmt.Errorf("export %s: object key is required", opts.Collection)
	}
	for _, f := range opts.Fields {
		if err := checkIdent("field", f); err != nil {
			return 0, err
		}
	}
	q, bind := exportQuery(opts)
	rows, err := db.Query(ctx, q, bind)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", opts.Collection, err)
	}
	if len(rows) == 0 {
		telemetry.Warn("results.export.empty", map[string]any{"collection": opts.Collection})
		return 0, nil
	}

	var buf bytes.Buffer
	contentType := "application/json"
	switch opts.Format {
	case FormatCSV:
		contentType = "text/csv"
		err = WriteCSV(&buf, rows, opts.Fields)
	case FormatJSON, "":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(rows)
	default:
		return 0, fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", opts.Collection, err)
	}

	n, err := objects.SaveWithKey(ctx, opts.Key, contentType, &buf)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", opts.Key, err)
	}
	telemetry.Info("results.exported", map[string]any{
		"collection": opts.Collection,
		"key":        opts.Key,
		"records":    len(rows),
		"bytes":      n,
	})
	return len(rows), nil
}

func exportQuery(opts ExportOptions) (string, map[string]any) {
	bind := map[string]any{"@col": opts.Collection}
	var b strings.Builder
	b.WriteString("FOR r IN @@col ")
	b.WriteString(filterClause(opts.Filter))
	if opts.Limit > 0 {
		b.WriteString("LIMIT @limit ")
		bind["limit"] = opts.Limit
	}
	if len(opts.Fields) > 0 {
		b.WriteString("RETURN KEEP(r, @fields)")
		bind["fields"] = opts.Fields
	} else {
		b.WriteString("RETURN r")
	}
	return b.String(), bind
}

// WriteCSV writes records as CSV. The header is fields when given, otherwise
// the sorted union of every record's keys. Non-string values are written as
// JSON; missing values are empty.
func WriteCSV(w io.Writer, rows []map[string]any, fields []string) error {
	header := fields
	if len(header) == 0 {
		seen := map[string]struct{}{}
		for _, r := range rows {
			for k := range r {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					header = append(header, k)
				}
			}
		}
		sort.Strings(header)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, r := range rows {
		for i, k := range header {
			s, err := cell(r[k])
			if err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			rec[i] = s
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
