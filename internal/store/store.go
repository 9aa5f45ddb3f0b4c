// Package store defines the document database operations the orchestrator
// and result utilities depend on.
package store

import (
	"context"
	"errors"
)

var ErrCollectionNotFound = errors.New("collection not found")

// Database is a connection to one document database.
type Database interface {
	Name() string
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string) error
	Count(ctx context.Context, collection string) (int64, error)
	// Query runs an AQL query and returns every resulting record.
	Query(ctx context.Context, query string, bindVars map[string]any) ([]map[string]any, error)
	Indexes(ctx context.Context, collection string) ([]Index, error)
	// EnsurePersistentIndex reports whether the index was newly created.
	EnsurePersistentIndex(ctx context.Context, collection string, fields []string, name string) (bool, error)
	Truncate(ctx context.Context, collection string) error
}

// Index describes a collection index.
type Index struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}
