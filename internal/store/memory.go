package store

import (
	"context"
	"fmt"
	"sync"
)

// QueryFunc answers a query issued against a MemoryDatabase.
type QueryFunc func(query string, bindVars map[string]any) ([]map[string]any, error)

// RecordedQuery is a query seen by a MemoryDatabase.
type RecordedQuery struct {
	Query    string
	BindVars map[string]any
}

// MemoryDatabase is an in-memory Database. Queries are answered by OnQuery
// and recorded; it is safe for concurrent use.
type MemoryDatabase struct {
	mu          sync.Mutex
	name        string
	collections map[string][]map[string]any
	indexes     map[string][]Index
	queries     []RecordedQuery

	OnQuery QueryFunc
	// CountErr, when set, is returned by Count.
	CountErr error
}

// NewMemoryDatabase constructs an empty database.
func NewMemoryDatabase(name string) *MemoryDatabase {
	return &MemoryDatabase{
		name:        name,
		collections: make(map[string][]map[string]any),
		indexes:     make(map[string][]Index),
	}
}

// Put replaces the documents of a collection, creating it if needed.
func (m *MemoryDatabase) Put(collection string, docs ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append([]map[string]any(nil), docs...)
}

// Documents returns a copy of a collection's documents.
func (m *MemoryDatabase) Documents(collection string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.collections[collection]...)
}

// Queries returns the queries issued so far.
func (m *MemoryDatabase) Queries() []RecordedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedQuery(nil), m.queries...)
}

func (m *MemoryDatabase) Name() string { return m.name }

func (m *MemoryDatabase) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryDatabase) CreateCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("create collection %s: duplicate name", name)
	}
	m.collections[name] = nil
	return nil
}

func (m *MemoryDatabase) Count(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	docs, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("count %s: %w", collection, ErrCollectionNotFound)
	}
	return int64(len(docs)), nil
}

func (m *MemoryDatabase) Query(ctx context.Context, query string, bindVars map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries = append(m.queries, RecordedQuery{Query: query, BindVars: bindVars})
	fn := m.OnQuery
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(query, bindVars)
}

func (m *MemoryDatabase) Indexes(ctx context.Context, collection string) ([]Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		return nil, fmt.Errorf("indexes %s: %w", collection, ErrCollectionNotFound)
	}
	out := []Index{{Name: "primary", Type: "primary", Fields: []string{"_key"}}}
	return append(out, m.indexes[collection]...), nil
}

func (m *MemoryDatabase) EnsurePersistentIndex(ctx context.Context, collection string, fields []string, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		return false, fmt.Errorf("ensure index on %s: %w", collection, ErrCollectionNotFound)
	}
	for _, idx := range m.indexes[collection] {
		if idx.Name == name {
			return false, nil
		}
	}
	m.indexes[collection] = append(m.indexes[collection], Index{Name: name, Type: "persistent", Fields: fields})
	return true, nil
}

func (m *MemoryDatabase) Truncate(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		return fmt.Errorf("truncate %s: %w", collection, ErrCollectionNotFound)
	}
	m.collections[collection] = nil
	return nil
}
