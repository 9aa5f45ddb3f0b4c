// Package arango implements store.Database on ArangoDB.
package arango

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"

	"gae-orchestrator/internal/shared/telemetry"
	"gae-orchestrator/internal/store"
)

const defaultTimeout = 300 * time.Second

var ErrDatabaseNotFound = errors.New("configuration error: database does not exist")

// Options configures Connect.
type Options struct {
	Endpoint           string
	Username           string
	Password           string
	Database           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Database adapts a driver database to store.Database.
type Database struct {
	db driver.Database
}

var _ store.Database = (*Database)(nil)

// NewClient builds an authenticated driver client.
func NewClient(opts Options) (driver.Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("ARANGO_ENDPOINT not set")
	}
	if opts.Username == "" {
		opts.Username = "root"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{opts.Endpoint},
		Transport: newTransport(opts.InsecureSkipVerify, timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(opts.Username, opts.Password),
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

// Connect checks the server, confirms the target database exists and
// returns it. Listing databases needs _system access, so a 401 there only
// skips the existence check.
func Connect(ctx context.Context, opts Options) (*Database, error) {
	if opts.Database == "" {
		return nil, fmt.Errorf("ARANGO_DATABASE not set")
	}
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}

	info, err := client.Version(ctx)
	if err != nil {
		if driver.IsUnauthorized(err) {
			return nil, fmt.Errorf("authentication failed for user %q at %s (check ARANGO_PASSWORD): %w", opts.Username, opts.Endpoint, err)
		}
		return nil, fmt.Errorf("connect %s: %w", opts.Endpoint, err)
	}
	telemetry.Info("store.connected", map[string]any{
		"endpoint": opts.Endpoint,
		"version":  string(info.Version),
		"server":   info.Server,
	})

	dbs, err := client.Databases(ctx)
	switch {
	case err == nil:
		names := make([]string, 0, len(dbs))
		for _, db := range dbs {
			names = append(names, db.Name())
		}
		if !contains(names, opts.Database) {
			return nil, fmt.Errorf("%w: %s (available: %s)", ErrDatabaseNotFound, opts.Database, strings.Join(names, ", "))
		}
	case driver.IsUnauthorized(err) || driver.IsForbidden(err):
		telemetry.Warn("store.databases.list_denied", map[string]any{"user": opts.Username, "error": err})
	default:
		return nil, fmt.Errorf("list databases: %w", err)
	}

	db, err := client.Database(ctx, opts.Database)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, opts.Database)
		}
		return nil, fmt.Errorf("open database %s: %w", opts.Database, err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Name() string { return d.db.Name() }

func (d *Database) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := d.db.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("collection exists %s: %w", name, err)
	}
	return ok, nil
}

func (d *Database) CreateCollection(ctx context.Context, name string) error {
	if _, err := d.db.CreateCollection(ctx, name, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (d *Database) Count(ctx context.Context, collection string) (int64, error) {
	col, err := d.collection(ctx, collection)
	if err != nil {
		return 0, err
	}
	n, err := col.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (d *Database) Query(ctx context.Context, query string, bindVars map[string]any) ([]map[string]any, error) {
	cursor, err := d.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer cursor.Close()

	var out []map[string]any
	for {
		var doc any
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cursor: %w", err)
		}
		out = append(out, asRecord(doc))
	}
	return out, nil
}

func (d *Database) Indexes(ctx context.Context, collection string) ([]store.Index, error) {
	col, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	idxs, err := col.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexes %s: %w", collection, err)
	}
	out := make([]store.Index, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, toIndex(idx))
	}
	return out, nil
}

func (d *Database) EnsurePersistentIndex(ctx context.Context, collection string, fields []string, name string) (bool, error) {
	col, err := d.collection(ctx, collection)
	if err != nil {
		return false, err
	}
	_, created, err := col.EnsurePersistentIndex(ctx, fields, &driver.EnsurePersistentIndexOptions{Name: name})
	if err != nil {
		return false, fmt.Errorf("ensure index %s on %s: %w", name, collection, err)
	}
	return created, nil
}

func (d *Database) Truncate(ctx context.Context, collection string) error {
	col, err := d.collection(ctx, collection)
	if err != nil {
		return err
	}
	if err := col.Truncate(ctx); err != nil {
		return fmt.Errorf("truncate %s: %w", collection, err)
	}
	return nil
}

func (d *Database) collection(ctx context.Context, name string) (driver.Collection, error) {
	col, err := d.db.Collection(ctx, name)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, store.ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	return col, nil
}

func toIndex(idx driver.Index) store.Index {
	name := idx.UserName()
	if name == "" {
		name = idx.Name()
	}
	return store.Index{Name: name, Type: string(idx.Type()), Fields: idx.Fields()}
}

// asRecord wraps scalar query results so every row is a record.
func asRecord(doc any) map[string]any {
	if m, ok := doc.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": doc}
}

func newTransport(insecure bool, timeout time.Duration) *nethttp.Transport {
	return &nethttp.Transport{
		Proxy: nethttp.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure},
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
