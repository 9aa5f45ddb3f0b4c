// Package bootstrap builds config-driven dependencies for the binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/engine/managed"
	"gae-orchestrator/internal/engine/selfmanaged"
	"gae-orchestrator/internal/runs"
	"gae-orchestrator/internal/shared/config"
	"gae-orchestrator/internal/shared/server"
	"gae-orchestrator/internal/shared/storage/db"
	"gae-orchestrator/internal/shared/storage/object"
	localstore "gae-orchestrator/internal/shared/storage/object/local"
	s3store "gae-orchestrator/internal/shared/storage/object/s3"
	"gae-orchestrator/internal/store"
	"gae-orchestrator/internal/store/arango"
	"gae-orchestrator/internal/workflow"
)

const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// App holds shared dependencies.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Ledger       string
	Runs         runs.Repo
	Store        object.Store
	Orchestrator *workflow.Orchestrator
}

// Build prepares the ledger, object store, orchestrator and router.
// Engine and database connections are opened lazily by the orchestrator.
func Build(ctx context.Context, cfg config.Config, poolOpts db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}

	sqlDB, err := buildDB(ctx, cfg, poolOpts)
	if err != nil {
		return nil, err
	}
	objects, err := BuildStore(ctx, cfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB, Store: objects}
	if sqlDB != nil {
		app.Runs = &runs.PGRepo{DB: sqlDB}
		app.Ledger = LedgerPostgres
	} else {
		app.Runs = runs.NewMemoryRepo()
		app.Ledger = LedgerMemory
	}
	app.Orchestrator = NewOrchestrator(cfg, app.Runs)
	app.Router = server.NewRouter(server.RouterDeps{
		Runs:      app.Runs,
		Ledger:    app.Ledger,
		DB:        sqlDB,
		RateLimit: cfg.APIRateLimit,
	})
	return app, nil
}

// Close releases the ledger pool.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory run ledger")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.ConnectAndMigrate(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: ledger database unavailable; using in-memory run ledger: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

// BuildStore selects the object store for history and exports.
func BuildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		s, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// NewConnection builds the engine backend for the configured deployment mode.
func NewConnection(cfg config.Config) (engine.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.DeploymentMode {
	case config.ModeSelfManaged:
		c, err := selfmanaged.New(selfmanaged.Options{
			Endpoint:           cfg.ArangoEndpoint,
			Username:           cfg.ArangoUser,
			Password:           cfg.ArangoPassword,
			Timeout:            cfg.ArangoTimeout,
			InsecureSkipVerify: !cfg.ArangoVerifySSL,
			RequestsPerSecond:  cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := managed.New(managed.Options{
			DeploymentURL:      cfg.DeploymentURL(),
			Port:               cfg.GAEPort,
			APIKeyID:           cfg.GraphAPIKeyID,
			APIKeySecret:       cfg.GraphAPIKeySecret,
			Token:              cfg.GraphToken,
			Timeout:            cfg.ArangoTimeout,
			InsecureSkipVerify: !cfg.ArangoVerifySSL,
			RequestsPerSecond:  cfg.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// OpenDatabase connects to a named database on the configured server.
func OpenDatabase(ctx context.Context, cfg config.Config, name string) (store.Database, error) {
	if name == "" {
		name = cfg.ArangoDatabase
	}
	d, err := arango.Connect(ctx, arango.Options{
		Endpoint:           cfg.ArangoEndpoint,
		Username:           cfg.ArangoUser,
		Password:           cfg.ArangoPassword,
		Database:           name,
		InsecureSkipVerify: !cfg.ArangoVerifySSL,
		Timeout:            cfg.ArangoTimeout,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewOrchestrator wires lazy engine and database connections from cfg.
func NewOrchestrator(cfg config.Config, recorder workflow.Recorder) *workflow.Orchestrator {
	return &workflow.Orchestrator{
		Connect: func(ctx context.Context) (engine.Connection, error) {
			return NewConnection(cfg)
		},
		OpenDatabase: func(ctx context.Context, name string) (store.Database, error) {
			return OpenDatabase(ctx, cfg, name)
		},
		DefaultDatabase: cfg.ArangoDatabase,
		PollInterval:    cfg.PollInterval,
		Recorder:        recorder,
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
