package workflow

import (
	"errors"
	"fmt"
	"strings"

	"gae-orchestrator/internal/engine"
)

const (
	DefaultEngineSize       = "e16"
	DefaultEngineType       = "gral"
	DefaultTargetCollection = "graph_analysis_results"
	DefaultMaxRetries       = 3
	DefaultTimeoutSeconds   = 3600
	DefaultStoreParallelism = 8
	DefaultStoreBatchSize   = 10000
)

var ErrInvalidConfig = errors.New("invalid configuration")

// AnalysisConfig describes one analysis run.
type AnalysisConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`

	// Graph source: GraphName, or both collection lists.
	VertexCollections []string `json:"vertex_collections,omitempty" yaml:"vertex_collections"`
	EdgeCollections   []string `json:"edge_collections,omitempty" yaml:"edge_collections"`
	GraphName         string   `json:"graph_name,omitempty" yaml:"graph_name"`
	VertexAttributes  []string `json:"vertex_attributes,omitempty" yaml:"vertex_attributes"`
	Database          string   `json:"database,omitempty" yaml:"database"`

	Algorithm       engine.Algorithm `json:"algorithm" yaml:"algorithm"`
	AlgorithmParams map[string]any   `json:"algorithm_params,omitempty" yaml:"algorithm_params"`
	ResultField     string           `json:"result_field,omitempty" yaml:"result_field"`

	EngineSize string `json:"engine_size" yaml:"engine_size"`
	EngineType string `json:"engine_type" yaml:"engine_type"`

	TargetCollection string `json:"target_collection" yaml:"target_collection"`
	StoreParallelism int    `json:"store_parallelism,omitempty" yaml:"store_parallelism"`
	StoreBatchSize   int    `json:"store_batch_size,omitempty" yaml:"store_batch_size"`

	AutoCleanup    bool `json:"auto_cleanup" yaml:"auto_cleanup"`
	RetryOnFailure bool `json:"retry_on_failure" yaml:"retry_on_failure"`
	MaxRetries     int  `json:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int  `json:"timeout_seconds" yaml:"timeout_seconds"`

	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty" yaml:"estimated_cost_usd"`
}

// DefaultConfig returns a configuration carrying every default except the
// graph source.
func DefaultConfig(name string) AnalysisConfig {
	return AnalysisConfig{
		Name:             name,
		Algorithm:        engine.PageRank,
		EngineSize:       DefaultEngineSize,
		EngineType:       DefaultEngineType,
		TargetCollection: DefaultTargetCollection,
		StoreParallelism: DefaultStoreParallelism,
		StoreBatchSize:   DefaultStoreBatchSize,
		AutoCleanup:      true,
		RetryOnFailure:   true,
		MaxRetries:       DefaultMaxRetries,
		TimeoutSeconds:   DefaultTimeoutSeconds,
	}
}

// withDefaults fills derived fields: database, result field and algorithm
// parameters.
func (c AnalysisConfig) withDefaults(defaultDatabase string) AnalysisConfig {
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Algorithm == "" {
		c.Algorithm = engine.PageRank
	}
	if c.ResultField == "" {
		c.ResultField = string(c.Algorithm) + "_" + c.Name
	}
	if len(c.AlgorithmParams) == 0 {
		c.AlgorithmParams = engine.DefaultParams(c.Algorithm)
	}
	if c.EngineSize == "" {
		c.EngineSize = DefaultEngineSize
	}
	if c.EngineType == "" {
		c.EngineType = DefaultEngineType
	}
	if c.TargetCollection == "" {
		c.TargetCollection = DefaultTargetCollection
	}
	if c.StoreParallelism <= 0 {
		c.StoreParallelism = DefaultStoreParallelism
	}
	if c.StoreBatchSize <= 0 {
		c.StoreBatchSize = DefaultStoreBatchSize
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Validate checks the graph source and algorithm selector. Betweenness is
// rejected here, before any engine is deployed.
func (c AnalysisConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := c.loadRequest().Validate(); err != nil {
		return err
	}
	switch {
	case c.Algorithm == engine.Betweenness:
		return engine.ErrBetweennessUnsupported
	case c.Algorithm != "" && !c.Algorithm.Known():
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, string(c.Algorithm))
	}
	return nil
}

// attempts is the number of loop iterations allowed by the retry policy.
func (c AnalysisConfig) attempts() int {
	if !c.RetryOnFailure {
		return 1
	}
	return c.MaxRetries + 1
}

func (c AnalysisConfig) loadRequest() engine.LoadRequest {
	return engine.LoadRequest{
		Database:          c.Database,
		GraphName:         c.GraphName,
		VertexCollections: c.VertexCollections,
		EdgeCollections:   c.EdgeCollections,
		VertexAttributes:  c.VertexAttributes,
	}
}
