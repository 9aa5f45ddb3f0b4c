// Package managed talks to graph analytics engines provisioned through the
// managed platform's engine management API.
package managed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/engine/apiclient"
	"gae-orchestrator/internal/shared/telemetry"
)

const (
	defaultTokenLifetime      = 24 * time.Hour
	defaultRefreshBefore      = time.Hour
	defaultEngineReadyTimeout = 60 * time.Second
	defaultEngineAPITimeout   = 30 * time.Second
	defaultPollInterval       = 2 * time.Second
	apiPath                   = "/graph-analytics/api/graphanalytics/v1"
)

// Options configures a Client.
type Options struct {
	DeploymentURL string
	Port          int
	// BaseURL overrides the management URL built from DeploymentURL and Port.
	BaseURL string

	APIKeyID     string
	APIKeySecret string
	Token        string

	Timeout            time.Duration
	InsecureSkipVerify bool
	RequestsPerSecond  float64

	TokenLifetime      time.Duration
	RefreshBefore      time.Duration
	EngineReadyTimeout time.Duration
	EngineAPITimeout   time.Duration
	PollInterval       time.Duration

	Login LoginFunc
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client implements engine.Connection for the managed platform.
type Client struct {
	engine.Operations

	api     *apiclient.Client
	baseURL string
	opts    Options

	mu        sync.Mutex
	engineID  string
	engineURL string
}

var (
	_ engine.Connection    = (*Client)(nil)
	_ engine.EngineLister  = (*Client)(nil)
	_ engine.DeployTracker = (*Client)(nil)
)

// New constructs a managed platform client. Without a preset token the
// first request logs in with the API key.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		if opts.DeploymentURL == "" {
			return nil, fmt.Errorf("ARANGO_ENDPOINT not set")
		}
		port := opts.Port
		if port == 0 {
			port = 8829
		}
		opts.BaseURL = fmt.Sprintf("%s:%d%s", strings.TrimRight(opts.DeploymentURL, "/"), port, apiPath)
	}
	if opts.Token == "" && (opts.APIKeyID == "" || opts.APIKeySecret == "") {
		return nil, fmt.Errorf("ARANGO_GRAPH_TOKEN not set and API key credentials missing")
	}
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = defaultTokenLifetime
	}
	if opts.RefreshBefore <= 0 || opts.RefreshBefore >= opts.TokenLifetime {
		opts.RefreshBefore = defaultRefreshBefore
	}
	if opts.EngineReadyTimeout <= 0 {
		opts.EngineReadyTimeout = defaultEngineReadyTimeout
	}
	if opts.EngineAPITimeout <= 0 {
		opts.EngineAPITimeout = defaultEngineAPITimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Login == nil {
		opts.Login = OasisctlLogin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	c := &Client{baseURL: strings.TrimRight(opts.BaseURL, "/"), opts: opts}
	var initial *oauth2.Token
	if opts.Token != "" {
		initial = c.newToken(opts.Token)
	}
	tokens := apiclient.NewTokenSource(initial, apiclient.TokenFunc(c.login))
	c.api = apiclient.New(apiclient.Options{
		Timeout:            opts.Timeout,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		RequestsPerSecond:  opts.RequestsPerSecond,
		Burst:              2,
		RetryUnauthorized:  true,
	}, tokens)
	c.Operations = engine.Operations{Requester: c}
	return c, nil
}

// Request routes management endpoints to the platform API and everything
// else to the current engine.
func (c *Client) Request(ctx context.Context, method, endpoint string, payload any) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, method, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	endpoint = strings.TrimLeft(endpoint, "/")
	var url string
	if isManagementEndpoint(endpoint) {
		url = c.baseURL + "/" + endpoint
	} else {
		c.mu.Lock()
		engineURL := c.engineURL
		c.mu.Unlock()
		if engineURL == "" {
			return fmt.Errorf("%s %s: %w", method, endpoint, engine.ErrNoEngine)
		}
		url = strings.TrimRight(engineURL, "/") + "/" + endpoint
	}
	return c.api.Do(ctx, method, url, payload, out)
}

// APIVersion returns the management API version document.
func (c *Client) APIVersion(ctx context.Context) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, "api-version", nil)
}

// ListEngineSizes returns the engine sizes offered by the platform.
func (c *Client) ListEngineSizes(ctx context.Context) ([]map[string]any, error) {
	raw, err := c.Request(ctx, http.MethodGet, "enginesizes", nil)
	if err != nil {
		return nil, err
	}
	return items(raw), nil
}

// ListEngines returns all engines currently deployed.
func (c *Client) ListEngines(ctx context.Context) ([]engine.Engine, error) {
	raw, err := c.Request(ctx, http.MethodGet, "engines", nil)
	if err != nil {
		return nil, err
	}
	var engines []engine.Engine
	for _, item := range items(raw) {
		engines = append(engines, engineFromRecord(item))
	}
	return engines, nil
}

// GetEngine returns the platform record for one engine.
func (c *Client) GetEngine(ctx context.Context, engineID string) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, "engines/"+engineID, nil)
}

// DeployEngine creates an engine and blocks until its API answers.
func (c *Client) DeployEngine(ctx context.Context, size, engineType string) (engine.Engine, error) {
	raw, err := c.Request(ctx, http.MethodPost, "engines", map[string]any{
		"type_id": engineType,
		"size_id": size,
	})
	if err != nil {
		return engine.Engine{}, fmt.Errorf("deploy engine: %w", err)
	}
	id := engine.StringField(raw, "id")
	if id == "" {
		return engine.Engine{}, fmt.Errorf("deploy engine: response missing engine id")
	}
	c.setCurrent(id, "")
	telemetry.Info("engine.deploying", map[string]any{"engine_id": id, "size": size, "type": engineType})

	details, err := c.waitEngineReady(ctx, id)
	if err != nil {
		return engine.Engine{ID: id, Size: size, Type: engineType}, err
	}
	deployed := engineFromRecord(details)
	if deployed.ID == "" {
		deployed.ID = id
	}
	if deployed.URL == "" {
		return deployed, fmt.Errorf("engine %s reported ready without an endpoint", id)
	}
	c.setCurrent(id, deployed.URL)

	if err := c.waitEngineAPIReady(ctx); err != nil {
		return deployed, err
	}
	telemetry.Info("engine.ready", map[string]any{"engine_id": id, "url": deployed.URL})
	return deployed, nil
}

// DeleteEngine deletes the engine and forgets it if it was current.
func (c *Client) DeleteEngine(ctx context.Context, engineID string) error {
	if engineID == "" {
		engineID = c.CurrentEngineID()
	}
	if engineID == "" {
		return fmt.Errorf("delete engine: %w", engine.ErrNoEngine)
	}
	if _, err := c.Request(ctx, http.MethodDelete, "engines/"+engineID, nil); err != nil {
		return fmt.Errorf("delete engine %s: %w", engineID, err)
	}
	c.mu.Lock()
	if c.engineID == engineID {
		c.engineID = ""
		c.engineURL = ""
	}
	c.mu.Unlock()
	telemetry.Info("engine.deleted", map[string]any{"engine_id": engineID})
	return nil
}

// CurrentEngineID returns the engine created by the last deploy call.
func (c *Client) CurrentEngineID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engineID
}

// GetJob fetches a job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	raw, err := c.Request(ctx, http.MethodGet, "v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	return engine.Job(raw), nil
}

// GetGraph fetches a loaded graph.
func (c *Client) GetGraph(ctx context.Context, graphID string) (engine.Graph, error) {
	raw, err := c.Request(ctx, http.MethodGet, "v1/graphs/"+graphID, nil)
	if err != nil {
		return engine.Graph{}, err
	}
	return engine.ParseGraph(raw), nil
}

func (c *Client) waitEngineReady(ctx context.Context, engineID string) (map[string]any, error) {
	start := c.opts.Now()
	for {
		details, err := c.GetEngine(ctx, engineID)
		if err != nil {
			return nil, fmt.Errorf("engine %s status: %w", engineID, err)
		}
		status := engine.MapField(details, "status")
		if engine.BoolField(status, "is_started") && engine.BoolField(status, "succeeded") {
			return details, nil
		}
		if c.opts.Now().Sub(start) >= c.opts.EngineReadyTimeout {
			return nil, fmt.Errorf("engine %s did not start within %s", engineID, c.opts.EngineReadyTimeout)
		}
		if err := c.opts.Sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) waitEngineAPIReady(ctx context.Context) error {
	start := c.opts.Now()
	var lastErr error
	for {
		_, err := c.Request(ctx, http.MethodGet, "v1/version", nil)
		if err == nil {
			return nil
		}
		lastErr = err
		if c.opts.Now().Sub(start) >= c.opts.EngineAPITimeout {
			return fmt.Errorf("engine API did not become ready within %s: %w", c.opts.EngineAPITimeout, lastErr)
		}
		if err := c.opts.Sleep(ctx, c.opts.PollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) setCurrent(id, url string) {
	c.mu.Lock()
	c.engineID = id
	c.engineURL = url
	c.mu.Unlock()
}

func (c *Client) login() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	tok, err := c.opts.Login(ctx, c.opts.APIKeyID, c.opts.APIKeySecret)
	if err != nil {
		return nil, err
	}
	telemetry.Info("engine.token.refreshed", map[string]any{"lifetime_hours": c.opts.TokenLifetime.Hours()})
	return c.newToken(tok), nil
}

// newToken stamps the token so it is renewed RefreshBefore ahead of expiry.
// Expiry is on the wall clock because oauth2 checks it against time.Now.
func (c *Client) newToken(access string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "bearer",
		Expiry:      time.Now().Add(c.opts.TokenLifetime - c.opts.RefreshBefore),
	}
}

func isManagementEndpoint(endpoint string) bool {
	for _, prefix := range []string{"engines", "enginesizes", "api-version"} {
		if endpoint == prefix || strings.HasPrefix(endpoint, prefix+"/") {
			return true
		}
	}
	return false
}

func items(raw map[string]any) []map[string]any {
	list, _ := raw["items"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func engineFromRecord(raw map[string]any) engine.Engine {
	status := engine.MapField(raw, "status")
	state := "pending"
	switch {
	case engine.BoolField(status, "succeeded"):
		state = "running"
	case engine.BoolField(status, "is_started"):
		state = "starting"
	}
	return engine.Engine{
		ID:     engine.StringField(raw, "id"),
		URL:    engine.StringField(status, "endpoint"),
		Type:   engine.StringField(raw, "type_id"),
		Size:   engine.StringField(raw, "size_id"),
		Status: state,
		Raw:    raw,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
