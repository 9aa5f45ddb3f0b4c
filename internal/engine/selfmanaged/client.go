// Package selfmanaged talks to graph analytics engines started as services
// on a self-managed database deployment.
package selfmanaged

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"gae-orchestrator/internal/engine"
	"gae-orchestrator/internal/engine/apiclient"
	"gae-orchestrator/internal/shared/telemetry"
)

const (
	defaultReadyAttempts = 60
	defaultReadyInterval = 2 * time.Second
	serviceType          = "gral"
	serviceDeployed      = "DEPLOYED"
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Username string
	Password string

	Timeout            time.Duration
	InsecureSkipVerify bool
	RequestsPerSecond  float64

	// DisableReuse always starts a new service instead of adopting a deployed one.
	DisableReuse  bool
	ReadyAttempts int
	ReadyInterval time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// Client implements engine.Connection for self-managed deployments.
type Client struct {
	engine.Operations

	api      *apiclient.Client
	auth     *apiclient.Client
	endpoint string
	opts     Options

	mu        sync.Mutex
	serviceID string
}

var (
	_ engine.Connection    = (*Client)(nil)
	_ engine.DeployTracker = (*Client)(nil)
)

// New constructs a client. Authentication happens on the first request.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("ARANGO_ENDPOINT not set")
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("missing required environment variables: ARANGO_PASSWORD")
	}
	if opts.Username == "" {
		opts.Username = "root"
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = defaultReadyAttempts
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = defaultReadyInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if !strings.Contains(opts.Endpoint, ":8529") {
		telemetry.Warn("engine.endpoint.port", map[string]any{
			"endpoint": opts.Endpoint,
			"hint":     "endpoint has no :8529 port; authentication usually fails with 401",
		})
	}

	c := &Client{endpoint: strings.TrimRight(opts.Endpoint, "/"), opts: opts}
	clientOpts := apiclient.Options{
		Timeout:            opts.Timeout,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		RequestsPerSecond:  opts.RequestsPerSecond,
		Burst:              2,
	}
	c.auth = apiclient.New(clientOpts, nil)
	c.api = apiclient.New(clientOpts, apiclient.NewTokenSource(nil, apiclient.TokenFunc(c.authenticate)))
	c.Operations = engine.Operations{Requester: c}
	return c, nil
}

// Request sends an engine call to the current service, starting or
// adopting one if none is selected yet.
func (c *Client) Request(ctx context.Context, method, endpoint string, payload any) (map[string]any, error) {
	out := map[string]any{}
	if err := c.engineDo(ctx, method, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) engineDo(ctx context.Context, method, endpoint string, payload, out any) error {
	if c.CurrentEngineID() == "" {
		if _, err := c.EnsureService(ctx); err != nil {
			return err
		}
	}
	url := c.engineURL() + "/" + strings.TrimLeft(endpoint, "/")
	return c.api.Do(ctx, method, url, payload, out)
}

// DeployEngine adopts a deployed service when possible, otherwise starts
// one. Size and type are fixed by the deployment.
func (c *Client) DeployEngine(ctx context.Context, size, engineType string) (engine.Engine, error) {
	id, err := c.EnsureService(ctx)
	if err != nil {
		return engine.Engine{ID: c.CurrentEngineID()}, err
	}
	return engine.Engine{
		ID:     id,
		URL:    c.engineURL(),
		Type:   serviceType,
		Size:   size,
		Status: serviceDeployed,
	}, nil
}

// DeleteEngine stops the service.
func (c *Client) DeleteEngine(ctx context.Context, engineID string) error {
	if engineID == "" {
		engineID = c.CurrentEngineID()
	}
	if engineID == "" {
		return fmt.Errorf("delete engine: %w", engine.ErrNoEngine)
	}
	if err := c.api.Do(ctx, http.MethodDelete, c.endpoint+"/gen-ai/v1/service/"+engineID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete engine %s: %w", engineID, err)
	}
	c.mu.Lock()
	if c.serviceID == engineID {
		c.serviceID = ""
	}
	c.mu.Unlock()
	telemetry.Info("engine.deleted", map[string]any{"engine_id": engineID})
	return nil
}

// CurrentEngineID returns the selected service id.
func (c *Client) CurrentEngineID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serviceID
}

// GetJob fetches a job record. Fetch errors yield an empty record so a
// poller keeps waiting.
func (c *Client) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	raw, err := c.Request(ctx, http.MethodGet, "v1/jobs/"+jobID, nil)
	if err != nil {
		telemetry.Warn("engine.job.fetch_failed", map[string]any{"job_id": jobID, "error": err})
		return engine.Job{}, nil
	}
	return engine.Job(raw), nil
}

// GetGraph fetches a loaded graph. Fetch errors yield an empty graph.
func (c *Client) GetGraph(ctx context.Context, graphID string) (engine.Graph, error) {
	raw, err := c.Request(ctx, http.MethodGet, "v1/graphs/"+graphID, nil)
	if err != nil {
		telemetry.Warn("engine.graph.fetch_failed", map[string]any{"graph_id": graphID, "error": err})
		return engine.Graph{}, nil
	}
	return engine.ParseGraph(raw), nil
}

// EnsureService selects a ready service and returns its id.
func (c *Client) EnsureService(ctx context.Context) (string, error) {
	var id string
	if !c.opts.DisableReuse {
		services, err := c.ListServices(ctx)
		if err != nil {
			telemetry.Warn("engine.services.list_failed", map[string]any{"error": err})
		}
		for _, svc := range services {
			if engine.StringField(svc, "status") == serviceDeployed && engine.StringField(svc, "type") == serviceType {
				id = engine.StringField(svc, "serviceId")
				if id != "" {
					telemetry.Info("engine.service.reused", map[string]any{"engine_id": id})
					break
				}
			}
		}
	}
	if id == "" {
		started, err := c.StartService(ctx)
		if err != nil {
			return "", err
		}
		id = started
	}
	c.mu.Lock()
	c.serviceID = id
	c.mu.Unlock()

	for i := 0; i < c.opts.ReadyAttempts; i++ {
		if _, err := c.EngineVersion(ctx); err == nil {
			return id, nil
		}
		if err := c.opts.Sleep(ctx, c.opts.ReadyInterval); err != nil {
			return id, err
		}
	}
	telemetry.Warn("engine.service.not_ready", map[string]any{
		"engine_id": id,
		"waited":    (time.Duration(c.opts.ReadyAttempts) * c.opts.ReadyInterval).String(),
	})
	return id, nil
}

// StartService starts a new analytics service.
func (c *Client) StartService(ctx context.Context) (string, error) {
	var resp struct {
		ServiceInfo struct {
			ServiceID string `json:"serviceId"`
		} `json:"serviceInfo"`
	}
	if err := c.api.Do(ctx, http.MethodPost, c.endpoint+"/gen-ai/v1/graphanalytics", map[string]any{}, &resp); err != nil {
		return "", fmt.Errorf("start engine: %w", err)
	}
	id := resp.ServiceInfo.ServiceID
	if id == "" || id == "null" {
		return "", fmt.Errorf("start engine: response missing service id")
	}
	c.mu.Lock()
	c.serviceID = id
	c.mu.Unlock()
	telemetry.Info("engine.service.started", map[string]any{"engine_id": id})
	return id, nil
}

// ListServices returns the services known to the deployment.
func (c *Client) ListServices(ctx context.Context) ([]map[string]any, error) {
	var resp struct {
		Services []map[string]any `json:"services"`
	}
	if err := c.api.Do(ctx, http.MethodPost, c.endpoint+"/gen-ai/v1/list_services", map[string]any{}, &resp); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return resp.Services, nil
}

// EngineVersion queries the current service's version endpoint.
func (c *Client) EngineVersion(ctx context.Context) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, "v1/version", nil)
}

// ListGraphs returns graphs loaded in the current service.
func (c *Client) ListGraphs(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "v1/graphs")
}

// ListJobs returns jobs known to the current service.
func (c *Client) ListJobs(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "v1/jobs")
}

// DeleteGraph unloads a graph from the current service.
func (c *Client) DeleteGraph(ctx context.Context, graphID string) error {
	if err := c.engineDo(ctx, http.MethodDelete, "v1/graphs/"+graphID, nil, nil); err != nil {
		return fmt.Errorf("delete graph %s: %w", graphID, err)
	}
	return nil
}

// TestConnection authenticates and lists services.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.api.Tokens.Token(); err != nil {
		return err
	}
	_, err := c.ListServices(ctx)
	return err
}

func (c *Client) list(ctx context.Context, endpoint string) ([]map[string]any, error) {
	var raw any
	if err := c.engineDo(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	list, _ := raw.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Client) engineURL() string {
	id := c.CurrentEngineID()
	short := id[strings.LastIndex(id, "-")+1:]
	return c.endpoint + "/gral/" + short
}

func (c *Client) authenticate() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var resp struct {
		JWT string `json:"jwt"`
	}
	body := map[string]string{"username": c.opts.Username, "password": c.opts.Password}
	if err := c.auth.Do(ctx, http.MethodPost, c.endpoint+"/_open/auth", body, &resp); err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			return nil, fmt.Errorf("authentication rejected for user %q (check ARANGO_PASSWORD and that the endpoint includes :8529): %w", c.opts.Username, err)
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if resp.JWT == "" {
		return nil, fmt.Errorf("authenticate: response missing jwt")
	}
	return &oauth2.Token{AccessToken: resp.JWT, TokenType: "bearer", Expiry: tokenExpiry(resp.JWT)}, nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// zero time means the token is used until the server rejects it.
func tokenExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
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
