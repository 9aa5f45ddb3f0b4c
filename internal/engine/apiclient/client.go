// Package apiclient is the authenticated JSON-over-HTTP client shared by
// the engine backends.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 300 * time.Second
	maxErrorBody   = 2048
)

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	RequestsPerSecond  float64
	Burst              int
	// RetryUnauthorized renews the token and repeats a request once after a 401.
	RetryUnauthorized bool
}

// Client issues JSON requests with an optional bearer token.
type Client struct {
	HTTP              *http.Client
	Limiter           *rate.Limiter
	Tokens            *TokenSource
	AuthScheme        string
	RetryUnauthorized bool
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// New constructs a Client. tokens may be nil for unauthenticated calls.
func New(opts Options, tokens *TokenSource) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // ARANGO_VERIFY_SSL=false
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		HTTP:              &http.Client{Timeout: timeout, Transport: transport},
		Limiter:           limiter,
		Tokens:            tokens,
		AuthScheme:        "bearer",
		RetryUnauthorized: opts.RetryUnauthorized,
	}
}

// Do sends payload (if non-nil) as JSON and decodes the response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, url string, payload, out any) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = data
	}

	respBody, err := c.doOnce(ctx, method, url, body)
	if err != nil && c.RetryUnauthorized && c.Tokens != nil && IsStatus(err, http.StatusUnauthorized) {
		c.Tokens.Invalidate()
		respBody, err = c.doOnce(ctx, method, url, body)
	}
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response from %s %s: %w", method, url, err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tokens != nil {
		tok, err := c.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}
		req.Header.Set("Authorization", c.AuthScheme+" "+tok.AccessToken)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout %s %s: %w", method, url, err)
		}
		return nil, fmt.Errorf("request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: msg}
	}
	return respBody, nil
}
