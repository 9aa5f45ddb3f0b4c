package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gae-orchestrator/internal/engine"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"ARANGO_GRAPH_TOKEN not set", false},
		{"deploy engine: arango_endpoint NOT SET", false},
		{"ARANGO_DATABASE not set", false},
		{"missing required environment variables: ARANGO_PASSWORD", false},
		{"configuration error: no engine connection configured", false},
		{"Invalid configuration: missing API key", false},
		{"RecursionError: maximum recursion depth exceeded", false},
		{"Transient connection error", true},
		{"Graph loading timed out after 3601s", true},
		{"POST https://x/engines: status 503", true},
		{"", true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.msg); got != tc.want {
			t.Errorf("IsRetryable(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestRetryableErrors(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
	if Retryable(fmt.Errorf("poll: %w", context.Canceled)) {
		t.Fatalf("canceled context is not retryable")
	}
	if Retryable(engine.ErrBetweennessUnsupported) || Retryable(engine.ErrInvalidLoadSource) {
		t.Fatalf("structural engine errors are not retryable")
	}
	if !Retryable(errors.New("connection refused")) {
		t.Fatalf("network errors are retryable")
	}
}
