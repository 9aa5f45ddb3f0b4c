package workflow

import (
	"context"
	"errors"
	"strings"
)

// nonRetryablePatterns mark structural failures that another attempt
// cannot fix. Matched case-insensitively as substrings.
var nonRetryablePatterns = []string{
	"ARANGO_GRAPH_TOKEN not set",
	"ARANGO_ENDPOINT not set",
	"ARANGO_DATABASE not set",
	"Missing required environment",
	"Configuration error",
	"Invalid configuration",
	"maximum recursion depth",
}

// IsRetryable reports whether an error message describes a failure worth
// another attempt.
func IsRetryable(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

// Retryable applies IsRetryable to err. A canceled context is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsRetryable(err.Error())
}
