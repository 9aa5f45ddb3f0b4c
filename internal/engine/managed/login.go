package managed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// LoginFunc exchanges an API key for an access token.
type LoginFunc func(ctx context.Context, keyID, keySecret string) (string, error)

// OasisctlLogin runs `oasisctl login` and returns the token it prints.
func OasisctlLogin(ctx context.Context, keyID, keySecret string) (string, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return "", fmt.Errorf("invalid configuration: API key id and secret are required for token generation")
	}
	cmd := exec.CommandContext(ctx, "oasisctl", "login", "--key-id", keyID, "--key-secret", keySecret)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("oasisctl not found in PATH: install it from https://github.com/arangodb-managed/oasisctl/releases")
		}
		return "", fmt.Errorf("generate token: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", fmt.Errorf("generate token: oasisctl returned an empty token")
	}
	return token, nil
}
