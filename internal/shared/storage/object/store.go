// Package object stores history documents and result exports.
package object

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Store saves and reads objects addressed by key.
type Store interface {
	SaveWithKey(ctx context.Context, key string, contentType string, r io.Reader) (sizeBytes int64, err error)
	// Open returns ErrNotFound (wrapped) when key does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
