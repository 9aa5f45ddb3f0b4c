// Package util holds small helpers shared by the binaries.
package util

import (
	"errors"
	"strings"
)

var ErrInvalidSegment = errors.New("invalid key segment")

// SanitizeSegment makes name safe to embed in an object key as a single
// path segment. Traversal patterns are rejected.
func SanitizeSegment(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidSegment
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", ErrInvalidSegment
	}
	return s, nil
}

// ExportKey builds the default object key for an exported collection.
func ExportKey(collection, ext string) (string, error) {
	name, err := SanitizeSegment(collection)
	if err != nil {
		return "", err
	}
	return "exports/" + name + "." + ext, nil
}
