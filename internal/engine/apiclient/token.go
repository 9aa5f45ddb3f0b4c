package apiclient

import (
	"sync"

	"golang.org/x/oauth2"
)

// TokenSource caches tokens from a fetching source until they expire and
// can be forced to fetch a fresh one.
type TokenSource struct {
	mu    sync.Mutex
	fetch oauth2.TokenSource
	cache oauth2.TokenSource
}

// NewTokenSource wraps fetch. initial may be nil.
func NewTokenSource(initial *oauth2.Token, fetch oauth2.TokenSource) *TokenSource {
	return &TokenSource{
		fetch: fetch,
		cache: oauth2.ReuseTokenSource(initial, fetch),
	}
}

// Token returns the cached token, fetching a new one when it has expired.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	src := s.cache
	s.mu.Unlock()
	return src.Token()
}

// Invalidate drops the cached token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.cache = oauth2.ReuseTokenSource(nil, s.fetch)
	s.mu.Unlock()
}

// TokenFunc adapts a function to oauth2.TokenSource.
type TokenFunc func() (*oauth2.Token, error)

// Token implements oauth2.TokenSource.
func (f TokenFunc) Token() (*oauth2.Token, error) {
	return f()
}
