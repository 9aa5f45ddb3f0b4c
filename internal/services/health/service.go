// Package health reports liveness of the run ledger API.
package health

import (
	"context"
	"database/sql"
	"time"
)

const pingTimeout = 2 * time.Second

// Service reports which ledger backs the API and whether it is reachable.
type Service struct {
	Ledger string
	DB     *sql.DB
}

// NewService constructs a health service. db may be nil for the in-memory ledger.
func NewService(ledger string, db *sql.DB) *Service {
	return &Service{Ledger: ledger, DB: db}
}

// Status is the /health payload.
type Status struct {
	OK     bool   `json:"ok"`
	Ledger string `json:"ledger"`
	Error  string `json:"error,omitempty"`
}

// Status pings the ledger database when there is one.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{OK: true, Ledger: s.Ledger}
	if s.DB == nil {
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		st.OK = false
		st.Error = err.Error()
	}
	return st
}
