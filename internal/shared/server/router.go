// Package server builds the gin engine for the run-ledger API.
package server

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"gae-orchestrator/internal/runs"
	"gae-orchestrator/internal/services/health"
	"gae-orchestrator/internal/shared/metrics"
	"gae-orchestrator/internal/shared/server/middleware"
	"gae-orchestrator/internal/shared/server/respond"
)

// RouterDeps carries the handlers and settings NewRouter wires.
type RouterDeps struct {
	Runs runs.Repo
	// Ledger names the ledger backend reported by /health.
	Ledger string
	// DB is pinged by /health when set.
	DB *sql.DB
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	if deps.RateLimit > 0 {
		burst := int(deps.RateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		api.Use(middleware.RateLimit(middleware.NewRateLimiter(middleware.RateLimitRule{Rate: deps.RateLimit, Burst: burst}, nil)))
	}
	hs := health.NewService(deps.Ledger, deps.DB)
	api.GET("/health", func(c *gin.Context) {
		st := hs.Status(c.Request.Context())
		code := http.StatusOK
		if !st.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, st)
	})
	if deps.Runs != nil {
		runs.NewHandler(deps.Runs).RegisterRoutes(api)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
