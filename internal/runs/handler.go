package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gae-orchestrator/internal/shared/server/respond"
)

// Handler serves read-only ledger routes.
type Handler struct {
	Repo Repo
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes attaches run routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/runs", h.list)
	rg.GET("/runs/:id", h.get)
}

type listResponse struct {
	Runs   []Run `json:"runs"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func (h *Handler) list(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be an integer", nil)
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "offset must be an integer", nil)
		return
	}
	limit, offset = clampPage(limit, offset)

	items, err := h.Repo.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list runs", nil)
		return
	}
	respond.OK(c, listResponse{Runs: items, Limit: limit, Offset: offset})
}

func (h *Handler) get(c *gin.Context) {
	run, err := h.Repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load run", nil)
		}
		return
	}
	respond.OK(c, run)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
