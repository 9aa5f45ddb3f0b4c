package runs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"gae-orchestrator/internal/workflow"
)

func newTestRouter(repo Repo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(repo).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func seed(t *testing.T, repo *MemoryRepo, id string, started time.Time, status workflow.Status) {
	t.Helper()
	res := sampleResult()
	res.ID = id
	res.StartTime = started
	res.Status = status
	if err := repo.Save(context.Background(), res); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestMemoryRepoUpsertAndOrder(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, "run-1", base, workflow.StatusPending)
	seed(t, repo, "run-2", base.Add(time.Hour), workflow.StatusCompleted)
	seed(t, repo, "run-1", base, workflow.StatusFailed)

	run, err := repo.GetByID(context.Background(), "run-1")
	if err != nil || run.Status != workflow.StatusFailed {
		t.Fatalf("GetByID = %+v, %v", run, err)
	}
	items, err := repo.List(context.Background(), 0, 0)
	if err != nil || len(items) != 2 || items[0].ID != "run-2" {
		t.Fatalf("List = %+v, %v", items, err)
	}
	page, _ := repo.List(context.Background(), 1, 1)
	if len(page) != 1 || page[0].ID != "run-1" {
		t.Fatalf("second page = %+v", page)
	}
	if empty, _ := repo.List(context.Background(), 10, 5); len(empty) != 0 {
		t.Fatalf("offset past end = %+v", empty)
	}
}

func TestHandlerListAndGet(t *testing.T) {
	repo := NewMemoryRepo()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, "run-1", base, workflow.StatusCompleted)
	seed(t, repo, "run-2", base.Add(time.Minute), workflow.StatusEngineDeploying)
	router := newTestRouter(repo)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list listResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Limit != 1 || len(list.Runs) != 1 || list.Runs[0].ID != "run-2" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var run Run
	if err := json.Unmarshal(resp.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != workflow.StatusCompleted || run.Result.Config.Name != "influence" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestHandlerErrors(t *testing.T) {
	router := newTestRouter(NewMemoryRepo())

	cases := []struct {
		path string
		code int
	}{
		{"/api/v1/runs/missing", http.StatusNotFound},
		{"/api/v1/runs?limit=ten", http.StatusBadRequest},
		{"/api/v1/runs?offset=x", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if resp.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.Code)
			}
		})
	}
}
