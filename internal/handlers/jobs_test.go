package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/repos/testutil"
	"github.com/yungbote/codernetes/internal/services"
)

func newJobsRouter(tb testing.TB) (*gin.Engine, services.JobService, repos.JobLogRepo) {
	tb.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(tb)
	log := testutil.Logger(tb)
	jobRepo := repos.NewJobRepo(db, log)
	jobLogRepo := repos.NewJobLogRepo(db, log)
	svc := services.NewJobService(db, log, jobRepo, jobLogRepo, events.NewNoopBus())
	handler := NewJobsHandler(svc)

	router := gin.New()
	router.POST("/api/jobs", handler.CreateJob)
	router.GET("/api/jobs", handler.ListJobs)
	router.GET("/api/jobs/:id", handler.GetJob)
	router.POST("/api/jobs/:id/status", handler.UpdateJobStatus)
	router.GET("/api/jobs/:id/logs", handler.ListJobLogs)
	return router, svc, jobLogRepo
}

func doJSON(tb testing.TB, router *gin.Engine, method, url string, body interface{}) *httptest.ResponseRecorder {
	tb.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			tb.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(tb testing.TB, rec *httptest.ResponseRecorder) map[string]interface{} {
	tb.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		tb.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return payload
}

func TestCreateJobEndpoint(t *testing.T) {
	router, _, _ := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", map[string]interface{}{
		"prompt":         "run integration tests",
		"requested_tags": []string{"linux"},
		"repositories": []map[string]string{
			{"url": "https://github.com/acme/app", "branch": "main"},
			{"url": ""},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: want 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	payload := decodeBody(t, rec)
	job, ok := payload["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing job: %v", payload)
	}
	if job["status"] != "pending" {
		t.Fatalf("job status: want pending, got %v", job["status"])
	}
	if list, ok := job["repositories"].([]interface{}); !ok || len(list) != 1 {
		t.Fatalf("url-less repositories must be dropped, got %v", job["repositories"])
	}
}

func TestCreateJobRequiresPrompt(t *testing.T) {
	router, _, _ := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs", map[string]interface{}{"prompt": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	errObj, ok := payload["error"].(map[string]interface{})
	if !ok || errObj["code"] != "prompt_required" {
		t.Fatalf("error envelope: got %v", payload)
	}
}

func TestGetJobNotFound(t *testing.T) {
	router, _, _ := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want 404, got %d", rec.Code)
	}
}

func TestListJobsStatusFilterValidation(t *testing.T) {
	router, svc, _ := newJobsRouter(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, nil, services.CreateJobInput{Prompt: "a"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Create(ctx, nil, services.CreateJobInput{Prompt: "b", TargetNodeID: "n1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/jobs?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if jobs, ok := payload["jobs"].([]interface{}); !ok || len(jobs) != 1 {
		t.Fatalf("filtered list: want 1 job, got %v", payload["jobs"])
	}

	rec = doJSON(t, router, http.MethodGet, "/api/jobs?status=exploded", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: want 400, got %d", rec.Code)
	}
}

func TestUpdateJobStatusEndpoint(t *testing.T) {
	router, svc, _ := newJobsRouter(t)

	job, err := svc.Create(context.Background(), nil, services.CreateJobInput{Prompt: "ship it"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/jobs/"+job.ID+"/status", map[string]interface{}{
		"status":         "succeeded",
		"result_summary": "shipped",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	updated, _ := payload["job"].(map[string]interface{})
	if updated["status"] != "succeeded" {
		t.Fatalf("job status: want succeeded, got %v", updated["status"])
	}

	rec = doJSON(t, router, http.MethodPost, "/api/jobs/"+job.ID+"/status", map[string]interface{}{"status": "not-a-status"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: want 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/jobs/"+job.ID+"/status", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing status: want 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/jobs/missing/status", map[string]interface{}{"status": "running"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: want 404, got %d", rec.Code)
	}
}

func TestListJobLogsEndpoint(t *testing.T) {
	router, svc, jobLogRepo := newJobsRouter(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, nil, services.CreateJobInput{Prompt: "collect logs"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := jobLogRepo.Append(ctx, nil, job.ID, "info", "line", nil); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/"+job.ID+"/logs?after=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if logs, ok := payload["logs"].([]interface{}); !ok || len(logs) != 2 {
		t.Fatalf("tail after 3: want 2 entries, got %v", payload["logs"])
	}

	rec = doJSON(t, router, http.MethodGet, "/api/jobs/"+job.ID+"/logs?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: want 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/jobs/missing/logs", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: want 404, got %d", rec.Code)
	}
}
