package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/services"
	"github.com/yungbote/codernetes/internal/types"
)

type JobsHandler struct {
	jobs services.JobService
}

func NewJobsHandler(jobs services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

type createJobRequest struct {
	Prompt        string                 `json:"prompt"`
	TargetNodeID  string                 `json:"target_node_id"`
	RequestedTags []string               `json:"requested_tags"`
	Repositories  []types.RepositorySpec `json:"repositories"`
	Metadata      map[string]string      `json:"metadata"`
	Origin        string                 `json:"origin"`
}

type updateJobStatusRequest struct {
	Status        string  `json:"status"`
	LogPath       *string `json:"log_path"`
	ResultSummary *string `json:"result_summary"`
	ErrorMessage  *string `json:"error_message"`
}

// GET /api/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	var status *types.JobStatus
	if raw := c.Query("status"); raw != "" {
		parsed, ok := types.ParseJobStatus(raw)
		if !ok {
			RespondError(c, http.StatusBadRequest, "invalid_status", services.ErrInvalidStatus)
			return
		}
		status = &parsed
	}

	jobs, err := h.jobs.List(c.Request.Context(), nil, 100, status)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_jobs_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), nil, c.Param("id"))
	if errors.Is(err, repos.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}

	repositories := make([]types.RepositorySpec, 0, len(req.Repositories))
	for _, repo := range req.Repositories {
		if strings.TrimSpace(repo.URL) == "" {
			continue
		}
		repositories = append(repositories, repo)
	}

	job, err := h.jobs.Create(c.Request.Context(), nil, services.CreateJobInput{
		Prompt:        req.Prompt,
		TargetNodeID:  req.TargetNodeID,
		RequestedTags: req.RequestedTags,
		Repositories:  repositories,
		Metadata:      req.Metadata,
		Origin:        req.Origin,
	})
	if errors.Is(err, services.ErrPromptRequired) {
		RespondError(c, http.StatusBadRequest, "prompt_required", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_job_failed", err)
		return
	}
	RespondCreated(c, gin.H{"job": job})
}

// POST /api/jobs/:id/status
func (h *JobsHandler) UpdateJobStatus(c *gin.Context) {
	var req updateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if req.Status == "" {
		RespondError(c, http.StatusBadRequest, "status_required", errors.New("status is required"))
		return
	}
	status, ok := types.ParseJobStatus(req.Status)
	if !ok {
		RespondError(c, http.StatusBadRequest, "invalid_status", services.ErrInvalidStatus)
		return
	}

	job, err := h.jobs.UpdateStatus(c.Request.Context(), nil, c.Param("id"), status, repos.StatusUpdate{
		LogPath:       req.LogPath,
		ResultSummary: req.ResultSummary,
		ErrorMessage:  req.ErrorMessage,
	})
	if errors.Is(err, repos.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "update_status_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id/logs
func (h *JobsHandler) ListJobLogs(c *gin.Context) {
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = parsed
	}

	var afterSeq *int64
	if raw := c.Query("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_after", err)
			return
		}
		afterSeq = &parsed
	}

	logs, err := h.jobs.ListLogs(c.Request.Context(), nil, c.Param("id"), limit, afterSeq)
	if errors.Is(err, repos.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_logs_failed", err)
		return
	}
	RespondOK(c, gin.H{"logs": logs})
}
