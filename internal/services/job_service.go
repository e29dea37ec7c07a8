package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
)

var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrInvalidStatus  = errors.New("invalid status")
)

// CreateJobInput is the normalised submission payload. Repositories without
// a url are dropped before this point by the handler.
type CreateJobInput struct {
	Prompt        string
	TargetNodeID  string
	RequestedTags []string
	Repositories  []types.RepositorySpec
	Metadata      map[string]string
	Origin        string
}

type JobService interface {
	Create(ctx context.Context, tx *gorm.DB, input CreateJobInput) (*types.Job, error)
	Get(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error)
	List(ctx context.Context, tx *gorm.DB, limit int, status *types.JobStatus) ([]types.Job, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status types.JobStatus, update repos.StatusUpdate) (*types.Job, error)
	ListLogs(ctx context.Context, tx *gorm.DB, jobID string, limit int, afterSeq *int64) ([]types.JobLogEntry, error)
	// SweepStaleRunning fails RUNNING jobs older than the grace period. Used
	// by the optional startup sweep after a master restart.
	SweepStaleRunning(ctx context.Context, grace time.Duration) (int64, error)
}

type jobService struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    repos.JobRepo
	jobLogs repos.JobLogRepo
	bus     events.Bus
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, jobs repos.JobRepo, jobLogs repos.JobLogRepo, bus events.Bus) JobService {
	return &jobService{
		db:      db,
		log:     baseLog.With("service", "JobService"),
		jobs:    jobs,
		jobLogs: jobLogs,
		bus:     bus,
	}
}

func (s *jobService) Create(ctx context.Context, tx *gorm.DB, input CreateJobInput) (*types.Job, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	origin := input.Origin
	if origin == "" {
		origin = "api"
	}
	metadata["origin"] = origin

	status := types.JobStatusPending
	var target *string
	if t := strings.TrimSpace(input.TargetNodeID); t != "" {
		status = types.JobStatusQueued
		target = &t
	}

	tags := make([]string, 0, len(input.RequestedTags))
	for _, tag := range input.RequestedTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	job := &types.Job{
		ID:            uuid.New().String(),
		Prompt:        prompt,
		Status:        status,
		TargetNodeID:  target,
		RequestedTags: datatypes.NewJSONSlice(tags),
		Repositories:  datatypes.NewJSONSlice(input.Repositories),
		Metadata:      datatypes.NewJSONType(metadata),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.jobs.Upsert(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	_ = s.bus.Publish(ctx, events.Event{
		Type:      events.EventJobCreated,
		JobID:     job.ID,
		Status:    string(job.Status),
		Timestamp: time.Now().UTC(),
	})
	s.log.Info("Job created", "job_id", job.ID, "status", job.Status, "target_node_id", input.TargetNodeID)
	return job, nil
}

func (s *jobService) Get(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error) {
	return s.jobs.GetByID(ctx, tx, id)
}

func (s *jobService) List(ctx context.Context, tx *gorm.DB, limit int, status *types.JobStatus) ([]types.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.jobs.List(ctx, tx, limit, status)
}

func (s *jobService) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status types.JobStatus, update repos.StatusUpdate) (*types.Job, error) {
	if err := s.jobs.UpdateStatus(ctx, tx, id, status, update); err != nil {
		return nil, err
	}
	_ = s.bus.Publish(ctx, events.Event{
		Type:      events.EventJobStatusChanged,
		JobID:     id,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})
	return s.jobs.GetByID(ctx, tx, id)
}

func (s *jobService) ListLogs(ctx context.Context, tx *gorm.DB, jobID string, limit int, afterSeq *int64) ([]types.JobLogEntry, error) {
	if _, err := s.jobs.GetByID(ctx, tx, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.jobLogs.List(ctx, tx, jobID, limit, afterSeq)
}

func (s *jobService) SweepStaleRunning(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-grace)
	count, err := s.jobs.FailStaleRunning(ctx, nil, cutoff, "master restarted while job was running")
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Warn("Failed stale running jobs from before restart", "count", count, "grace", grace)
	}
	return count, nil
}
