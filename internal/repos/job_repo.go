package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

// StatusUpdate carries the sparse fields of a job.status report. Nil fields
// are preserved on the row.
type StatusUpdate struct {
	LogPath       *string
	ResultSummary *string
	ErrorMessage  *string
}

type JobRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, job *types.Job) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error)
	List(ctx context.Context, tx *gorm.DB, limit int, status *types.JobStatus) ([]types.Job, error)
	// ListByStatus returns oldest-first; this ordering is the scheduling order.
	ListByStatus(ctx context.Context, tx *gorm.DB, statuses []types.JobStatus, limit int) ([]types.Job, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status types.JobStatus, update StatusUpdate) error
	// Assign is the concurrency-safe acquire: a conditional transition from
	// {pending, queued} to running. False means another writer got there first.
	Assign(ctx context.Context, tx *gorm.DB, id, nodeID string) (bool, error)
	// FailStaleRunning marks running jobs created before the cutoff as failed.
	// Used by the optional startup sweep after a master restart.
	FailStaleRunning(ctx context.Context, tx *gorm.DB, cutoff time.Time, reason string) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRepo) Upsert(ctx context.Context, tx *gorm.DB, job *types.Job) error {
	return r.conn(tx).WithContext(ctx).Save(job).Error
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error) {
	var job types.Job
	err := r.conn(tx).WithContext(ctx).First(&job, "job_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) List(ctx context.Context, tx *gorm.DB, limit int, status *types.JobStatus) ([]types.Job, error) {
	q := r.conn(tx).WithContext(ctx).Model(&types.Job{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var jobs []types.Job
	if err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) ListByStatus(ctx context.Context, tx *gorm.DB, statuses []types.JobStatus, limit int) ([]types.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var jobs []types.Job
	err := r.conn(tx).WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status types.JobStatus, update StatusUpdate) error {
	if _, err := r.GetByID(ctx, tx, id); err != nil {
		return err
	}

	updates := map[string]interface{}{"status": status}
	if update.LogPath != nil {
		updates["log_path"] = *update.LogPath
	}
	if update.ResultSummary != nil {
		updates["result_summary"] = *update.ResultSummary
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}
	if status.IsTerminal() {
		updates["finished_at"] = time.Now().UTC()
	}

	// Terminal rows are absorbing: the guard keeps late or duplicate reports
	// from resurrecting a finished job.
	res := r.conn(tx).WithContext(ctx).Model(&types.Job{}).
		Where("job_id = ? AND status NOT IN ?", id, types.TerminalStatuses()).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Warn("Ignoring status transition for terminal job", "job_id", id, "requested_status", status)
	}
	return nil
}

func (r *jobRepo) Assign(ctx context.Context, tx *gorm.DB, id, nodeID string) (bool, error) {
	res := r.conn(tx).WithContext(ctx).Model(&types.Job{}).
		Where("job_id = ? AND status IN ?", id, []types.JobStatus{types.JobStatusPending, types.JobStatusQueued}).
		Updates(map[string]interface{}{
			"status":         types.JobStatusRunning,
			"target_node_id": nodeID,
			"result_summary": "dispatched",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) FailStaleRunning(ctx context.Context, tx *gorm.DB, cutoff time.Time, reason string) (int64, error) {
	res := r.conn(tx).WithContext(ctx).Model(&types.Job{}).
		Where("status = ? AND created_at < ?", types.JobStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        types.JobStatusFailed,
			"error_message": reason,
			"finished_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
