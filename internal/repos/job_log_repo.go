package repos

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

type JobLogRepo interface {
	// Append writes the next log line for the job. Sequence numbers are dense
	// per job and strictly increasing; a nil timestamp means "now".
	Append(ctx context.Context, tx *gorm.DB, jobID, level, message string, ts *time.Time) (*types.JobLogEntry, error)
	// List returns entries ordered by seq ascending. afterSeq enables
	// incremental tailing: only entries with seq > afterSeq are returned.
	List(ctx context.Context, tx *gorm.DB, jobID string, limit int, afterSeq *int64) ([]types.JobLogEntry, error)
}

type jobLogRepo struct {
	db  *gorm.DB
	log *logger.Logger

	mu     sync.Mutex
	seqMax map[string]int64
}

func NewJobLogRepo(db *gorm.DB, baseLog *logger.Logger) JobLogRepo {
	return &jobLogRepo{
		db:     db,
		log:    baseLog.With("repo", "JobLogRepo"),
		seqMax: make(map[string]int64),
	}
}

func (r *jobLogRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobLogRepo) Append(ctx context.Context, tx *gorm.DB, jobID, level, message string, ts *time.Time) (*types.JobLogEntry, error) {
	when := time.Now().UTC()
	if ts != nil {
		when = ts.UTC()
	}

	// The cache holds the highwater per job; the mutex spans the insert so
	// concurrent appenders cannot hand out the same seq. On a cache miss
	// (fresh process, or another writer beat us to the table) fall back to
	// MAX(seq).
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, cached := r.seqMax[jobID]
	if !cached {
		var maxSeq sql.NullInt64
		err := r.conn(tx).WithContext(ctx).Model(&types.JobLogEntry{}).
			Where("job_id = ?", jobID).
			Select("MAX(seq)").
			Scan(&maxSeq).Error
		if err != nil {
			return nil, err
		}
		if maxSeq.Valid {
			seq = maxSeq.Int64
		}
	}
	seq++

	entry := types.JobLogEntry{
		JobID:     jobID,
		Seq:       seq,
		Timestamp: when,
		Level:     level,
		Message:   message,
	}
	if err := r.conn(tx).WithContext(ctx).Create(&entry).Error; err != nil {
		// Drop the cached counter so the next append re-reads MAX(seq).
		delete(r.seqMax, jobID)
		return nil, err
	}
	r.seqMax[jobID] = seq
	return &entry, nil
}

func (r *jobLogRepo) List(ctx context.Context, tx *gorm.DB, jobID string, limit int, afterSeq *int64) ([]types.JobLogEntry, error) {
	q := r.conn(tx).WithContext(ctx).Where("job_id = ?", jobID)
	if afterSeq != nil {
		q = q.Where("seq > ?", *afterSeq)
	}
	var entries []types.JobLogEntry
	if err := q.Order("seq ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
