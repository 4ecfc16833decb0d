package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	domain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error)
	GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
	GetQueuedForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	Defer(dbc dbctx.Context, id uuid.UUID, runAfter time.Time, message string) error
	CancelWaitingForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string, reason string) (int64, error)
	MarkStaleExhaustedDead(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration, message string) ([]*types.JobRun, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	transaction := dbc.Resolve(r.db)
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
	}
	if err := transaction.Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.JobRun, error) {
	var out []*types.JobRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Resolve(r.db).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) GetLatestByEntity(dbc dbctx.Context, ownerUserID uuid.UUID, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil || entityID == uuid.Nil || entityType == "" || jobType == "" {
		return nil, nil
	}
	var job types.JobRun
	err := dbc.Resolve(r.db).
		Where("owner_user_id = ? AND entity_type = ? AND entity_id = ? AND job_type = ?", ownerUserID, entityType, entityID, jobType).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// GetQueuedForEntity returns the oldest job for the entity that no worker has
// claimed yet.
func (r *jobRunRepo) GetQueuedForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	if entityID == uuid.Nil || entityType == "" || jobType == "" {
		return nil, nil
	}
	var job types.JobRun
	err := dbc.Resolve(r.db).
		Where("entity_type = ? AND entity_id = ? AND job_type = ? AND status = ?", entityType, entityID, jobType, domain.StatusQueued).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable picks the oldest runnable job and marks it running:
// queued rows whose run_after has passed, failed rows still inside their
// attempt budget once retryDelay has elapsed, and running rows whose
// heartbeat went stale while attempts remain. The returned row reflects the
// claim.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	transaction := dbc.Resolve(r.db)
	now := time.Now().UTC()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := transaction.Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := dbctx.ForUpdate(txx, true).
			Where(`
        (
          (
            status = ?
            AND (run_after IS NULL OR run_after <= ?)
          )
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND attempts < ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, domain.StatusQueued, now, domain.StatusFailed, maxAttempts, retryCutoff, domain.StatusRunning, maxAttempts, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.StatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	q := dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, domain.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// Defer puts a claimed job back in the queue without charging the claim
// against its attempt budget.
func (r *jobRunRepo) Defer(dbc dbctx.Context, id uuid.UUID, runAfter time.Time, message string) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, domain.StatusRunning).
		Updates(map[string]interface{}{
			"status":       domain.StatusQueued,
			"stage":        "deferred",
			"message":      message,
			"attempts":     gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
			"run_after":    runAfter.UTC(),
			"locked_at":    nil,
			"heartbeat_at": nil,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// CancelWaitingForEntity cancels jobs that are queued or waiting out a retry
// delay. Running jobs are left alone.
func (r *jobRunRepo) CancelWaitingForEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string, reason string) (int64, error) {
	if entityID == uuid.Nil || entityType == "" || jobType == "" {
		return 0, nil
	}
	res := dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Where("entity_type = ? AND entity_id = ? AND job_type = ? AND status IN ?",
			entityType, entityID, jobType, []string{domain.StatusQueued, domain.StatusFailed},
		).
		Updates(map[string]interface{}{
			"status":     domain.StatusCanceled,
			"stage":      "canceled",
			"message":    reason,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// MarkStaleExhaustedDead moves running jobs with a stale heartbeat and no
// attempts left to dead. It returns the rows it moved.
func (r *jobRunRepo) MarkStaleExhaustedDead(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration, message string) ([]*types.JobRun, error) {
	now := time.Now().UTC()
	staleCutoff := now.Add(-staleRunning)
	var moved []*types.JobRun
	err := dbc.Resolve(r.db).Transaction(func(txx *gorm.DB) error {
		var stale []*types.JobRun
		if err := dbctx.ForUpdate(txx, true).
			Where("status = ? AND attempts >= ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
				domain.StatusRunning, maxAttempts, staleCutoff,
			).
			Order("created_at ASC").
			Find(&stale).Error; err != nil {
			return err
		}
		for _, job := range stale {
			res := txx.Model(&types.JobRun{}).
				Where("id = ? AND status = ?", job.ID, domain.StatusRunning).
				Updates(map[string]interface{}{
					"status":        domain.StatusDead,
					"stage":         "stale",
					"message":       "",
					"error":         message,
					"last_error_at": now,
					"locked_at":     nil,
					"updated_at":    now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = domain.StatusDead
			job.Stage = "stale"
			job.Message = ""
			job.Error = message
			job.LastErrorAt = &now
			job.LockedAt = nil
			job.UpdatedAt = now
			moved = append(moved, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (r *jobRunRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := dbc.Resolve(r.db).
		Model(&types.JobRun{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.Count
	}
	return out, nil
}
