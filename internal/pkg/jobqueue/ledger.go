package jobqueue

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinGrube/SoloStore/app/models"
	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

const (
	DefaultMaxAttempts  = 5
	DefaultLeaseTimeout = 10 * time.Minute

	backoffBase = 30 * time.Second
	backoffCap  = 6 * time.Hour
)

// Ledger is the relational work queue. Jobs are claimed under a row lease
// (locked_by/locked_at); a crashed worker leaves a stale lease that the next
// claim reclaims. Rows are never deleted.
type Ledger struct {
	db           *gorm.DB
	leaseTimeout time.Duration
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, leaseTimeout: DefaultLeaseTimeout}
}

func NewLedgerWithLease(db *gorm.DB, leaseTimeout time.Duration) *Ledger {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &Ledger{db: db, leaseTimeout: leaseTimeout}
}

// EnqueueOptions tune a single enqueue. The zero value is valid.
type EnqueueOptions struct {
	// IdempotencyKey dedupes enqueues per job type; a collision returns the
	// existing job instead of inserting a second one.
	IdempotencyKey string
	RunAt          time.Time
	MaxAttempts    int
}

// Enqueue inserts a queued job row, deduplicated on (type, idempotency_key).
func (l *Ledger) Enqueue(ctx context.Context, jobType string, payload interface{}, opts EnqueueOptions) (*models.Job, error) {
	return l.EnqueueTx(l.db.WithContext(ctx), jobType, payload, opts)
}

// EnqueueTx is Enqueue inside a caller-owned transaction. The reconciler uses
// this so order mutations and their side-effect jobs commit together.
func (l *Ledger) EnqueueTx(tx *gorm.DB, jobType string, payload interface{}, opts EnqueueOptions) (*models.Job, error) {
	payloadJSON, err := MarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &models.Job{
		Type:        jobType,
		PayloadJSON: payloadJSON,
		Status:      models.JobStatusQueued,
		RunAt:       runAt,
		MaxAttempts: maxAttempts,
	}

	if opts.IdempotencyKey == "" {
		if err := tx.Create(job).Error; err != nil {
			return nil, err
		}
		return job, nil
	}

	key := opts.IdempotencyKey
	job.IdempotencyKey = &key
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(job)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return job, nil
	}

	// Duplicate enqueue; hand back the existing job.
	var existing models.Job
	if err := tx.Where("type = ? AND idempotency_key = ?", jobType, key).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// Claim atomically takes up to batchSize due jobs for workerID. Rows already
// locked by an in-flight claim are skipped rather than waited on, and running
// rows with an expired lease are reclaimable.
func (l *Ledger) Claim(ctx context.Context, workerID string, batchSize int) ([]models.Job, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	var claimed []models.Job
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		staleBefore := now.Add(-l.leaseTimeout)

		var jobs []models.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND run_at <= ?) OR (status = ? AND locked_at < ?)",
				models.JobStatusQueued, now, models.JobStatusRunning, staleBefore).
			Order("run_at ASC").
			Limit(batchSize).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(jobs))
		for _, j := range jobs {
			if j.Status == models.JobStatusRunning {
				log.Warnf("[JobLedger] Reclaiming job %d (%s) from presumed-dead worker %s", j.ID, j.Type, j.LockedBy)
			}
			ids = append(ids, j.ID)
		}

		if err := tx.Model(&models.Job{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":    models.JobStatusRunning,
			"locked_by": workerID,
			"locked_at": now,
		}).Error; err != nil {
			return err
		}

		for i := range jobs {
			jobs[i].Status = models.JobStatusRunning
			jobs[i].LockedBy = workerID
			lockedAt := now
			jobs[i].LockedAt = &lockedAt
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete retires a claimed job. A nil execErr (or a state-conflict, which is
// an idempotent no-op) marks it succeeded. Terminal failures dead-letter
// immediately; transient failures requeue with exponential backoff until
// max_attempts, then dead-letter.
func (l *Ledger) Complete(ctx context.Context, jobID uint, execErr error) error {
	db := l.db.WithContext(ctx)

	var job models.Job
	if err := db.First(&job, jobID).Error; err != nil {
		return err
	}

	now := time.Now()

	if execErr == nil || apperr.IsKind(execErr, apperr.KindStateConflict) || apperr.IsKind(execErr, apperr.KindIdempotent) {
		return db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"status":       models.JobStatusSucceeded,
			"completed_at": now,
			"locked_by":    "",
			"locked_at":    nil,
			"last_error":   "",
		}).Error
	}

	attempts := job.Attempts + 1
	updates := map[string]interface{}{
		"attempts":   attempts,
		"last_error": execErr.Error(),
		"locked_by":  "",
		"locked_at":  nil,
	}

	terminal := apperr.IsKind(execErr, apperr.KindTerminal) || apperr.IsKind(execErr, apperr.KindValidation)
	if terminal || attempts >= job.MaxAttempts {
		log.Errorf("[JobLedger] Job %d (%s) dead after %d attempts: %v", job.ID, job.Type, attempts, execErr)
		updates["status"] = models.JobStatusDead
		updates["completed_at"] = now
	} else {
		delay := Backoff(attempts)
		log.Warnf("[JobLedger] Job %d (%s) failed (attempt %d/%d), retrying in %s: %v",
			job.ID, job.Type, attempts, job.MaxAttempts, delay, execErr)
		updates["status"] = models.JobStatusQueued
		updates["run_at"] = now.Add(delay)
	}

	return db.Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error
}

// Backoff returns the retry delay after the given attempt count:
// base * 2^attempts, capped.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := backoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}

// Get returns a job by id.
func (l *Ledger) Get(ctx context.Context, jobID uint) (*models.Job, error) {
	var job models.Job
	if err := l.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs for the operator surface, newest first, optionally
// filtered by status.
func (l *Ledger) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := l.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []models.Job
	err := q.Find(&jobs).Error
	return jobs, err
}

// Retry requeues a dead or failed job with a fresh attempt budget.
func (l *Ledger) Retry(ctx context.Context, jobID uint) error {
	res := l.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobStatusDead, models.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":       models.JobStatusQueued,
			"attempts":     0,
			"run_at":       time.Now(),
			"locked_by":    "",
			"locked_at":    nil,
			"completed_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindStateConflict, "job is not dead-lettered")
	}
	return nil
}

// MarkDead force-dead-letters a job from the operator surface.
func (l *Ledger) MarkDead(ctx context.Context, jobID uint, reason string) error {
	res := l.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobStatusQueued, models.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":     models.JobStatusDead,
			"last_error": reason,
			"locked_by":  "",
			"locked_at":  nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindStateConflict, "job is not queued or running")
	}
	return nil
}

// Stats returns job counts per status for the operator dashboard.
func (l *Ledger) Stats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := l.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
