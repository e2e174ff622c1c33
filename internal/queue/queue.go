// Package queue implements the durable translation job queue. Jobs live in
// the translation_jobs table and move through a fixed lifecycle:
//
//	pending -> translating -> done | error | skipped
//
// A done job whose source content changes is reopened as outdated, which the
// processor claims like pending. Failed jobs return to pending until the
// retry ceiling, then park in error. Every transition goes through this
// package so invalid state jumps cannot happen.
package queue

import (
	"errors"
	"fmt"
	"time"

	"lingo-sync/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStateConflict reports a transition whose job is no longer in the
// expected state, usually because a concurrent enqueue reopened it.
var ErrStateConflict = errors.New("job state changed")

// JobQueue is the gateway to the translation_jobs table.
type JobQueue struct {
	db *gorm.DB
}

// NewJobQueue creates a queue over the given database.
func NewJobQueue(db *gorm.DB) *JobQueue {
	return &JobQueue{db: db}
}

// Enqueue registers translatable content. At most one job exists per
// (object_type, object_id, field) tuple:
//   - no row yet: a pending job is created
//   - terminal row with a different content hash: reopened as outdated
//   - non-terminal row with a different hash: hash updated in place
//   - matching hash: untouched
//
// It returns true when a job was created or reopened.
func (q *JobQueue) Enqueue(objectType string, objectID int64, field, contentHash string) (bool, error) {
	var changed bool
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var job models.TranslationJob
		err := tx.Where("object_type = ? AND object_id = ? AND field = ?",
			objectType, objectID, field).First(&job).Error

		if err == gorm.ErrRecordNotFound {
			job = models.TranslationJob{
				ObjectType:  objectType,
				ObjectID:    objectID,
				Field:       field,
				ContentHash: contentHash,
				State:       models.JobStatePending,
			}
			// ON CONFLICT keeps two racing enqueues for a brand-new tuple
			// idempotent instead of surfacing a unique-index violation.
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				changed = true
				return nil
			}
			// Lost the insert race; converge on the winner's row.
			if err := tx.Where("object_type = ? AND object_id = ? AND field = ?",
				objectType, objectID, field).First(&job).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if job.ContentHash == contentHash {
			return nil
		}

		updates := map[string]any{"content_hash": contentHash}
		switch job.State {
		case models.JobStateDone, models.JobStateError, models.JobStateSkipped:
			updates["state"] = models.JobStateOutdated
			updates["retries"] = 0
			updates["last_error"] = ""
			changed = true
		case models.JobStateTranslating:
			// The in-flight result is already stale. Reopen so the new text
			// gets translated; the racing Complete loses against the changed
			// state and leaves the job pending.
			updates["state"] = models.JobStatePending
			updates["retries"] = 0
			updates["last_error"] = ""
			changed = true
		}
		return tx.Model(&job).Updates(updates).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return changed, nil
}

// Claim atomically moves up to batchSize claimable jobs to translating and
// returns them, oldest first. Concurrent claimers never receive the same job:
// the selection runs inside a transaction with row locking, and on dialects
// without SKIP LOCKED the single-writer connection serializes claims.
func (q *JobQueue) Claim(batchSize int) ([]models.TranslationJob, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var claimed []models.TranslationJob
	err := q.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("state IN ?", models.ClaimableJobStates).
			Order("created_at ASC").
			Limit(batchSize)
		if q.db.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := query.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, len(claimed))
		for i, job := range claimed {
			ids[i] = job.ID
		}
		if err := tx.Model(&models.TranslationJob{}).
			Where("id IN ?", ids).
			Update("state", models.JobStateTranslating).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].State = models.JobStateTranslating
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	return claimed, nil
}

// Complete marks a translating job done and clears its error history.
func (q *JobQueue) Complete(jobID uint) error {
	return q.transition(jobID, models.JobStateTranslating, map[string]any{
		"state":      models.JobStateDone,
		"retries":    0,
		"last_error": "",
	})
}

// Fail records a failed attempt. The job returns to pending until the retry
// ceiling is reached, then parks in error with the last message preserved.
func (q *JobQueue) Fail(jobID uint, cause string, maxRetries int) error {
	return q.db.Transaction(func(tx *gorm.DB) error {
		var job models.TranslationJob
		if err := tx.Where("id = ? AND state = ?", jobID, models.JobStateTranslating).
			First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("job %d is not in translating state: %w", jobID, ErrStateConflict)
			}
			return err
		}

		nextState := models.JobStatePending
		retries := job.Retries + 1
		if retries >= maxRetries {
			nextState = models.JobStateError
		}
		return tx.Model(&job).Updates(map[string]any{
			"state":      nextState,
			"retries":    retries,
			"last_error": cause,
		}).Error
	})
}

// MarkError parks a translating job in error immediately, for failures that
// retrying cannot fix. The error sweep can still move it to skipped later.
func (q *JobQueue) MarkError(jobID uint, cause string) error {
	return q.transition(jobID, models.JobStateTranslating, map[string]any{
		"state":      models.JobStateError,
		"last_error": cause,
	})
}

// Release returns a translating job to pending without counting a retry,
// used when a cycle is aborted for reasons unrelated to the job itself.
func (q *JobQueue) Release(jobID uint) error {
	return q.transition(jobID, models.JobStateTranslating, map[string]any{
		"state": models.JobStatePending,
	})
}

// Skip marks a translating job skipped, excluding it from future cycles.
func (q *JobQueue) Skip(jobID uint, reason string) error {
	return q.transition(jobID, models.JobStateTranslating, map[string]any{
		"state":      models.JobStateSkipped,
		"last_error": reason,
	})
}

// Reopen moves error and skipped jobs back to pending with a fresh retry
// budget. It returns the number of jobs reopened.
func (q *JobQueue) Reopen() (int64, error) {
	result := q.db.Model(&models.TranslationJob{}).
		Where("state IN ?", []string{models.JobStateError, models.JobStateSkipped}).
		Updates(map[string]any{
			"state":      models.JobStatePending,
			"retries":    0,
			"last_error": "",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reopen jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetStuck returns jobs stuck in translating longer than threshold to
// pending. Covers crashes between claiming and finishing a job.
func (q *JobQueue) ResetStuck(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	result := q.db.Model(&models.TranslationJob{}).
		Where("state = ? AND updated_at < ?", models.JobStateTranslating, cutoff).
		Update("state", models.JobStatePending)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logrus.WithField("count", result.RowsAffected).Warn("Reset stuck translating jobs to pending")
	}
	return result.RowsAffected, nil
}

// RecoverErrors moves error jobs older than threshold to skipped so a
// persistently failing job cannot occupy operator attention forever.
func (q *JobQueue) RecoverErrors(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	result := q.db.Model(&models.TranslationJob{}).
		Where("state = ? AND updated_at < ?", models.JobStateError, cutoff).
		Update("state", models.JobStateSkipped)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to recover error jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// TerminalBefore returns terminal jobs older than the cutoff, for archiving
// ahead of deletion. A nil states slice covers every terminal state.
func (q *JobQueue) TerminalBefore(states []string, cutoff time.Time, limit int) ([]models.TranslationJob, error) {
	if len(states) == 0 {
		states = models.TerminalJobStates
	}
	var jobs []models.TranslationJob
	err := q.db.Where("state IN ? AND updated_at < ?", states, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal jobs: %w", err)
	}
	return jobs, nil
}

// CountTerminalBefore counts the jobs TerminalBefore would return, for
// dry-run reporting.
func (q *JobQueue) CountTerminalBefore(states []string, cutoff time.Time) (int64, error) {
	if len(states) == 0 {
		states = models.TerminalJobStates
	}
	var count int64
	err := q.db.Model(&models.TranslationJob{}).
		Where("state IN ? AND updated_at < ?", states, cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count terminal jobs: %w", err)
	}
	return count, nil
}

// DeleteJobs removes the given jobs by ID.
func (q *JobQueue) DeleteJobs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := q.db.Where("id IN ?", ids).Delete(&models.TranslationJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Counts returns the number of jobs per state.
func (q *JobQueue) Counts() (map[string]int64, error) {
	var rows []struct {
		State string
		Count int64
	}
	err := q.db.Model(&models.TranslationJob{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// JobsInStates returns jobs in the given states without claiming them,
// oldest first. A nil states slice covers the claimable states.
func (q *JobQueue) JobsInStates(states []string, limit int) ([]models.TranslationJob, error) {
	if len(states) == 0 {
		states = models.ClaimableJobStates
	}
	var jobs []models.TranslationJob
	query := q.db.Where("state IN ?", states).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// PendingJobs returns the claimable jobs without claiming them, oldest first.
// Used by cost estimation.
func (q *JobQueue) PendingJobs(limit int) ([]models.TranslationJob, error) {
	return q.JobsInStates(nil, limit)
}

// RecentErrors returns the most recently failed jobs, newest first, so the
// status surface can show what needs operator attention.
func (q *JobQueue) RecentErrors(limit int) ([]models.TranslationJob, error) {
	if limit < 1 {
		limit = 10
	}
	var jobs []models.TranslationJob
	err := q.db.Where("state = ?", models.JobStateError).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list error jobs: %w", err)
	}
	return jobs, nil
}

func (q *JobQueue) transition(jobID uint, fromState string, updates map[string]any) error {
	result := q.db.Model(&models.TranslationJob{}).
		Where("id = ? AND state = ?", jobID, fromState).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition job %d: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %d is not in %s state: %w", jobID, fromState, ErrStateConflict)
	}
	return nil
}
