// Package services hosts the background loops run by the master instance:
// scheduled processing cycles, queue self-healing, and retention cleanup.
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lingo-sync/internal/models"
	"lingo-sync/internal/queue"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	cleanupInterval  = 12 * time.Hour
	cleanupBatchSize = 1000
	runRetention     = 90 * 24 * time.Hour
)

// CleanupService enforces the retention policy: terminal jobs older than the
// configured window are archived to a compressed NDJSON file and deleted,
// and old run records are pruned. TM segments are never touched.
type CleanupService struct {
	db         *gorm.DB
	queue      *queue.JobQueue
	settings   SettingsProvider
	archiveDir string
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewCleanupService creates a cleanup service writing archives under
// data/archive.
func NewCleanupService(db *gorm.DB, jobQueue *queue.JobQueue, settings SettingsProvider) *CleanupService {
	return &CleanupService{
		db:         db,
		queue:      jobQueue,
		settings:   settings,
		archiveDir: "./data/archive",
		stopChan:   make(chan struct{}),
	}
}

// Start launches the periodic cleanup loop.
func (s *CleanupService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if _, err := s.RunOnce(); err != nil {
					logrus.WithError(err).Error("Retention cleanup failed")
				}
			}
		}
	}()
	logrus.Info("Cleanup service started")
}

// Stop terminates the loop and waits for a running pass to finish.
func (s *CleanupService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logrus.Info("Cleanup service stopped")
}

// CleanupOptions narrows a retention pass. The zero value uses the configured
// retention window, covers every terminal state, and archives before deleting.
type CleanupOptions struct {
	Days      int      // 0 uses the configured job_retention_days
	States    []string // subset of the terminal states, nil means all
	DryRun    bool     // report eligible jobs without archiving or deleting
	NoArchive bool     // delete without writing the NDJSON archive
}

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	JobsEligible int64  `json:"jobs_eligible"`
	JobsArchived int64  `json:"jobs_archived"`
	JobsDeleted  int64  `json:"jobs_deleted"`
	RunsDeleted  int64  `json:"runs_deleted"`
	ArchiveFile  string `json:"archive_file,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
}

// RunOnce performs one retention pass with the default options.
func (s *CleanupService) RunOnce() (*CleanupResult, error) {
	return s.RunWithOptions(CleanupOptions{})
}

// RunWithOptions performs one retention pass. Jobs are archived before
// deletion; when archiving fails the jobs are kept for the next pass.
func (s *CleanupService) RunWithOptions(opts CleanupOptions) (*CleanupResult, error) {
	settings := s.settings.GetSettings()
	result := &CleanupResult{DryRun: opts.DryRun}

	states, err := resolveCleanupStates(opts.States)
	if err != nil {
		return nil, err
	}

	days := opts.Days
	if days == 0 {
		days = settings.JobRetentionDays
	}

	if days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)

		eligible, err := s.queue.CountTerminalBefore(states, cutoff)
		if err != nil {
			return result, err
		}
		result.JobsEligible = eligible

		if opts.DryRun {
			return result, nil
		}

		for {
			jobs, err := s.queue.TerminalBefore(states, cutoff, cleanupBatchSize)
			if err != nil {
				return result, err
			}
			if len(jobs) == 0 {
				break
			}

			if !opts.NoArchive {
				file, err := s.archiveJobs(jobs)
				if err != nil {
					return result, fmt.Errorf("failed to archive jobs: %w", err)
				}
				result.ArchiveFile = file
				result.JobsArchived += int64(len(jobs))
			}

			ids := make([]uint, len(jobs))
			for i, job := range jobs {
				ids[i] = job.ID
			}
			deleted, err := s.queue.DeleteJobs(ids)
			if err != nil {
				return result, err
			}
			result.JobsDeleted += deleted

			if len(jobs) < cleanupBatchSize {
				break
			}
		}
	}

	if opts.DryRun {
		return result, nil
	}

	runCutoff := time.Now().Add(-runRetention)
	runResult := s.db.Where("started_at < ?", runCutoff).Delete(&models.TranslationRun{})
	if runResult.Error != nil {
		return result, fmt.Errorf("failed to prune run records: %w", runResult.Error)
	}
	result.RunsDeleted = runResult.RowsAffected

	if result.JobsDeleted > 0 || result.RunsDeleted > 0 {
		logrus.WithFields(logrus.Fields{
			"jobs_deleted": result.JobsDeleted,
			"runs_deleted": result.RunsDeleted,
			"archive":      result.ArchiveFile,
		}).Info("Retention cleanup finished")
	}
	return result, nil
}

// resolveCleanupStates validates that the requested states are terminal, so a
// cleanup pass can never race the claim transaction over live jobs.
func resolveCleanupStates(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	terminal := make(map[string]bool, len(models.TerminalJobStates))
	for _, state := range models.TerminalJobStates {
		terminal[state] = true
	}
	for _, state := range requested {
		if !terminal[state] {
			return nil, fmt.Errorf("state %q is not eligible for cleanup", state)
		}
	}
	return requested, nil
}

// archiveJobs appends the jobs to today's gzip NDJSON archive file.
func (s *CleanupService) archiveJobs(jobs []models.TranslationJob) (string, error) {
	if err := os.MkdirAll(s.archiveDir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(s.archiveDir, fmt.Sprintf("jobs-%s.ndjson.gz", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	writer := gzip.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, job := range jobs {
		if err := encoder.Encode(&job); err != nil {
			writer.Close()
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return path, nil
}
