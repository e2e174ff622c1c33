// Package processor orchestrates one processing cycle: claim a batch of
// jobs under the single-flight lock, resolve each through cache, translation
// memory, and finally the provider, and record the outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lingo-sync/internal/cache"
	"lingo-sync/internal/models"
	"lingo-sync/internal/provider"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/repository"
	"lingo-sync/internal/store"
	"lingo-sync/internal/textnorm"
	"lingo-sync/internal/tm"
	"lingo-sync/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SettingsProvider supplies the current pipeline settings snapshot.
type SettingsProvider interface {
	GetSettings() types.SystemSettings
}

// RunResult summarizes one processing cycle.
type RunResult struct {
	RunID         string `json:"run_id"`
	Claimed       int    `json:"claimed"`
	Processed     int    `json:"processed"`
	CacheHits     int    `json:"cache_hits"`
	TMExactHits   int    `json:"tm_exact_hits"`
	TMFuzzyHits   int    `json:"tm_fuzzy_hits"`
	ProviderCalls int    `json:"provider_calls"`
	Skipped       int    `json:"skipped"`
	Errors        int    `json:"errors"`
	Aborted       string `json:"aborted,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
}

// Processor executes processing cycles. Only one cycle runs at a time across
// all instances sharing the store; concurrent invocations no-op with
// ErrLockHeld.
type Processor struct {
	db       *gorm.DB
	queue    *queue.JobQueue
	cache    *cache.TranslationCache
	memory   *tm.TranslationMemory
	client   *provider.Client
	repo     repository.ContentRepository
	settings SettingsProvider
	lock     *leaseLock
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(
	db *gorm.DB,
	jobQueue *queue.JobQueue,
	translationCache *cache.TranslationCache,
	memory *tm.TranslationMemory,
	client *provider.Client,
	repo repository.ContentRepository,
	settings SettingsProvider,
	sharedStore store.Store,
) *Processor {
	return &Processor{
		db:       db,
		queue:    jobQueue,
		cache:    translationCache,
		memory:   memory,
		client:   client,
		repo:     repo,
		settings: settings,
		lock:     newLeaseLock(sharedStore),
	}
}

// RunQueue executes one bounded cycle. It acquires the lock (returning
// ErrLockHeld when another cycle is active), claims up to batchSize jobs,
// resolves each, and always releases the lock on exit. A quota error aborts
// the cycle: remaining claimed jobs return to pending untouched.
func (p *Processor) RunQueue(ctx context.Context, batchSize int) (*RunResult, error) {
	settings := p.settings.GetSettings()
	if batchSize <= 0 {
		batchSize = settings.BatchSize
	}

	if err := p.lock.Acquire(time.Duration(settings.LockTTLMinutes) * time.Minute); err != nil {
		return nil, err
	}
	defer p.lock.Release()

	started := time.Now()
	result := &RunResult{RunID: uuid.NewString()}

	jobs, err := p.queue.Claim(batchSize)
	if err != nil {
		p.recordRun(result, started, err)
		return nil, err
	}
	result.Claimed = len(jobs)

	for i, job := range jobs {
		select {
		case <-ctx.Done():
			result.Aborted = "cancelled"
			p.releaseRemaining(jobs[i:])
			p.recordRun(result, started, ctx.Err())
			return result, ctx.Err()
		default:
		}

		if err := p.processJob(ctx, &job, settings, result); err != nil {
			var provErr *provider.Error
			if !errors.As(err, &provErr) {
				// Database or repository trouble is not the job's fault:
				// put the claim back untouched and stop the cycle rather
				// than mis-attributing the failure.
				if errors.Is(err, context.Canceled) {
					result.Aborted = "cancelled"
				} else {
					result.Aborted = "internal_error"
				}
				p.releaseJob(job.ID)
				p.releaseRemaining(jobs[i+1:])
				p.recordRun(result, started, err)
				return result, err
			}

			result.Errors++
			if provErr.Kind == provider.KindQuota {
				// Out of budget: record the quota failure on the job that hit
				// it, return the rest untouched, and stop the cycle.
				result.Aborted = "quota_exhausted"
				if markErr := p.queue.MarkError(job.ID, err.Error()); markErr != nil {
					logrus.WithError(markErr).WithField("job_id", job.ID).Error("Failed to record quota failure")
				}
				p.releaseRemaining(jobs[i+1:])
				p.recordRun(result, started, err)
				return result, err
			}
			if !provErr.Retryable() {
				// Retrying a bad request or empty response cannot help.
				if markErr := p.queue.MarkError(job.ID, err.Error()); markErr != nil {
					logrus.WithError(markErr).WithField("job_id", job.ID).Error("Failed to record job failure")
				}
				continue
			}
			if failErr := p.queue.Fail(job.ID, err.Error(), settings.MaxRetries); failErr != nil {
				logrus.WithError(failErr).WithField("job_id", job.ID).Error("Failed to record job failure")
			}
			continue
		}
		result.Processed++
	}

	p.recordRun(result, started, nil)
	logrus.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"claimed":   result.Claimed,
		"processed": result.Processed,
		"cache":     result.CacheHits,
		"tm_exact":  result.TMExactHits,
		"tm_fuzzy":  result.TMFuzzyHits,
		"provider":  result.ProviderCalls,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	}).Info("Processing cycle finished")
	return result, nil
}

// processJob resolves a single claimed job through the reuse ladder:
// cache, TM exact, TM fuzzy above the auto-apply cutoff, then the provider.
func (p *Processor) processJob(ctx context.Context, job *models.TranslationJob, settings types.SystemSettings, result *RunResult) error {
	text, err := p.repo.GetField(job.ObjectType, job.ObjectID, job.Field)
	if errors.Is(err, repository.ErrFieldNotFound) {
		result.Skipped++
		return p.queue.Skip(job.ID, "source content no longer exists")
	}
	if err != nil {
		return err
	}
	if textnorm.Normalize(text) == "" {
		result.Skipped++
		return p.queue.Skip(job.ID, "source content is empty")
	}

	srcLang, dstLang := settings.SourceLang, settings.TargetLang
	providerName := settings.ProviderName
	cacheTTL := time.Duration(settings.CacheTTLMinutes) * time.Minute
	logger := logrus.WithFields(logrus.Fields{
		"job_id": job.ID, "object": fmt.Sprintf("%s/%d/%s", job.ObjectType, job.ObjectID, job.Field),
	})

	// Fast path: cache.
	if entry, ok := p.cache.Get(text, providerName, srcLang, dstLang); ok {
		result.CacheHits++
		logger.Debug("Cache hit")
		return p.apply(job, entry.TargetText)
	}

	// TM exact reuse is always trusted.
	if segment, err := p.memory.Exact(text, srcLang, dstLang); err != nil {
		return err
	} else if segment != nil {
		result.TMExactHits++
		logger.Debug("TM exact hit")
		p.cache.Set(text, providerName, srcLang, dstLang, segment.TargetText, cacheTTL)
		return p.apply(job, segment.TargetText)
	}

	// TM fuzzy reuse is applied only above the high-confidence cutoff.
	// Near misses are logged and deferred to the provider.
	matches, err := p.memory.FuzzyMatches(text, srcLang, dstLang, settings.FuzzyThreshold, settings.FuzzyMatchLimit)
	if err != nil {
		return err
	}
	if len(matches) > 0 {
		best := matches[0]
		if best.Confidence >= settings.FuzzyAutoApply {
			result.TMFuzzyHits++
			logger.WithFields(logrus.Fields{
				"confidence": best.Confidence,
				"segment_id": best.Segment.ID,
			}).Info("Applying high-confidence fuzzy match")
			if err := p.memory.MarkUsed(best.Segment.ID); err != nil {
				logger.WithError(err).Warn("Failed to mark fuzzy segment used")
			}
			p.cache.Set(text, providerName, srcLang, dstLang, best.Segment.TargetText, cacheTTL)
			return p.apply(job, best.Segment.TargetText)
		}
		logger.WithFields(logrus.Fields{
			"candidates":      len(matches),
			"best_confidence": best.Confidence,
		}).Info("Fuzzy matches below auto-apply cutoff, calling provider")
	}

	result.ProviderCalls++
	translated, err := p.client.Translate(ctx, provider.Request{
		Text:       text,
		SourceLang: srcLang,
		TargetLang: dstLang,
		Context:    job.ObjectType + "/" + job.Field,
	})
	if err != nil {
		return err
	}

	// Write-through both reuse layers before touching job state.
	if err := p.memory.Store(text, translated.TargetText, srcLang, dstLang, providerName, job.ObjectType+"/"+job.Field); err != nil {
		logger.WithError(err).Warn("Failed to persist TM segment")
	}
	p.cache.Set(text, providerName, srcLang, dstLang, translated.TargetText, cacheTTL)
	return p.apply(job, translated.TargetText)
}

// apply writes the translated value back and completes the job.
func (p *Processor) apply(job *models.TranslationJob, targetText string) error {
	settings := p.settings.GetSettings()
	if err := p.repo.UpsertTranslation(job.ObjectType, job.ObjectID, job.Field, settings.TargetLang, targetText); err != nil {
		return fmt.Errorf("failed to write translation: %w", err)
	}
	if err := p.queue.Complete(job.ID); err != nil {
		if errors.Is(err, queue.ErrStateConflict) {
			// The source changed mid-translation and the job was reopened.
			// The next cycle redoes it against the new text.
			logrus.WithField("job_id", job.ID).Warn("Job reopened during translation, result will be redone")
			return nil
		}
		return err
	}
	return nil
}

// ForceReleaseLock removes the processor lock regardless of owner.
func (p *Processor) ForceReleaseLock() error {
	return p.lock.ForceRelease()
}

// LockHeld reports whether a cycle currently holds the lock.
func (p *Processor) LockHeld() (bool, error) {
	return p.lock.Held()
}

func (p *Processor) releaseJob(id uint) {
	if err := p.queue.Release(id); err != nil {
		logrus.WithError(err).WithField("job_id", id).Warn("Failed to release claimed job")
	}
}

func (p *Processor) releaseRemaining(jobs []models.TranslationJob) {
	for _, job := range jobs {
		p.releaseJob(job.ID)
	}
}

func (p *Processor) recordRun(result *RunResult, started time.Time, runErr error) {
	finished := time.Now()
	result.DurationMs = finished.Sub(started).Milliseconds()

	run := models.TranslationRun{
		ID:         result.RunID,
		StartedAt:  started,
		FinishedAt: &finished,
		DurationMs: result.DurationMs,
		Stats: datatypes.JSONMap{
			"claimed":        result.Claimed,
			"processed":      result.Processed,
			"cache_hits":     result.CacheHits,
			"tm_exact_hits":  result.TMExactHits,
			"tm_fuzzy_hits":  result.TMFuzzyHits,
			"provider_calls": result.ProviderCalls,
			"skipped":        result.Skipped,
			"errors":         result.Errors,
			"aborted":        result.Aborted,
		},
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := p.db.Create(&run).Error; err != nil {
		logrus.WithError(err).Warn("Failed to record translation run")
	}
}
