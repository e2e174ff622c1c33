// Package handler implements the REST surface over the translation pipeline.
package handler

import (
	"errors"
	"strconv"
	"time"

	"lingo-sync/internal/cache"
	"lingo-sync/internal/config"
	app_errors "lingo-sync/internal/errors"
	"lingo-sync/internal/processor"
	"lingo-sync/internal/provider"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/repository"
	"lingo-sync/internal/response"
	"lingo-sync/internal/services"
	"lingo-sync/internal/tm"
	"lingo-sync/internal/types"
	"lingo-sync/internal/utils"
	"lingo-sync/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server aggregates the pipeline components behind HTTP handlers.
type Server struct {
	ConfigManager   types.ConfigManager
	SettingsManager *config.SystemSettingsManager
	Queue           *queue.JobQueue
	Processor       *processor.Processor
	Memory          *tm.TranslationMemory
	Cache           *cache.TranslationCache
	Sync            *repository.SyncService
	Cleanup         *services.CleanupService
}

// NewServer creates the handler server.
func NewServer(
	configManager types.ConfigManager,
	settingsManager *config.SystemSettingsManager,
	jobQueue *queue.JobQueue,
	proc *processor.Processor,
	memory *tm.TranslationMemory,
	translationCache *cache.TranslationCache,
	syncService *repository.SyncService,
	cleanupService *services.CleanupService,
) *Server {
	return &Server{
		ConfigManager:   configManager,
		SettingsManager: settingsManager,
		Queue:           jobQueue,
		Processor:       proc,
		Memory:          memory,
		Cache:           translationCache,
		Sync:            syncService,
		Cleanup:         cleanupService,
	}
}

// Health returns liveness information.
// GET /health
func (s *Server) Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":    "ok",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports queue counts, lock state, and TM totals.
// GET /api/status
func (s *Server) Status(c *gin.Context) {
	counts, err := s.Queue.Counts()
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	locked, err := s.Processor.LockHeld()
	if err != nil {
		logrus.WithError(err).Warn("Failed to read lock state")
	}
	tmStats, err := s.Memory.GetStats()
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	recentErrors, err := s.Queue.RecentErrors(0)
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	settings := s.SettingsManager.GetSettings()
	response.Success(c, gin.H{
		"jobs":               counts,
		"lock_held":          locked,
		"translation_memory": tmStats,
		"recent_errors":      recentErrors,
		"settings":           settings,
		"provider": gin.H{
			"name":       settings.ProviderName,
			"model":      settings.ProviderModel,
			"configured": s.ConfigManager.GetProviderAuth().APIKey != "",
		},
	})
}

// RunRequest is the optional payload for a manual run.
type RunRequest struct {
	BatchSize int `json:"batch_size"`
}

// Run triggers one processing cycle.
// POST /api/run
func (s *Server) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
			return
		}
	}

	result, err := s.Processor.RunQueue(c.Request.Context(), req.BatchSize)
	if err == processor.ErrLockHeld {
		response.Error(c, app_errors.ErrTaskInProgress)
		return
	}
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		// The cycle's partial progress is already in the run record; the
		// HTTP status reflects the upstream failure that aborted it.
		response.Error(c, app_errors.NewAPIErrorWithUpstream(
			app_errors.ErrBadGateway.HTTPStatus,
			app_errors.ErrBadGateway.Code,
			provErr.Error()))
		return
	}
	if err != nil && result == nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	// An aborted cycle still reports its partial progress.
	response.Success(c, result)
}

// Reset reopens error and skipped jobs, returns stuck translating jobs to
// pending, and releases an orphaned processor lock.
// POST /api/jobs/reset
func (s *Server) Reset(c *gin.Context) {
	reopened, err := s.Queue.Reopen()
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	settings := s.SettingsManager.GetSettings()
	unstuck, err := s.Queue.ResetStuck(time.Duration(settings.StuckThresholdMinutes) * time.Minute)
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}

	if err := s.Processor.ForceReleaseLock(); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}

	response.Success(c, gin.H{
		"reopened":      reopened,
		"unstuck":       unstuck,
		"lock_released": true,
	})
}

// Resync scans the content repository and enqueues changed fields.
// POST /api/jobs/resync
func (s *Server) Resync(c *gin.Context) {
	result, err := s.Sync.Resync()
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, result)
}

// EstimateCost projects provider spend for the backlog.
// GET /api/jobs/estimate-cost?states=pending,outdated&max_jobs=100
func (s *Server) EstimateCost(c *gin.Context) {
	maxJobs, err := strconv.Atoi(c.DefaultQuery("max_jobs", "0"))
	if err != nil || maxJobs < 0 {
		response.Error(c, app_errors.NewValidationError("max_jobs must be a non-negative integer"))
		return
	}
	states := utils.ParseArray(c.Query("states"))

	estimate, err := s.Processor.EstimateCost(states, maxJobs)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, estimate)
}

// CleanupRequest is the optional payload for a retention pass.
type CleanupRequest struct {
	Days      int      `json:"days"`
	States    []string `json:"states"`
	DryRun    bool     `json:"dry_run"`
	NoArchive bool     `json:"no_archive"`
}

// RunCleanup triggers one retention pass.
// POST /api/jobs/cleanup
func (s *Server) RunCleanup(c *gin.Context) {
	var req CleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
			return
		}
	}

	result, err := s.Cleanup.RunWithOptions(services.CleanupOptions{
		Days:      req.Days,
		States:    req.States,
		DryRun:    req.DryRun,
		NoArchive: req.NoArchive,
	})
	if err != nil {
		response.Error(c, app_errors.NewValidationError(err.Error()))
		return
	}
	response.Success(c, result)
}

// ForceUnlock removes the processor lock regardless of owner.
// POST /api/lock/force-release
func (s *Server) ForceUnlock(c *gin.Context) {
	if err := s.Processor.ForceReleaseLock(); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	logrus.Warn("Processor lock force-released via API")
	response.Success(c, gin.H{"released": true})
}

// InvalidateCache drops all cached translations for the active provider.
// POST /api/cache/invalidate
func (s *Server) InvalidateCache(c *gin.Context) {
	settings := s.SettingsManager.GetSettings()
	if err := s.Cache.Invalidate(settings.ProviderName); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, gin.H{"provider": settings.ProviderName})
}

// GetSettings returns the current pipeline settings.
// GET /api/settings
func (s *Server) GetSettings(c *gin.Context) {
	response.Success(c, s.SettingsManager.GetSettings())
}

// UpdateSettings applies a partial settings update.
// PUT /api/settings
func (s *Server) UpdateSettings(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if err := s.SettingsManager.UpdateSettings(updates); err != nil {
		response.Error(c, app_errors.NewValidationError(err.Error()))
		return
	}
	response.Success(c, s.SettingsManager.GetSettings())
}
