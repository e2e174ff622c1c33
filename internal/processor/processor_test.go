package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lingo-sync/internal/cache"
	"lingo-sync/internal/config"
	"lingo-sync/internal/httpclient"
	"lingo-sync/internal/models"
	"lingo-sync/internal/provider"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/repository"
	"lingo-sync/internal/store"
	"lingo-sync/internal/textnorm"
	"lingo-sync/internal/tm"
	"lingo-sync/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubSettings returns a fixed settings snapshot.
type stubSettings struct {
	settings types.SystemSettings
}

func (s *stubSettings) GetSettings() types.SystemSettings {
	return s.settings
}

// stubConfig implements types.ConfigManager for the provider client.
type stubConfig struct{}

func (stubConfig) IsMaster() bool                                { return true }
func (stubConfig) IsDebugMode() bool                             { return false }
func (stubConfig) GetAuthConfig() types.AuthConfig               { return types.AuthConfig{} }
func (stubConfig) GetCORSConfig() types.CORSConfig               { return types.CORSConfig{} }
func (stubConfig) GetPerformanceConfig() types.PerformanceConfig { return types.PerformanceConfig{} }
func (stubConfig) GetLogConfig() types.LogConfig                 { return types.LogConfig{} }
func (stubConfig) GetDatabaseConfig() types.DatabaseConfig       { return types.DatabaseConfig{} }
func (stubConfig) GetProviderAuth() types.ProviderAuth           { return types.ProviderAuth{APIKey: "sk-test"} }
func (stubConfig) GetEffectiveServerConfig() types.ServerConfig  { return types.ServerConfig{} }
func (stubConfig) GetRedisDSN() string                           { return "" }
func (stubConfig) Validate() error                               { return nil }
func (stubConfig) DisplayServerConfig()                          {}
func (stubConfig) ReloadConfig() error                           { return nil }

// testEnv wires a processor over an in-memory database and a fake provider.
type testEnv struct {
	db            *gorm.DB
	queue         *queue.JobQueue
	cache         *cache.TranslationCache
	memory        *tm.TranslationMemory
	repo          *repository.GormContentRepository
	store         *store.MemoryStore
	processor     *Processor
	settings      *stubSettings
	providerCalls *atomic.Int32
}

func setupEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.TranslationJob{},
		&models.TMSegment{},
		&models.ContentField{},
		&models.TranslationRun{},
	))

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	settings := config.DefaultSystemSettings()
	settings.ProviderBaseURL = server.URL
	settings.ProviderMaxAttempts = 2
	settings.ProviderBackoffCapSeconds = 0
	settings.ProviderTimeoutSeconds = 5
	settingsProvider := &stubSettings{settings: settings}

	sharedStore := store.NewMemoryStore()
	t.Cleanup(func() { sharedStore.Close() })

	translationCache := cache.NewTranslationCache(sharedStore)
	t.Cleanup(func() { translationCache.Close() })

	clientManager := httpclient.NewHTTPClientManager()
	t.Cleanup(clientManager.CloseIdleConnections)

	jobQueue := queue.NewJobQueue(db)
	memory := tm.NewTranslationMemory(db)
	repo := repository.NewGormContentRepository(db)
	client := provider.NewClient(settingsProvider, stubConfig{}, clientManager)

	return &testEnv{
		db:            db,
		queue:         jobQueue,
		cache:         translationCache,
		memory:        memory,
		repo:          repo,
		store:         sharedStore,
		processor:     NewProcessor(db, jobQueue, translationCache, memory, client, repo, settingsProvider, sharedStore),
		settings:      settingsProvider,
		providerCalls: &calls,
	}
}

func translationHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model": "gpt-4o-mini", "choices": [{"message": {"role": "assistant", "content": "` + target + `"}}]}`))
	}
}

func (e *testEnv) seedJob(t *testing.T, objectID int64, field, value string) {
	t.Helper()
	require.NoError(t, e.repo.UpsertField("product", objectID, field, value))
	_, err := e.queue.Enqueue("product", objectID, field, textnorm.ContentHash(value))
	require.NoError(t, err)
}

func (e *testEnv) jobState(t *testing.T, objectID int64, field string) models.TranslationJob {
	t.Helper()
	var job models.TranslationJob
	require.NoError(t, e.db.Where("object_type = ? AND object_id = ? AND field = ?",
		"product", objectID, field).First(&job).Error)
	return job
}

func TestRunQueue_TranslatesViaProvider(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola mundo"))
	env.seedJob(t, 1, "title", "Hello world")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.ProviderCalls)
	assert.Zero(t, result.Errors)
	assert.Empty(t, result.Aborted)

	// The job is done and the translation landed in the repository.
	assert.Equal(t, models.JobStateDone, env.jobState(t, 1, "title").State)
	translated, err := env.repo.GetField("product", 1, "title@es")
	require.NoError(t, err)
	assert.Equal(t, "Hola mundo", translated)

	// The result is persisted in both reuse layers.
	segment, err := env.memory.ExactPeek("Hello world", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)
	assert.Equal(t, "Hola mundo", segment.TargetText)
	_, ok := env.cache.Get("Hello world", "openai", "en", "es")
	assert.True(t, ok)

	// One run row is recorded.
	var runs int64
	require.NoError(t, env.db.Model(&models.TranslationRun{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestRunQueue_CacheHitSkipsProvider(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola mundo"))
	env.seedJob(t, 1, "title", "Hello world")
	env.seedJob(t, 2, "title", "Hello world")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.ProviderCalls)
	assert.Equal(t, 1, result.CacheHits)
	assert.Equal(t, int32(1), env.providerCalls.Load())
}

func TestRunQueue_TMExactHitSkipsProvider(t *testing.T) {
	env := setupEnv(t, translationHandler("should not be called"))
	require.NoError(t, env.memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))
	env.seedJob(t, 1, "title", "Hello world")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TMExactHits)
	assert.Zero(t, result.ProviderCalls)
	assert.Zero(t, env.providerCalls.Load())

	translated, err := env.repo.GetField("product", 1, "title@es")
	require.NoError(t, err)
	assert.Equal(t, "Hola mundo", translated)
}

func TestRunQueue_FuzzyAutoApply(t *testing.T) {
	env := setupEnv(t, translationHandler("should not be called"))
	env.settings.settings.FuzzyAutoApply = 0.9

	require.NoError(t, env.memory.Store(
		"Save your changes before leaving the page",
		"Guarda tus cambios antes de salir de la página",
		"en", "es", "openai", ""))
	env.seedJob(t, 1, "hint", "Save your change before leaving the page")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TMFuzzyHits)
	assert.Zero(t, result.ProviderCalls)
	assert.Zero(t, env.providerCalls.Load())

	translated, err := env.repo.GetField("product", 1, "hint@es")
	require.NoError(t, err)
	assert.Equal(t, "Guarda tus cambios antes de salir de la página", translated)

	// The applied segment's use count was bumped.
	segment, err := env.memory.ExactPeek("Save your changes before leaving the page", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)
	assert.Equal(t, int64(2), segment.UseCount)
}

func TestRunQueue_FuzzyBelowCutoffCallsProvider(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola"))
	// A cutoff no fuzzy match can reach forces the provider path.
	env.settings.settings.FuzzyThreshold = 0.5
	env.settings.settings.FuzzyAutoApply = 1.1

	require.NoError(t, env.memory.Store(
		"Save your changes before leaving the page",
		"Guarda tus cambios", "en", "es", "openai", ""))
	env.seedJob(t, 1, "hint", "Save your change before leaving the page")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, result.TMFuzzyHits)
	assert.Equal(t, 1, result.ProviderCalls)
}

func TestRunQueue_SkipsMissingAndEmptyContent(t *testing.T) {
	env := setupEnv(t, translationHandler("should not be called"))

	// Job whose content field was deleted after enqueueing.
	_, err := env.queue.Enqueue("product", 1, "title", textnorm.ContentHash("gone"))
	require.NoError(t, err)
	// Job whose content is whitespace only.
	env.seedJob(t, 2, "title", "   ")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Zero(t, env.providerCalls.Load())

	assert.Equal(t, models.JobStateSkipped, env.jobState(t, 1, "title").State)
	assert.Equal(t, models.JobStateSkipped, env.jobState(t, 2, "title").State)
}

func TestRunQueue_ClientErrorParksJobInError(t *testing.T) {
	env := setupEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "invalid model", "type": "invalid_request_error"}}`))
	})
	env.seedJob(t, 1, "title", "Hello world")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Processed)

	// A bad request is terminal; retrying cannot fix it.
	job := env.jobState(t, 1, "title")
	assert.Equal(t, models.JobStateError, job.State)
	assert.Zero(t, job.Retries)
	assert.Contains(t, job.LastError, "invalid model")
}

func TestRunQueue_TransientFailureReturnsJobToPending(t *testing.T) {
	env := setupEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	})
	env.seedJob(t, 1, "title", "Hello world")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)

	// Attempts were exhausted within the call; the job itself retries later.
	job := env.jobState(t, 1, "title")
	assert.Equal(t, models.JobStatePending, job.State)
	assert.Equal(t, 1, job.Retries)
	assert.Contains(t, job.LastError, "overloaded")
}

func TestRunQueue_QuotaAbortsCycle(t *testing.T) {
	env := setupEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota"}}`))
	})
	env.seedJob(t, 1, "title", "Hello world")
	env.seedJob(t, 2, "title", "Another text entirely")

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, provider.IsQuota(err))
	require.NotNil(t, result)
	assert.Equal(t, "quota_exhausted", result.Aborted)
	assert.Equal(t, 2, result.Claimed)

	// One provider call. The job that hit the quota parks in error with a
	// quota-specific message; the unprocessed one returns to pending untouched.
	assert.Equal(t, int32(1), env.providerCalls.Load())
	failed := env.jobState(t, 1, "title")
	assert.Equal(t, models.JobStateError, failed.State)
	assert.Zero(t, failed.Retries)
	assert.Contains(t, failed.LastError, "quota")

	untouched := env.jobState(t, 2, "title")
	assert.Equal(t, models.JobStatePending, untouched.State)
	assert.Zero(t, untouched.Retries)

	// The lock is released, so a later cycle can run.
	held, err := env.processor.LockHeld()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRunQueue_CancelledContextReleasesJobs(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola"))
	env.seedJob(t, 1, "title", "Hello world")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.processor.RunQueue(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, "cancelled", result.Aborted)

	assert.Equal(t, models.JobStatePending, env.jobState(t, 1, "title").State)
	assert.Zero(t, env.providerCalls.Load())
}

func TestRunQueue_LockHeld(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola"))
	env.seedJob(t, 1, "title", "Hello world")

	ok, err := env.store.SetNX(lockKey, []byte("other-instance"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := env.processor.RunQueue(context.Background(), 0)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Nil(t, result)
	assert.Equal(t, models.JobStatePending, env.jobState(t, 1, "title").State)
}

func TestForceReleaseLock(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola"))

	ok, err := env.store.SetNX(lockKey, []byte("wedged-instance"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	held, err := env.processor.LockHeld()
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, env.processor.ForceReleaseLock())

	held, err = env.processor.LockHeld()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRunQueue_EmptyQueue(t *testing.T) {
	env := setupEnv(t, translationHandler("Hola"))

	result, err := env.processor.RunQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, result.Claimed)
	assert.Zero(t, env.providerCalls.Load())
}

func TestEstimateCost(t *testing.T) {
	env := setupEnv(t, translationHandler("should not be called"))

	// Reusable via TM, billable, and ignored empty content.
	require.NoError(t, env.memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))
	env.seedJob(t, 1, "title", "Hello world")
	env.seedJob(t, 2, "title", "Twenty characters!!!")
	env.seedJob(t, 3, "title", "   ")

	estimate, err := env.processor.EstimateCost(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, estimate.Jobs)
	assert.Equal(t, 1, estimate.ReusableJobs)
	assert.Equal(t, 1, estimate.BillableJobs)
	assert.Equal(t, int64(20), estimate.BillableChars)
	assert.InDelta(t, 20.0/1000*estimate.CostPerThouChr, estimate.EstimatedCost, 1e-9)

	// Bounding the sample bounds the estimate; jobs are walked oldest first.
	bounded, err := env.processor.EstimateCost(nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, bounded.Jobs)
	assert.Equal(t, 1, bounded.ReusableJobs)
	assert.Zero(t, bounded.BillableJobs)

	// Estimation never mutates job or TM state.
	assert.Equal(t, models.JobStatePending, env.jobState(t, 1, "title").State)
	segment, err := env.memory.ExactPeek("Hello world", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, int64(1), segment.UseCount)
	assert.Zero(t, env.providerCalls.Load())
}
