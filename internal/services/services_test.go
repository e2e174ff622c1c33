package services

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"lingo-sync/internal/config"
	"lingo-sync/internal/models"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubSettings struct {
	settings types.SystemSettings
}

func (s *stubSettings) GetSettings() types.SystemSettings {
	return s.settings
}

func setupServicesDB(t *testing.T) (*gorm.DB, *queue.JobQueue) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.TranslationJob{}, &models.TranslationRun{}))
	return db, queue.NewJobQueue(db)
}

// seedJobAt creates a job in the given state with a backdated updated_at.
func seedJobAt(t *testing.T, db *gorm.DB, objectID int64, state string, age time.Duration) uint {
	t.Helper()
	job := models.TranslationJob{
		ObjectType:  "product",
		ObjectID:    objectID,
		Field:       "title",
		ContentHash: "deadbeef",
		State:       state,
	}
	require.NoError(t, db.Create(&job).Error)
	require.NoError(t, db.Model(&models.TranslationJob{}).
		Where("id = ?", job.ID).
		UpdateColumn("updated_at", time.Now().Add(-age)).Error)
	return job.ID
}

func readArchive(t *testing.T, path string) []models.TranslationJob {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader, err := gzip.NewReader(file)
	require.NoError(t, err)
	defer reader.Close()

	var jobs []models.TranslationJob
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		var job models.TranslationJob
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &job))
		jobs = append(jobs, job)
	}
	require.NoError(t, scanner.Err())
	return jobs
}

func TestCleanupRunOnce_ArchivesAndDeletesOldJobs(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	settings := config.DefaultSystemSettings()
	settings.JobRetentionDays = 30

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: settings})
	svc.archiveDir = t.TempDir()

	oldDone := seedJobAt(t, db, 1, models.JobStateDone, 45*24*time.Hour)
	oldSkipped := seedJobAt(t, db, 2, models.JobStateSkipped, 45*24*time.Hour)
	freshDone := seedJobAt(t, db, 3, models.JobStateDone, time.Hour)
	oldPending := seedJobAt(t, db, 4, models.JobStatePending, 45*24*time.Hour)

	result, err := svc.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.JobsArchived)
	assert.Equal(t, int64(2), result.JobsDeleted)
	require.NotEmpty(t, result.ArchiveFile)

	archived := readArchive(t, result.ArchiveFile)
	require.Len(t, archived, 2)
	ids := []uint{archived[0].ID, archived[1].ID}
	assert.ElementsMatch(t, []uint{oldDone, oldSkipped}, ids)

	// The fresh terminal job and the non-terminal job survive.
	var remaining []models.TranslationJob
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	survivors := []uint{remaining[0].ID, remaining[1].ID}
	assert.ElementsMatch(t, []uint{freshDone, oldPending}, survivors)
}

func TestCleanupDryRunLeavesJobsUntouched(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	settings := config.DefaultSystemSettings()
	settings.JobRetentionDays = 30

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: settings})
	svc.archiveDir = t.TempDir()

	seedJobAt(t, db, 1, models.JobStateDone, 45*24*time.Hour)
	seedJobAt(t, db, 2, models.JobStateDone, time.Hour)

	result, err := svc.RunWithOptions(CleanupOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, int64(1), result.JobsEligible)
	assert.Zero(t, result.JobsArchived)
	assert.Zero(t, result.JobsDeleted)

	var count int64
	require.NoError(t, db.Model(&models.TranslationJob{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCleanupStateFilterAndDaysOverride(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	// Retention disabled in settings; the explicit days override still applies.
	settings := config.DefaultSystemSettings()
	settings.JobRetentionDays = 0

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: settings})
	svc.archiveDir = t.TempDir()

	doneJob := seedJobAt(t, db, 1, models.JobStateDone, 10*24*time.Hour)
	seedJobAt(t, db, 2, models.JobStateSkipped, 10*24*time.Hour)

	result, err := svc.RunWithOptions(CleanupOptions{
		Days:      7,
		States:    []string{models.JobStateSkipped},
		NoArchive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.JobsDeleted)
	assert.Zero(t, result.JobsArchived)
	assert.Empty(t, result.ArchiveFile)

	var remaining []models.TranslationJob
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, doneJob, remaining[0].ID)
}

func TestCleanupRejectsNonTerminalState(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: config.DefaultSystemSettings()})

	_, err := svc.RunWithOptions(CleanupOptions{States: []string{models.JobStatePending}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not eligible for cleanup")
}

func TestCleanupRunOnce_RetentionDisabled(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	settings := config.DefaultSystemSettings()
	settings.JobRetentionDays = 0

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: settings})
	svc.archiveDir = t.TempDir()

	seedJobAt(t, db, 1, models.JobStateDone, 365*24*time.Hour)

	result, err := svc.RunOnce()
	require.NoError(t, err)
	assert.Zero(t, result.JobsArchived)
	assert.Zero(t, result.JobsDeleted)
	assert.Empty(t, result.ArchiveFile)

	var count int64
	require.NoError(t, db.Model(&models.TranslationJob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCleanupRunOnce_PrunesOldRuns(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	settings := config.DefaultSystemSettings()
	settings.JobRetentionDays = 30

	svc := NewCleanupService(db, jobQueue, &stubSettings{settings: settings})
	svc.archiveDir = t.TempDir()

	oldRun := models.TranslationRun{ID: uuid.NewString(), StartedAt: time.Now().Add(-100 * 24 * time.Hour)}
	freshRun := models.TranslationRun{ID: uuid.NewString(), StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(&oldRun).Error)
	require.NoError(t, db.Create(&freshRun).Error)

	result, err := svc.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RunsDeleted)

	var runs []models.TranslationRun
	require.NoError(t, db.Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, freshRun.ID, runs[0].ID)
}

func TestSweeperRunOnce(t *testing.T) {
	db, jobQueue := setupServicesDB(t)

	settings := config.DefaultSystemSettings()
	settings.StuckThresholdMinutes = 30
	settings.ErrorRecoveryMinutes = 60

	svc := NewSweeperService(jobQueue, &stubSettings{settings: settings})

	stuck := seedJobAt(t, db, 1, models.JobStateTranslating, time.Hour)
	liveTranslating := seedJobAt(t, db, 2, models.JobStateTranslating, time.Minute)
	agedError := seedJobAt(t, db, 3, models.JobStateError, 2*time.Hour)
	freshError := seedJobAt(t, db, 4, models.JobStateError, time.Minute)

	svc.RunOnce()

	states := make(map[uint]string)
	var jobs []models.TranslationJob
	require.NoError(t, db.Find(&jobs).Error)
	for _, job := range jobs {
		states[job.ID] = job.State
	}

	assert.Equal(t, models.JobStatePending, states[stuck])
	assert.Equal(t, models.JobStateTranslating, states[liveTranslating])
	assert.Equal(t, models.JobStateSkipped, states[agedError])
	assert.Equal(t, models.JobStateError, states[freshError])
}
