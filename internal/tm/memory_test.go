package tm

import (
	"testing"

	"lingo-sync/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every query on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.TMSegment{}))
	return db
}

func TestTranslationMemory_StoreAndExact(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", "greeting"))

	segment, err := memory.Exact("Hello world", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)
	assert.Equal(t, "Hola mundo", segment.TargetText)
	assert.Equal(t, "openai", segment.Provider)
	assert.Equal(t, "greeting", segment.Context)
	assert.Equal(t, int64(2), segment.UseCount) // 1 from Store, +1 from the hit
}

func TestTranslationMemory_ExactMatchesNormalizedVariants(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))

	segment, err := memory.Exact("  HELLO\n WORLD ", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)
	assert.Equal(t, "Hola mundo", segment.TargetText)
}

func TestTranslationMemory_ExactMiss(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	segment, err := memory.Exact("never stored", "en", "es")
	require.NoError(t, err)
	assert.Nil(t, segment)
}

func TestTranslationMemory_ExactScopedToLanguagePair(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))

	segment, err := memory.Exact("Hello world", "en", "fr")
	require.NoError(t, err)
	assert.Nil(t, segment)
}

func TestTranslationMemory_StoreUpsertsDuplicateSource(t *testing.T) {
	db := setupTestDB(t)
	memory := NewTranslationMemory(db)

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))
	require.NoError(t, memory.Store("Hello world", "Hola mundo!", "en", "es", "deepl", ""))

	var count int64
	require.NoError(t, db.Model(&models.TMSegment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	segment, err := memory.ExactPeek("Hello world", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)
	assert.Equal(t, "Hola mundo!", segment.TargetText)
	assert.Equal(t, "deepl", segment.Provider)
	assert.Equal(t, int64(2), segment.UseCount)
}

func TestTranslationMemory_ExactPeekHasNoSideEffect(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))

	for i := 0; i < 3; i++ {
		segment, err := memory.ExactPeek("Hello world", "en", "es")
		require.NoError(t, err)
		require.NotNil(t, segment)
		assert.Equal(t, int64(1), segment.UseCount)
	}
}

func TestTranslationMemory_FuzzyMatches(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Save your changes before leaving", "Guarda tus cambios antes de salir", "en", "es", "openai", ""))
	require.NoError(t, memory.Store("Completely different sentence about weather", "Otra cosa", "en", "es", "openai", ""))

	matches, err := memory.FuzzyMatches("Save your change before leaving", "en", "es", 0.75, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Guarda tus cambios antes de salir", matches[0].Segment.TargetText)
	assert.GreaterOrEqual(t, matches[0].Confidence, 0.75)
	assert.Less(t, matches[0].Similarity, 1.0)
}

func TestTranslationMemory_FuzzyMatchesLengthWindow(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	// Far outside the 0.7x..1.3x length window of the query.
	require.NoError(t, memory.Store("hi", "hola", "en", "es", "openai", ""))

	matches, err := memory.FuzzyMatches("a considerably longer query sentence", "en", "es", 0.1, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTranslationMemory_FuzzyMatchesEmptyQuery(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	matches, err := memory.FuzzyMatches("   ", "en", "es", 0.75, 5)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestTranslationMemory_MarkUsed(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	require.NoError(t, memory.Store("Hello world", "Hola mundo", "en", "es", "openai", ""))

	segment, err := memory.ExactPeek("Hello world", "en", "es")
	require.NoError(t, err)
	require.NotNil(t, segment)

	require.NoError(t, memory.MarkUsed(segment.ID))

	segment, err = memory.ExactPeek("Hello world", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, int64(2), segment.UseCount)
}

func TestTranslationMemory_GetStats(t *testing.T) {
	memory := NewTranslationMemory(setupTestDB(t))

	stats, err := memory.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Segments)
	assert.Equal(t, int64(0), stats.TotalUses)

	require.NoError(t, memory.Store("one", "uno", "en", "es", "openai", ""))
	require.NoError(t, memory.Store("two", "dos", "en", "es", "openai", ""))
	require.NoError(t, memory.Store("two", "dos", "en", "es", "openai", ""))

	stats, err = memory.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Segments)
	assert.Equal(t, int64(3), stats.TotalUses)
}
