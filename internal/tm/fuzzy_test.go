package tm

import (
	"testing"

	"lingo-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	m := NewFuzzyMatcher()

	t.Run("identical strings score 1", func(t *testing.T) {
		assert.Equal(t, 1.0, m.Similarity("hello world", "hello world"))
	})

	t.Run("empty strings score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, m.Similarity("", "hello"))
		assert.Equal(t, 0.0, m.Similarity("hello", ""))
	})

	t.Run("near-identical strings score high", func(t *testing.T) {
		score := m.Similarity("the quick brown fox", "the quick brown dog")
		assert.Greater(t, score, 0.8)
		assert.Less(t, score, 1.0)
	})

	t.Run("unrelated strings score low", func(t *testing.T) {
		score := m.Similarity("hello", "zzzzz")
		assert.Less(t, score, 0.3)
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "save your changes", "save all changes"
		assert.InDelta(t, m.Similarity(a, b), m.Similarity(b, a), 1e-9)
	})

	t.Run("bounded", func(t *testing.T) {
		pairs := [][2]string{
			{"a", "ab"},
			{"short", "a much longer sentence entirely"},
			{"héllo wörld", "hello world"},
		}
		for _, p := range pairs {
			score := m.Similarity(p[0], p[1])
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})
}

func TestConfidence(t *testing.T) {
	m := NewFuzzyMatcher()

	t.Run("no boosts equals similarity", func(t *testing.T) {
		assert.Equal(t, 0.8, m.Confidence(0.8, 0, nil))
	})

	t.Run("usage boost grows with use count", func(t *testing.T) {
		low := m.Confidence(0.8, 1, nil)
		high := m.Confidence(0.8, 50, nil)
		assert.Greater(t, low, 0.8)
		assert.Greater(t, high, low)
	})

	t.Run("usage boost capped at 0.1", func(t *testing.T) {
		assert.LessOrEqual(t, m.Confidence(0.8, 1_000_000, nil), 0.8+0.1+1e-9)
	})

	t.Run("quality boost capped at 0.1", func(t *testing.T) {
		quality := 100
		assert.InDelta(t, 0.9, m.Confidence(0.8, 0, &quality), 1e-9)
	})

	t.Run("clamped to 1", func(t *testing.T) {
		quality := 100
		assert.Equal(t, 1.0, m.Confidence(0.98, 1000, &quality))
	})
}

func TestRank(t *testing.T) {
	m := NewFuzzyMatcher()

	segment := func(id uint, source string, useCount int64) models.TMSegment {
		return models.TMSegment{
			ID:           id,
			SourceText:   source,
			TargetText:   "t" + source,
			UseCount:     useCount,
			SourceLength: len([]rune(source)),
		}
	}

	t.Run("filters below threshold", func(t *testing.T) {
		candidates := []models.TMSegment{
			segment(1, "save your changes", 0),
			segment(2, "completely unrelated text here", 0),
		}
		matches := m.Rank("save your change", candidates, 0.75, 5)
		require.Len(t, matches, 1)
		assert.Equal(t, uint(1), matches[0].Segment.ID)
	})

	t.Run("orders by confidence descending", func(t *testing.T) {
		candidates := []models.TMSegment{
			segment(1, "save all your changes now", 0),
			segment(2, "save your changes", 0),
		}
		matches := m.Rank("save your changes", candidates, 0.5, 5)
		require.Len(t, matches, 2)
		assert.Equal(t, uint(2), matches[0].Segment.ID)
		assert.GreaterOrEqual(t, matches[0].Confidence, matches[1].Confidence)
	})

	t.Run("ties break on use count", func(t *testing.T) {
		candidates := []models.TMSegment{
			segment(1, "save your changes", 2),
			segment(2, "save your changes", 10),
		}
		matches := m.Rank("save your changes", candidates, 0.5, 5)
		require.Len(t, matches, 2)
		assert.Equal(t, uint(2), matches[0].Segment.ID)
	})

	t.Run("truncates to limit", func(t *testing.T) {
		candidates := []models.TMSegment{
			segment(1, "save your changes", 0),
			segment(2, "save your change", 0),
			segment(3, "save your changed", 0),
		}
		matches := m.Rank("save your changes", candidates, 0.5, 2)
		assert.Len(t, matches, 2)
	})

	t.Run("zero limit falls back to default", func(t *testing.T) {
		candidates := make([]models.TMSegment, 0, 8)
		for i := uint(1); i <= 8; i++ {
			candidates = append(candidates, segment(i, "save your changes", 0))
		}
		matches := m.Rank("save your changes", candidates, 0.5, 0)
		assert.Len(t, matches, 5)
	})

	t.Run("empty candidates", func(t *testing.T) {
		assert.Empty(t, m.Rank("anything", nil, 0.5, 5))
	})
}
