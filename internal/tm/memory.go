// Package tm implements the durable translation memory: exact reuse keyed by
// the normalized source hash, and fuzzy reuse over similar past segments.
package tm

import (
	"errors"
	"fmt"
	"time"

	"lingo-sync/internal/models"
	"lingo-sync/internal/textnorm"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TranslationMemory persists every confirmed translation and serves exact and
// fuzzy lookups. Segments are never expired; use counts accumulate.
type TranslationMemory struct {
	db      *gorm.DB
	matcher *FuzzyMatcher
}

// NewTranslationMemory creates a translation memory over the given database.
func NewTranslationMemory(db *gorm.DB) *TranslationMemory {
	return &TranslationMemory{
		db:      db,
		matcher: NewFuzzyMatcher(),
	}
}

// Exact returns the stored segment whose normalized source matches the text
// for the language pair, or nil when none exists. A hit increments the
// segment's use count.
func (tm *TranslationMemory) Exact(text, sourceLang, targetLang string) (*models.TMSegment, error) {
	hash := textnorm.ContentHash(text)

	var segment models.TMSegment
	err := tm.db.Where("source_hash = ? AND source_lang = ? AND target_lang = ?",
		hash, sourceLang, targetLang).First(&segment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tm exact lookup failed: %w", err)
	}

	if err := tm.db.Model(&segment).
		UpdateColumn("use_count", gorm.Expr("use_count + 1")).Error; err != nil {
		logrus.WithError(err).Warn("Failed to increment TM use count")
	} else {
		segment.UseCount++
	}
	return &segment, nil
}

// ExactPeek is Exact without the use count side effect, for read-only
// consumers like cost estimation.
func (tm *TranslationMemory) ExactPeek(text, sourceLang, targetLang string) (*models.TMSegment, error) {
	hash := textnorm.ContentHash(text)

	var segment models.TMSegment
	err := tm.db.Where("source_hash = ? AND source_lang = ? AND target_lang = ?",
		hash, sourceLang, targetLang).First(&segment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tm exact lookup failed: %w", err)
	}
	return &segment, nil
}

// Store upserts a confirmed translation. A repeated identical source updates
// the target text and bumps the use count instead of inserting a duplicate.
func (tm *TranslationMemory) Store(sourceText, targetText, sourceLang, targetLang, provider, context string) error {
	segment := models.TMSegment{
		SourceHash:   textnorm.ContentHash(sourceText),
		SourceLang:   sourceLang,
		TargetLang:   targetLang,
		SourceText:   sourceText,
		SourceLength: textnorm.Length(sourceText),
		TargetText:   targetText,
		Provider:     provider,
		Context:      context,
		UseCount:     1,
	}

	return tm.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source_hash"}, {Name: "source_lang"}, {Name: "target_lang"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"target_text": targetText,
			"provider":    provider,
			"use_count":   gorm.Expr("use_count + 1"),
			"updated_at":  time.Now(),
		}),
	}).Create(&segment).Error
}

// FuzzyMatches returns up to limit past segments similar to the text, ordered
// by descending confidence. Only matches at or above threshold are returned.
// Candidates are restricted to segments whose normalized length is within a
// window of the query's, which keeps the scan bounded without an index on the
// text itself.
func (tm *TranslationMemory) FuzzyMatches(text, sourceLang, targetLang string, threshold float64, limit int) ([]Match, error) {
	normalized := textnorm.Normalize(text)
	length := len([]rune(normalized))
	if length == 0 {
		return nil, nil
	}

	minLen := int(float64(length) * 0.7)
	maxLen := int(float64(length)*1.3) + 1

	var candidates []models.TMSegment
	err := tm.db.Where(
		"source_lang = ? AND target_lang = ? AND source_length BETWEEN ? AND ?",
		sourceLang, targetLang, minLen, maxLen,
	).Order("use_count DESC").Limit(500).Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("tm fuzzy candidate query failed: %w", err)
	}

	return tm.matcher.Rank(normalized, candidates, threshold, limit), nil
}

// MarkUsed bumps the use count of a segment applied through a fuzzy match.
func (tm *TranslationMemory) MarkUsed(segmentID uint) error {
	return tm.db.Model(&models.TMSegment{}).
		Where("id = ?", segmentID).
		UpdateColumn("use_count", gorm.Expr("use_count + 1")).Error
}

// Stats summarizes the memory for the status surface.
type Stats struct {
	Segments  int64 `json:"segments"`
	TotalUses int64 `json:"total_uses"`
}

// GetStats returns segment and usage totals.
func (tm *TranslationMemory) GetStats() (Stats, error) {
	var stats Stats
	if err := tm.db.Model(&models.TMSegment{}).Count(&stats.Segments).Error; err != nil {
		return stats, err
	}
	err := tm.db.Model(&models.TMSegment{}).
		Select("COALESCE(SUM(use_count), 0)").Scan(&stats.TotalUses).Error
	return stats, err
}
