package tm

import (
	"math"
	"sort"

	"lingo-sync/internal/models"
	"lingo-sync/internal/textnorm"

	"github.com/agnivade/levenshtein"
)

// Match is one fuzzy lookup result.
type Match struct {
	Segment    models.TMSegment `json:"segment"`
	Similarity float64          `json:"similarity"`
	Confidence float64          `json:"confidence"`
}

// FuzzyMatcher scores normalized text pairs. Similarity blends character
// overlap with edit distance; confidence adds small boosts for segments that
// have been reused often or carry a quality score.
type FuzzyMatcher struct{}

// NewFuzzyMatcher creates a matcher.
func NewFuzzyMatcher() *FuzzyMatcher {
	return &FuzzyMatcher{}
}

// Rank scores candidates against the normalized query and returns the top
// matches at or above threshold, best first. Ties break on higher use count.
func (m *FuzzyMatcher) Rank(normalized string, candidates []models.TMSegment, threshold float64, limit int) []Match {
	if limit <= 0 {
		limit = 5
	}

	matches := make([]Match, 0, len(candidates))
	for _, candidate := range candidates {
		sim := m.Similarity(normalized, textnorm.Normalize(candidate.SourceText))
		conf := m.Confidence(sim, candidate.UseCount, candidate.QualityScore)
		if conf < threshold {
			continue
		}
		matches = append(matches, Match{
			Segment:    candidate,
			Similarity: sim,
			Confidence: conf,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Segment.UseCount > matches[j].Segment.UseCount
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Similarity returns a score in [0,1] for two normalized strings:
// 0.6 weight on character multiset overlap, 0.4 on normalized edit distance.
func (m *FuzzyMatcher) Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	overlap := charOverlapRatio(a, b)

	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	dist := levenshtein.ComputeDistance(a, b)
	editScore := 1 - float64(dist)/float64(maxLen)
	if editScore < 0 {
		editScore = 0
	}

	return 0.6*overlap + 0.4*editScore
}

// Confidence combines similarity with usage and quality boosts, each capped
// at 0.1, clamped to [0,1]. A segment reused many times is a safer bet than a
// fresh one at equal similarity.
func (m *FuzzyMatcher) Confidence(similarity float64, useCount int64, quality *int) float64 {
	conf := similarity

	usageBoost := 0.025 * math.Log1p(float64(useCount))
	if usageBoost > 0.1 {
		usageBoost = 0.1
	}
	conf += usageBoost

	if quality != nil {
		qualityBoost := float64(*quality) / 100 * 0.1
		if qualityBoost > 0.1 {
			qualityBoost = 0.1
		}
		if qualityBoost > 0 {
			conf += qualityBoost
		}
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func charOverlapRatio(a, b string) float64 {
	counts := make(map[rune]int)
	for _, r := range a {
		counts[r]++
	}
	shared := 0
	for _, r := range b {
		if counts[r] > 0 {
			counts[r]--
			shared++
		}
	}
	total := len([]rune(a))
	if lb := len([]rune(b)); lb > total {
		total = lb
	}
	return float64(shared) / float64(total)
}
