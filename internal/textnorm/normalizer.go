// Package textnorm canonicalizes text for hashing and similarity comparison.
// Every cache key, TM lookup, and content hash goes through Normalize so that
// trivial casing/whitespace differences never cause a reuse miss.
package textnorm

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// Normalize returns the canonical form of s: Unicode NFKC normalization,
// case folding, and whitespace collapsed to single spaces.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ContentHash returns the hex BLAKE2b-256 digest of the normalized text.
// It is used to detect source-content staleness on jobs.
func ContentHash(text string) string {
	sum := blake2b.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Key returns the hex BLAKE2b-256 digest over the normalized text plus the
// provider and language pair. It keys both cache tiers and TM exact lookups.
func Key(text, provider, sourceLang, targetLang string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(Normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(sourceLang)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(targetLang)))
	return hex.EncodeToString(h.Sum(nil))
}

// Length returns the rune count of the normalized text. TM candidate
// generation uses it to restrict fuzzy search to segments of comparable size.
func Length(s string) int {
	return len([]rune(Normalize(s)))
}
