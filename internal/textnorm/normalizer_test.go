package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Hello World", "hello world"},
		{"collapses whitespace", "  hello \t\n world  ", "hello world"},
		{"empty", "", ""},
		{"whitespace only", "   \n\t ", ""},
		{"nfkc compatibility", "ﬁle", "file"},
		{"fullwidth digits", "１２３", "123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestContentHashStability(t *testing.T) {
	// Variants that normalize identically must hash identically.
	assert.Equal(t, ContentHash("Hello  World"), ContentHash("hello world"))
	assert.Equal(t, ContentHash("  HELLO\nWORLD "), ContentHash("hello world"))

	assert.NotEqual(t, ContentHash("hello world"), ContentHash("hello worlds"))
	assert.Len(t, ContentHash("x"), 64)
}

func TestKeyDiscriminatesDimensions(t *testing.T) {
	base := Key("hello", "openai", "en", "es")

	assert.Equal(t, base, Key("  Hello ", "openai", "en", "es"))
	assert.Equal(t, base, Key("hello", "openai", "EN", "ES"))

	assert.NotEqual(t, base, Key("bye", "openai", "en", "es"))
	assert.NotEqual(t, base, Key("hello", "deepl", "en", "es"))
	assert.NotEqual(t, base, Key("hello", "openai", "de", "es"))
	assert.NotEqual(t, base, Key("hello", "openai", "en", "fr"))
}

func TestKeySeparatorInjection(t *testing.T) {
	// Field boundaries must not be forgeable by crafted values.
	assert.NotEqual(t, Key("a", "bc", "en", "es"), Key("ab", "c", "en", "es"))
}

func TestLength(t *testing.T) {
	assert.Equal(t, 11, Length(" Hello   World "))
	assert.Equal(t, 0, Length("   "))
	assert.Equal(t, 4, Length("héllo"[0:5])) // bytes vs runes
}
