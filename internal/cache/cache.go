// Package cache implements the two-tier translation cache: a small in-process
// tier in front of the shared store. Entries are keyed by the normalized
// source text plus provider and language pair, so any content or provider
// change produces a different key.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lingo-sync/internal/store"
	"lingo-sync/internal/textnorm"

	"github.com/sirupsen/logrus"
)

const (
	keyPrefix        = "translation_cache"
	versionKeyPrefix = "translation_cache_version"
	localTTL         = 5 * time.Minute
)

// Entry is the cached result of one translation.
type Entry struct {
	TargetText string    `json:"target_text"`
	Provider   string    `json:"provider"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	CachedAt   time.Time `json:"cached_at"`
}

// TranslationCache reads through the local tier into the shared store and
// writes through both. Invalidation bumps a per-provider version counter that
// is part of every key, so stale entries become unreachable immediately and
// age out of the store via their TTL.
type TranslationCache struct {
	local  *store.MemoryStore
	shared store.Store
}

// NewTranslationCache creates a cache backed by the given shared store.
func NewTranslationCache(shared store.Store) *TranslationCache {
	return &TranslationCache{
		local:  store.NewMemoryStore(),
		shared: shared,
	}
}

// Get returns the cached entry for the text, or (nil, false) on a miss.
// Corrupt entries are treated as misses and removed.
func (c *TranslationCache) Get(text, provider, sourceLang, targetLang string) (*Entry, bool) {
	key, err := c.entryKey(text, provider, sourceLang, targetLang)
	if err != nil {
		logrus.WithError(err).Warn("Cache key generation failed, treating as miss")
		return nil, false
	}

	if data, err := c.local.Get(key); err == nil {
		if entry := decodeEntry(key, data); entry != nil {
			return entry, true
		}
		c.local.Delete(key)
	}

	data, err := c.shared.Get(key)
	if err != nil {
		if err != store.ErrNotFound {
			logrus.WithError(err).Warn("Shared cache read failed, treating as miss")
		}
		return nil, false
	}

	entry := decodeEntry(key, data)
	if entry == nil {
		c.shared.Delete(key)
		return nil, false
	}

	// Promote to the local tier for subsequent hits in this cycle.
	if err := c.local.Set(key, data, localTTL); err != nil {
		logrus.WithError(err).Debug("Local cache promotion failed")
	}
	return entry, true
}

// Set stores a translation in both tiers. A failed shared write is logged and
// tolerated: the system stays correct without the cache, only slower.
func (c *TranslationCache) Set(text, provider, sourceLang, targetLang, targetText string, ttl time.Duration) {
	key, err := c.entryKey(text, provider, sourceLang, targetLang)
	if err != nil {
		logrus.WithError(err).Warn("Cache key generation failed, skipping write")
		return
	}

	entry := Entry{
		TargetText: targetText,
		Provider:   provider,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		CachedAt:   time.Now(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		logrus.WithError(err).Warn("Cache entry encoding failed, skipping write")
		return
	}

	if err := c.shared.Set(key, data, ttl); err != nil {
		logrus.WithError(err).Warn("Shared cache write failed")
	}
	if err := c.local.Set(key, data, localTTL); err != nil {
		logrus.WithError(err).Debug("Local cache write failed")
	}
}

// Invalidate drops all cached entries for a provider by bumping its version.
// Existing entries stay in the store until their TTL expires but can no
// longer be addressed.
func (c *TranslationCache) Invalidate(provider string) error {
	versionKey := fmt.Sprintf("%s:%s", versionKeyPrefix, provider)

	current, err := c.currentVersion(provider)
	if err != nil {
		return fmt.Errorf("failed to read cache version: %w", err)
	}

	next := strconv.FormatInt(current+1, 10)
	if err := c.shared.Set(versionKey, []byte(next), 0); err != nil {
		return fmt.Errorf("failed to bump cache version: %w", err)
	}
	c.local.Clear()

	logrus.WithFields(logrus.Fields{"provider": provider, "version": next}).
		Info("Translation cache invalidated")
	return nil
}

// Close releases the local tier. The shared store is owned by the container.
func (c *TranslationCache) Close() error {
	return c.local.Close()
}

func (c *TranslationCache) entryKey(text, provider, sourceLang, targetLang string) (string, error) {
	version, err := c.currentVersion(provider)
	if err != nil {
		return "", err
	}
	hash := textnorm.Key(text, provider, sourceLang, targetLang)
	return fmt.Sprintf("%s:%s:%d:%s", keyPrefix, provider, version, hash), nil
}

func (c *TranslationCache) currentVersion(provider string) (int64, error) {
	versionKey := fmt.Sprintf("%s:%s", versionKeyPrefix, provider)
	data, err := c.shared.Get(versionKey)
	if err == store.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return version, nil
}

func decodeEntry(key string, data []byte) *Entry {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		logrus.WithField("key", key).Warn("Corrupt cache entry dropped")
		return nil
	}
	return &entry
}
