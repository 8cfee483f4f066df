package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"acervo/preservation-api/internal/archive"
)

// ArtifactCache keeps recently downloaded preserved packages in memory.
// A preserved package never changes, so entries only leave by count or TTL.
// Packages larger than maxEntryBytes are never stored.
// A nil *ArtifactCache is valid and caches nothing.
type ArtifactCache struct {
	cache         *expirable.LRU[string, *archive.Artifact]
	maxEntryBytes int64
}

// NewArtifactCache returns nil when maxEntries or maxEntryBytes is not positive.
// The cache holds at most maxEntries*maxEntryBytes bytes of content.
func NewArtifactCache(maxEntries int, maxEntryBytes int64, ttl time.Duration) *ArtifactCache {
	if maxEntries <= 0 || maxEntryBytes <= 0 {
		return nil
	}
	return &ArtifactCache{
		cache:         expirable.NewLRU[string, *archive.Artifact](maxEntries, nil, ttl),
		maxEntryBytes: maxEntryBytes,
	}
}

// Get returns the cached package for storageID.
func (c *ArtifactCache) Get(storageID string) (*archive.Artifact, bool) {
	if c == nil {
		return nil, false
	}
	a, ok := c.cache.Get(storageID)
	if ok {
		artifactCacheHitsTotal.Inc()
		return a, true
	}
	artifactCacheMissesTotal.Inc()
	return nil, false
}

// Set stores a under storageID and reports whether it was kept.
func (c *ArtifactCache) Set(storageID string, a *archive.Artifact) bool {
	if c == nil || a == nil {
		return false
	}
	if int64(len(a.Content)) > c.maxEntryBytes {
		artifactCacheSkippedTotal.Inc()
		return false
	}
	c.cache.Add(storageID, a)
	return true
}

func (c *ArtifactCache) Delete(storageID string) {
	if c == nil {
		return
	}
	c.cache.Remove(storageID)
}

func (c *ArtifactCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
