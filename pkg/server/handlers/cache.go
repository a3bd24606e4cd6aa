package handlers

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"mercator-hq/vigil/pkg/detection"
)

// recentCacheName labels the recent results cache in metrics.
const recentCacheName = "recent"

// CacheRecorder receives cache metrics. *metrics.Collector implements it.
type CacheRecorder interface {
	RecordCacheHit(cacheName string)
	RecordCacheMiss(cacheName string)
	UpdateCacheSize(cacheName string, size int)
	RecordCacheFlush(cacheName string)
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) RecordCacheHit(string)       {}
func (nopCacheRecorder) RecordCacheMiss(string)      {}
func (nopCacheRecorder) UpdateCacheSize(string, int) {}
func (nopCacheRecorder) RecordCacheFlush(string)     {}

// RecentCache caches pages of the global most recent results, keyed by
// limit. Any write to results must call Flush.
type RecentCache struct {
	cache    *cache.Cache
	recorder CacheRecorder
}

// NewRecentCache creates a cache whose entries expire after ttl. recorder
// may be nil.
func NewRecentCache(ttl, cleanupInterval time.Duration, recorder CacheRecorder) *RecentCache {
	if recorder == nil {
		recorder = nopCacheRecorder{}
	}
	return &RecentCache{
		cache:    cache.New(ttl, cleanupInterval),
		recorder: recorder,
	}
}

// Get returns the cached page for limit.
func (c *RecentCache) Get(limit int) ([]*detection.ResultRecord, bool) {
	if cached, found := c.cache.Get(strconv.Itoa(limit)); found {
		c.recorder.RecordCacheHit(recentCacheName)
		return cached.([]*detection.ResultRecord), true
	}
	c.recorder.RecordCacheMiss(recentCacheName)
	return nil, false
}

// Set stores the page for limit.
func (c *RecentCache) Set(limit int, records []*detection.ResultRecord) {
	c.cache.Set(strconv.Itoa(limit), records, cache.DefaultExpiration)
	c.recorder.UpdateCacheSize(recentCacheName, c.cache.ItemCount())
}

// Flush drops every cached page.
func (c *RecentCache) Flush() {
	c.cache.Flush()
	c.recorder.RecordCacheFlush(recentCacheName)
	c.recorder.UpdateCacheSize(recentCacheName, 0)
}

// Len returns the number of cached pages, including expired ones not yet
// purged.
func (c *RecentCache) Len() int {
	return c.cache.ItemCount()
}
