package handlers

import (
	"testing"
	"time"

	"mercator-hq/vigil/pkg/detection"
)

type countingRecorder struct {
	hits, misses, flushes, size int
}

func (c *countingRecorder) RecordCacheHit(string)           { c.hits++ }
func (c *countingRecorder) RecordCacheMiss(string)          { c.misses++ }
func (c *countingRecorder) UpdateCacheSize(_ string, n int) { c.size = n }
func (c *countingRecorder) RecordCacheFlush(string)         { c.flushes++ }

// TestRecentCache tests hits, misses and flushes.
func TestRecentCache(t *testing.T) {
	rec := &countingRecorder{}
	cache := NewRecentCache(time.Minute, time.Minute, rec)

	if _, ok := cache.Get(24); ok {
		t.Fatal("Get on empty cache hit")
	}

	page := []*detection.ResultRecord{{ID: 1, OwnerKey: "alice"}}
	cache.Set(24, page)
	cache.Set(5, page)

	got, ok := cache.Get(24)
	if !ok || len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("Get(24) = %v, %v", got, ok)
	}
	if _, ok := cache.Get(10); ok {
		t.Error("Get(10) hit a page stored under another limit")
	}

	cache.Flush()
	if _, ok := cache.Get(24); ok {
		t.Error("Get after Flush hit")
	}

	if rec.hits != 1 || rec.misses != 3 || rec.flushes != 1 || rec.size != 0 {
		t.Errorf("recorder = %+v", rec)
	}
}

// TestRecentCache_Expiry tests TTL expiry.
func TestRecentCache_Expiry(t *testing.T) {
	cache := NewRecentCache(20*time.Millisecond, time.Minute, nil)
	cache.Set(24, nil)

	time.Sleep(40 * time.Millisecond)

	if _, ok := cache.Get(24); ok {
		t.Error("expired page returned")
	}
}
