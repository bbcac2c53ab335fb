// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache is an LRU cache of file analyses keyed by path and content hash.
//
// Description:
//
//	Hits take the read lock only; LRU order is updated under the write lock
//	afterwards. Concurrent misses for the same key are coalesced with
//	singleflight so only one build runs and the others wait for its result.
//	Misses for different keys build in parallel.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	lru      *list.List
	flight   singleflight.Group
	capacity int

	hits      int64
	misses    int64
	evictions int64
	builds    int64
	errors    int64
	coalesced int64
}

type cacheEntry struct {
	key      string
	path     string
	analysis *FileAnalysis
	element  *list.Element
}

// CacheStats reports cache counters.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Builds    int64   `json:"builds"`
	Errors    int64   `json:"errors"`
	Coalesced int64   `json:"coalesced"`
	HitRate   float64 `json:"hit_rate"`
}

// BuildFunc builds the analysis for a cache miss.
type BuildFunc func(ctx context.Context) (*FileAnalysis, error)

// NewCache creates a cache holding at most capacity analyses.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		lru:      list.New(),
		capacity: capacity,
	}
}

func cacheKey(path, hash string) string {
	return path + "\x00" + hash
}

// Get returns the cached analysis for path at content hash.
func (c *Cache) Get(path, hash string) (*FileAnalysis, bool) {
	key := cacheKey(path, hash)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.mu.Lock()
	if entry.element != nil {
		c.lru.MoveToFront(entry.element)
	}
	c.mu.Unlock()

	atomic.AddInt64(&c.hits, 1)
	return entry.analysis, true
}

// GetOrBuild returns the cached analysis or builds it.
//
// Description:
//
//	The build runs detached from the caller's cancellation so that one
//	waiter giving up does not fail the others sharing the build; build is
//	expected to bound itself. Build errors are not cached.
//
// Outputs:
//
//	*FileAnalysis - The analysis.
//	bool - True on a cache hit.
//	error - The build error, if the build failed.
func (c *Cache) GetOrBuild(ctx context.Context, path, hash string, build BuildFunc) (*FileAnalysis, bool, error) {
	if fa, ok := c.Get(path, hash); ok {
		return fa, true, nil
	}

	key := cacheKey(path, hash)
	buildCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return entry.analysis, nil
		}

		fa, err := build(buildCtx)
		if err != nil {
			atomic.AddInt64(&c.errors, 1)
			return nil, err
		}
		c.put(key, path, fa)
		atomic.AddInt64(&c.builds, 1)
		return fa, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			atomic.AddInt64(&c.coalesced, 1)
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*FileAnalysis), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) put(key, path string, fa *FileAnalysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return
	}
	for len(c.entries) >= c.capacity {
		if !c.evictLRULocked() {
			break
		}
	}
	entry := &cacheEntry{key: key, path: path, analysis: fa}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
}

func (c *Cache) evictLRULocked() bool {
	elem := c.lru.Back()
	if elem == nil {
		return false
	}
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
	atomic.AddInt64(&c.evictions, 1)
	return true
}

// InvalidateFile drops every cached analysis of path.
func (c *Cache) InvalidateFile(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.path == path {
			c.lru.Remove(entry.element)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{
		Entries:   c.Len(),
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&c.evictions),
		Builds:    atomic.LoadInt64(&c.builds),
		Errors:    atomic.LoadInt64(&c.errors),
		Coalesced: atomic.LoadInt64(&c.coalesced),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
