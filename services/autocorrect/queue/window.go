// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"sync"
	"time"
)

// Window is a time-bounded set of content hashes.
//
// A hash is "seen" from the moment it is claimed until TTL elapses. Expired
// entries are swept lazily on Claim and by Sweep.
//
// Thread Safety: Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
	// nextSweep bounds how often Claim walks the whole map.
	nextSweep time.Time
}

// NewWindow creates a window whose entries expire after ttl.
func NewWindow(ttl time.Duration, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Claim records hash and reports whether it was not already present.
func (w *Window) Claim(hash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.After(w.nextSweep) {
		w.sweepLocked(now)
		w.nextSweep = now.Add(w.ttl)
	}
	if expires, ok := w.entries[hash]; ok && now.Before(expires) {
		return false
	}
	w.entries[hash] = now.Add(w.ttl)
	return true
}

// Forget removes hash so that a later Claim succeeds.
func (w *Window) Forget(hash string) {
	w.mu.Lock()
	delete(w.entries, hash)
	w.mu.Unlock()
}

// Contains reports whether hash is currently in the window.
func (w *Window) Contains(hash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	expires, ok := w.entries[hash]
	return ok && w.now().Before(expires)
}

// Sweep drops expired entries and returns how many were removed.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweepLocked(w.now())
}

// Len returns the number of entries, including expired ones not yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *Window) sweepLocked(now time.Time) int {
	removed := 0
	for hash, expires := range w.entries {
		if !now.Before(expires) {
			delete(w.entries, hash)
			removed++
		}
	}
	return removed
}
