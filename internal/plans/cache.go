// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package plans

import (
	"sync"
	"time"
)

type cacheEntry struct {
	plan     *Plan
	mtime    time.Time
	cachedAt time.Time
}

// Cache is a read-through, mtime-and-TTL-invalidated cache in front of a
// Store, used by the planner (component E) to avoid re-reading plan files
// from disk on every tick.
type Cache struct {
	store *Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache wraps store with a cache whose entries are considered fresh
// for ttl after being read, as long as the file's mtime hasn't moved.
func NewCache(store *Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a plan, reloading from disk if the cache entry is missing,
// stale (mtime changed), or past its TTL. Returns ErrNotFound if the plan
// file is absent.
func (c *Cache) Get(planID string) (*Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mtime, err := c.store.Mtime(planID)
	if err == ErrNotFound {
		delete(c.entries, planID)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if entry, ok := c.entries[planID]; ok {
		if entry.mtime.Equal(mtime) && time.Since(entry.cachedAt) < c.ttl {
			return entry.plan, nil
		}
	}

	plan, err := c.store.Load(planID)
	if err != nil {
		return nil, err
	}
	c.entries[planID] = cacheEntry{plan: plan, mtime: mtime, cachedAt: time.Now()}
	return plan, nil
}

// Invalidate drops one plan's cached entry, forcing the next Get to hit
// disk.
func (c *Cache) Invalidate(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, planID)
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
