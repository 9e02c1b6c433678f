// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"sync"
	"time"
)

// =============================================================================
// FILE CACHE
// =============================================================================

// FileCache caches file reads for repeated references. An entry is valid only
// while the file's modification time and size are unchanged.
type FileCache struct {
	mu          sync.Mutex
	entries     map[string]*fileCacheEntry
	accessOrder []string // least recently used first
	maxEntries  int

	hits   int
	misses int
}

type fileCacheEntry struct {
	content string
	modTime time.Time
	size    int64
}

// FileCacheStats holds cache statistics.
type FileCacheStats struct {
	Hits       int
	Misses     int
	EntryCount int
}

// NewFileCache creates a cache holding at most maxEntries files (default 100).
func NewFileCache(maxEntries int) *FileCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &FileCache{
		entries:    make(map[string]*fileCacheEntry),
		maxEntries: maxEntries,
	}
}

// Get returns the cached content if it is still fresh.
func (c *FileCache) Get(path string, modTime time.Time, size int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok || !e.modTime.Equal(modTime) || e.size != size {
		c.misses++
		return "", false
	}
	c.hits++
	c.touchLocked(path)
	return e.content, true
}

// Put stores content, evicting the least recently used entry when full.
func (c *FileCache) Put(path, content string, modTime time.Time, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; !ok && len(c.entries) >= c.maxEntries {
		oldest := c.accessOrder[0]
		c.accessOrder = c.accessOrder[1:]
		delete(c.entries, oldest)
	}
	c.entries[path] = &fileCacheEntry{content: content, modTime: modTime, size: size}
	c.touchLocked(path)
}

// Stats returns cache statistics.
func (c *FileCache) Stats() FileCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FileCacheStats{Hits: c.hits, Misses: c.misses, EntryCount: len(c.entries)}
}

func (c *FileCache) touchLocked(path string) {
	for i, p := range c.accessOrder {
		if p == path {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, path)
}
