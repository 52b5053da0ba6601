// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long rendered file context is reused.
const DefaultCacheTTL = 30 * time.Second

// Cache memoizes FileContext results for a short time.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	limits  Limits
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	text    string
	files   []string // absolute, cleaned
	expires time.Time
}

// NewCache creates a cache. ttl <= 0 selects DefaultCacheTTL.
func NewCache(ttl time.Duration, limits Limits) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		limits:  limits.withDefaults(),
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// FileContext returns the rendered context for files under root, reusing a
// fresh cached copy when there is one.
func (c *Cache) FileContext(root string, files []string) string {
	abs := make([]string, len(files))
	for i, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(root, f)
		}
		abs[i] = filepath.Clean(f)
	}
	key := root + "\x00" + strings.Join(abs, "\x00")

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.text
	}
	c.mu.Unlock()

	text := FileContext(root, files, c.limits)

	c.mu.Lock()
	c.entries[key] = cacheEntry{text: text, files: abs, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return text
}

// Invalidate drops every entry that includes path.
func (c *Cache) Invalidate(path string) {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		for _, f := range e.files {
			if f == path {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
