// Package cache is a short-lived in-memory listing store indexed by
// canonical URL and by marketplace-native ID.
package cache

import (
	"strings"
	"sync"
	"time"

	"listingsync/models"
)

type entry struct {
	listing   *models.NormalizedListing
	expiresAt time.Time
}

// ListingCache never hands out or keeps a pointer the caller also holds.
type ListingCache struct {
	mu    sync.RWMutex
	byURL map[string]*entry
	byID  map[string]*entry
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*ListingCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ListingCache) { c.now = now }
}

func New(defaultTTL time.Duration, opts ...Option) *ListingCache {
	c := &ListingCache{
		byURL: make(map[string]*entry),
		byID:  make(map[string]*entry),
		ttl:   defaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks key up as a URL first, then as an ID. Expired entries read as misses.
func (c *ListingCache) Get(key string) *models.NormalizedListing {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	e, ok := c.byURL[key]
	if !ok {
		e, ok = c.byID[key]
	}
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil
	}
	return e.listing.Clone()
}

// Set stores a copy of listing under its URL and, when known, its ID.
// A ttl of zero uses the cache default.
func (c *ListingCache) Set(listing *models.NormalizedListing, ttl time.Duration) {
	if listing == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := &entry{listing: listing.Clone(), expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byURL[listing.URL]; ok {
		c.dropLocked(old)
	}
	if listing.ID != nil {
		if old, ok := c.byID[*listing.ID]; ok {
			c.dropLocked(old)
		}
		c.byID[*listing.ID] = e
	}
	if listing.URL != "" {
		c.byURL[listing.URL] = e
	}
}

// ClearExpired removes every expired entry and returns how many were dropped.
func (c *ListingCache) ClearExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.byURL {
		if !now.Before(e.expiresAt) {
			delete(c.byURL, k)
			removed++
		}
	}
	for k, e := range c.byID {
		if !now.Before(e.expiresAt) {
			delete(c.byID, k)
			if e.listing.URL == "" {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of distinct entries, expired or not.
func (c *ListingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[*entry]bool, len(c.byURL))
	for _, e := range c.byURL {
		seen[e] = true
	}
	for _, e := range c.byID {
		seen[e] = true
	}
	return len(seen)
}

// dropLocked unlinks a replaced entry from both indexes.
func (c *ListingCache) dropLocked(e *entry) {
	if e.listing.URL != "" && c.byURL[e.listing.URL] == e {
		delete(c.byURL, e.listing.URL)
	}
	if e.listing.ID != nil && c.byID[*e.listing.ID] == e {
		delete(c.byID, *e.listing.ID)
	}
}
