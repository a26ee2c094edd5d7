// Package cache provides the process-wide result cache for report queries.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/branchsight/branchsight-engine/pkg/apperrors"
)

// ResultCache memoizes query results keyed by a fingerprint of
// (tenant, query, parameters). Entries expire after a TTL, checked lazily on
// read; a bounded entry count with least-recently-used eviction keeps the
// unbounded tenant x query x parameter cardinality from exhausting memory.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	stopChan   chan struct{}
	stopOnce   sync.Once
}

type cacheEntry struct {
	data       []byte
	storedAt   time.Time
	lastAccess time.Time
}

// New creates a result cache with the given TTL and entry bound.
func New(ttl time.Duration, maxEntries int) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &ResultCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stopChan:   make(chan struct{}),
	}
}

// Fingerprint derives the deterministic cache key for one query request.
// The tenant id is always part of the key so two tenants with identical
// query text and parameters never share an entry.
func Fingerprint(tenantID, query string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write(canonicalParams(params))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// normalizeQuery collapses whitespace so formatting differences don't split
// the cache.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// canonicalParams serializes parameters with sorted keys so map iteration
// order cannot change the fingerprint.
func canonicalParams(params map[string]any) []byte {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}
	return []byte(b.String())
}

// Get retrieves a cached result and decodes it into out. Returns false on
// miss; an entry older than the TTL is logically absent. A payload that no
// longer decodes is treated as a miss, never as a failure.
func (c *ResultCache) Get(fingerprint string, out any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[fingerprint]
	if !exists {
		return false
	}

	if time.Since(entry.storedAt) > c.ttl {
		// Expired; lazy removal, no eviction thread needed on the read path.
		delete(c.entries, fingerprint)
		return false
	}

	if err := decodeEntry(entry.data, out); err != nil {
		// Recovered locally: the corrupt entry is dropped and reported as
		// a miss, never as a failure.
		delete(c.entries, fingerprint)
		return false
	}

	entry.lastAccess = time.Now()
	return true
}

// decodeEntry unmarshals a stored payload, typing failures as
// ErrCacheCorrupt. The error stays inside the package; Get recovers by
// dropping the entry.
func decodeEntry(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("cache payload does not decode: %w: %w", err, apperrors.ErrCacheCorrupt)
	}
	return nil
}

// Put stores a result under the fingerprint, evicting the least-recently-used
// entry once the bound is reached. Values that cannot be serialized are
// silently not cached.
func (c *ResultCache) Put(fingerprint string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := time.Now()
	c.entries[fingerprint] = &cacheEntry{
		data:       payload,
		storedAt:   now,
		lastAccess: now,
	}
}

// evictLRU removes the least recently used entry. Caller must hold c.mu.
func (c *ResultCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the current entry count.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleanup starts a background goroutine that periodically removes
// expired entries. Stop it with Close.
func (c *ResultCache) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *ResultCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

// Close stops the cleanup goroutine. Idempotent.
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}
