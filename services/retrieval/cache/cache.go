// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the shared, single-flight-protected TTL cache
// of provider responses.
//
// The cache is process-wide: every concurrent query consults the same
// instance, and the singleflight group guarantees that two concurrent
// misses on the same key trigger exactly one upstream fetch. Storage is
// pluggable behind the Store interface — in-memory LRU by default, Badger
// for deployments that want the cache to survive restarts or be shared
// via a mounted volume.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// =============================================================================
// TTL Policy
// =============================================================================

// TTLPolicy maps lanes to cache lifetimes. Market data goes stale in
// seconds, news in minutes, indexed documents in an hour.
type TTLPolicy map[datatypes.LaneName]time.Duration

// DefaultTTLPolicy returns the production TTLs.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		datatypes.LaneMarkets:        30 * time.Second,
		datatypes.LaneNews:           300 * time.Second,
		datatypes.LaneWeb:            300 * time.Second,
		datatypes.LaneVector:         3600 * time.Second,
		datatypes.LaneKeyword:        3600 * time.Second,
		datatypes.LaneKnowledgeGraph: 3600 * time.Second,
	}
}

// TTL returns the lifetime for a lane, defaulting to five minutes for
// lanes the policy doesn't name.
func (p TTLPolicy) TTL(lane datatypes.LaneName) time.Duration {
	if d, ok := p[lane]; ok {
		return d
	}
	return 5 * time.Minute
}

// =============================================================================
// Store
// =============================================================================

// Store is the minimal contract the cache needs from its backing storage:
// get, set-with-TTL. Implementations must be safe for concurrent use and
// must expire entries at or after their TTL.
type Store interface {
	// Get returns the value for key, or false if absent or expired.
	Get(key string) ([]byte, bool)

	// Set stores value under key with the given lifetime.
	Set(key string, value []byte, ttl time.Duration)

	// Close releases backing resources.
	Close() error
}

// =============================================================================
// Key Derivation
// =============================================================================

// Key derives the cache key for a lane request: a digest over the lane,
// the provider set, and the normalized query parameters. Two requests
// that would hit the same providers with the same effective parameters
// share a key regardless of incidental formatting differences.
func Key(lane datatypes.LaneName, providers []string, queryText string, c datatypes.Constraints) string {
	sorted := append([]string(nil), providers...)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", lane, strings.Join(sorted, ","),
		strings.ToLower(strings.Join(strings.Fields(queryText), " ")))
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s",
		c.Region, c.Category, c.Language,
		c.DateRange.From.Format(time.RFC3339), c.DateRange.To.Format(time.RFC3339),
		strings.Join(c.Tickers, ","), c.Interval)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// =============================================================================
// Cache
// =============================================================================

// Cache is the single-flight TTL cache of lane results.
//
// # Thread Safety
//
// Safe for concurrent use. per-key locking lives inside the store and the
// singleflight group; no lock is held across a fetch.
type Cache struct {
	store  Store
	policy TTLPolicy
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	// onLookup, when set, observes every lookup outcome. Feeds the
	// cache metrics.
	onLookup func(lane datatypes.LaneName, hit bool)
}

// New creates a cache over the given store. A nil store gets an in-memory
// default sized for one process.
func New(store Store, policy TTLPolicy) *Cache {
	if store == nil {
		store = NewMemoryStore(DefaultMemoryStoreSize)
	}
	if policy == nil {
		policy = DefaultTTLPolicy()
	}
	return &Cache{store: store, policy: policy}
}

// GetOrFetch returns the cached LaneResult for key, or runs fetch to
// produce it.
//
// # Description
//
// On a hit the cached result is returned immediately with fromCache set
// and FromCache tagged on the result. On a miss, concurrent callers for
// the same key collapse into one fetch via singleflight; the winner's
// outcome is shared. Only successful fetches with at least one item are
// written back — a failed or empty lane must not poison the cache for
// its TTL.
//
// # Inputs
//
//   - ctx: Cancellation for the fetch path.
//   - lane: Lane name, used for the TTL policy.
//   - key: Cache key from Key().
//   - fetch: The underlying lane execution. Called at most once per key
//     across all concurrent callers.
//
// # Outputs
//
//   - *datatypes.LaneResult: The cached or fetched result.
//   - error: Only the fetch's error; cache machinery never fails a call.
func (c *Cache) GetOrFetch(ctx context.Context, lane datatypes.LaneName, key string,
	fetch func(context.Context) (*datatypes.LaneResult, error)) (*datatypes.LaneResult, error) {

	if res, ok := c.lookup(key); ok {
		c.hits.Add(1)
		if c.onLookup != nil {
			c.onLookup(lane, true)
		}
		return res, nil
	}
	c.misses.Add(1)
	if c.onLookup != nil {
		c.onLookup(lane, false)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent winner may have
		// populated the key while we queued.
		if res, ok := c.lookup(key); ok {
			return res, nil
		}

		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if res != nil && len(res.Items) > 0 && !res.Partial {
			if data, err := json.Marshal(res); err == nil {
				c.store.Set(key, data, c.policy.TTL(lane))
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*datatypes.LaneResult), nil
}

// lookup reads and decodes a cached result, tagging it cache-origin.
func (c *Cache) lookup(key string) (*datatypes.LaneResult, bool) {
	data, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	var res datatypes.LaneResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	res.FromCache = true
	return &res, true
}

// SetObserver installs a lookup observer. Call before the cache is
// shared across goroutines.
func (c *Cache) SetObserver(fn func(lane datatypes.LaneName, hit bool)) {
	c.onLookup = fn
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}
