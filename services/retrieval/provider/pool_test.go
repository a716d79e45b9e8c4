// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// fakeProvider is a scriptable provider for pool tests.
type fakeProvider struct {
	name   string
	keyed  bool
	items  []datatypes.RetrievalItem
	err    error
	calls  atomic.Int32
	search func(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error)
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) IsKeyed() bool { return f.keyed }

func (f *fakeProvider) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	f.calls.Add(1)
	if f.search != nil {
		return f.search(ctx, q)
	}
	return f.items, f.err
}

func testPool() *Pool {
	return NewPool(NewRegistry(DefaultBreakerConfig()), PoolConfig{
		Breaker: DefaultBreakerConfig(),
		Retry:   RetryConfig{MaxAttempts: 1},
		// No rate limiting in tests.
	})
}

// TestPool_SuccessTagsItems verifies provenance fields are stamped onto
// every returned item.
func TestPool_SuccessTagsItems(t *testing.T) {
	prov := &fakeProvider{
		name:  "web.brave",
		keyed: true,
		items: []datatypes.RetrievalItem{
			{Title: "Go 1.24 released", URL: "https://go.dev/blog/go1.24", RelevanceScore: 0.9},
		},
	}

	pr := testPool().Call(context.Background(), prov, Query{Text: "go release"}, time.Second)

	require.True(t, pr.Success)
	assert.Equal(t, "web.brave", pr.ProviderID)
	assert.False(t, pr.FallbackUsed)
	require.Len(t, pr.Items, 1)

	item := pr.Items[0]
	assert.Equal(t, "web.brave", item.Provider)
	assert.False(t, item.Keyless)
	assert.Equal(t, "go.dev", item.Domain)
	assert.NotEmpty(t, item.ID)
}

// TestPool_KeylessTagged verifies keyless providers mark their items and
// the result as fallback.
func TestPool_KeylessTagged(t *testing.T) {
	prov := &fakeProvider{
		name:  "web.searx",
		items: []datatypes.RetrievalItem{{Title: "result", URL: "https://example.com/a"}},
	}

	pr := testPool().Call(context.Background(), prov, Query{Text: "q"}, time.Second)

	require.True(t, pr.Success)
	assert.True(t, pr.FallbackUsed)
	assert.True(t, pr.Items[0].Keyless)
}

// TestPool_NotConfiguredSkipsBreaker verifies an unconfigured keyed
// provider is skipped without counting against its breaker.
func TestPool_NotConfiguredSkipsBreaker(t *testing.T) {
	pool := testPool()
	prov := &fakeProvider{name: "news.newsapi", keyed: true, err: ErrNotConfigured}

	for i := 0; i < 10; i++ {
		pr := pool.Call(context.Background(), prov, Query{Text: "q"}, time.Second)
		require.False(t, pr.Success)
		assert.Equal(t, datatypes.ErrorKindCircuitOpen, pr.ErrorKind)
	}

	assert.Equal(t, StateClosed, pool.Registry().Get("news.newsapi").State(),
		"missing configuration is not provider health")
}

// TestPool_OpenBreakerFastFails verifies no I/O happens once the breaker
// is open.
func TestPool_OpenBreakerFastFails(t *testing.T) {
	pool := NewPool(NewRegistry(BreakerConfig{FailureThreshold: 1, Window: 30 * time.Second, Cooldown: time.Hour}), PoolConfig{
		Breaker: BreakerConfig{FailureThreshold: 1},
		Retry:   RetryConfig{MaxAttempts: 1},
	})
	prov := &fakeProvider{name: "kg.graph", err: ErrAuth}

	pr := pool.Call(context.Background(), prov, Query{Text: "q"}, time.Second)
	require.False(t, pr.Success)
	assert.Equal(t, datatypes.ErrorKindAuth, pr.ErrorKind)
	require.Equal(t, StateOpen, pool.Registry().Get("kg.graph").State())

	callsBefore := prov.calls.Load()
	pr = pool.Call(context.Background(), prov, Query{Text: "q"}, time.Second)
	assert.Equal(t, datatypes.ErrorKindCircuitOpen, pr.ErrorKind)
	assert.Equal(t, callsBefore, prov.calls.Load(), "open breaker must not reach the provider")
}

// TestPool_CancellationNotCounted verifies a caller-side cancellation is
// reported as canceled and never opens the breaker.
func TestPool_CancellationNotCounted(t *testing.T) {
	pool := NewPool(NewRegistry(BreakerConfig{FailureThreshold: 1, Window: 30 * time.Second, Cooldown: time.Hour}), PoolConfig{
		Breaker: BreakerConfig{FailureThreshold: 1},
		Retry:   RetryConfig{MaxAttempts: 1},
	})
	prov := &fakeProvider{name: "vector.weaviate", search: func(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	pr := pool.Call(ctx, prov, Query{Text: "q"}, time.Second)
	require.False(t, pr.Success)
	assert.Equal(t, datatypes.ErrorKindCanceled, pr.ErrorKind)
	assert.Equal(t, StateClosed, pool.Registry().Get("vector.weaviate").State())
}

// TestPool_TimeoutCounts verifies a provider deadline hit is a timeout
// and feeds the breaker window.
func TestPool_TimeoutCounts(t *testing.T) {
	pool := NewPool(NewRegistry(BreakerConfig{FailureThreshold: 2, Window: 30 * time.Second, Cooldown: time.Hour}), PoolConfig{
		Breaker: BreakerConfig{FailureThreshold: 2},
		Retry:   RetryConfig{MaxAttempts: 1},
	})
	prov := &fakeProvider{name: "web.brave", keyed: true, search: func(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	for i := 0; i < 2; i++ {
		pr := pool.Call(context.Background(), prov, Query{Text: "q"}, 10*time.Millisecond)
		require.False(t, pr.Success)
		assert.Equal(t, datatypes.ErrorKindTimeout, pr.ErrorKind)
	}
	assert.Equal(t, StateOpen, pool.Registry().Get("web.brave").State())
}

// TestPool_RetriesNetworkOnly verifies transient network errors retry
// inside one call and sentinel failures do not.
func TestPool_RetriesNetworkOnly(t *testing.T) {
	pool := NewPool(NewRegistry(DefaultBreakerConfig()), PoolConfig{
		Retry: RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1, JitterFactor: 0.01},
	})

	netFlaky := &fakeProvider{name: "news.gdelt"}
	netFlaky.search = func(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
		if netFlaky.calls.Load() < 3 {
			return nil, assertNetworkErr{}
		}
		return []datatypes.RetrievalItem{{Title: "ok", URL: "https://example.com/x"}}, nil
	}
	pr := pool.Call(context.Background(), netFlaky, Query{Text: "q"}, time.Second)
	assert.True(t, pr.Success, "network errors should retry up to MaxAttempts")
	assert.Equal(t, int32(3), netFlaky.calls.Load())

	rateLimited := &fakeProvider{name: "markets.influx", err: ErrRateLimited}
	pr = pool.Call(context.Background(), rateLimited, Query{Text: "q"}, time.Second)
	assert.False(t, pr.Success)
	assert.Equal(t, datatypes.ErrorKindRateLimit, pr.ErrorKind)
	assert.Equal(t, int32(1), rateLimited.calls.Load(), "sentinel failures must not retry")
}

// assertNetworkErr satisfies net.Error as a non-timeout transport failure.
type assertNetworkErr struct{}

func (assertNetworkErr) Error() string   { return "connection reset" }
func (assertNetworkErr) Timeout() bool   { return false }
func (assertNetworkErr) Temporary() bool { return true }

// TestChain_PriorityOf verifies priority lookup and the unknown sentinel.
func TestChain_PriorityOf(t *testing.T) {
	chain := Chain{
		Lane: datatypes.LaneWeb,
		Entries: []ChainEntry{
			{Provider: &fakeProvider{name: "web.brave", keyed: true}, Priority: 0},
			{Provider: &fakeProvider{name: "web.searx"}, Priority: 1},
		},
	}

	assert.Equal(t, []string{"web.brave", "web.searx"}, chain.ProviderNames())
	assert.Equal(t, 0, chain.PriorityOf("web.brave"))
	assert.Equal(t, 1, chain.PriorityOf("web.searx"))
	assert.Greater(t, chain.PriorityOf("web.unknown"), 1000)
}

// TestPool_OutcomeHook verifies every call path reports its outcome:
// success, classified failure, not-configured skip, and open-breaker
// skip.
func TestPool_OutcomeHook(t *testing.T) {
	type outcome struct {
		provider string
		kind     datatypes.ErrorKind
	}
	var seen []outcome
	pool := NewPool(NewRegistry(BreakerConfig{FailureThreshold: 1}), PoolConfig{
		Retry: RetryConfig{MaxAttempts: 1},
		OnOutcome: func(provider string, kind datatypes.ErrorKind) {
			seen = append(seen, outcome{provider, kind})
		},
	})

	ok := &fakeProvider{name: "web.searx", items: []datatypes.RetrievalItem{{Title: "t", URL: "https://example.com/t"}}}
	pool.Call(context.Background(), ok, Query{Text: "q"}, time.Second)

	unconfigured := &fakeProvider{name: "news.newsapi", keyed: true, err: ErrNotConfigured}
	pool.Call(context.Background(), unconfigured, Query{Text: "q"}, time.Second)

	bad := &fakeProvider{name: "web.brave", keyed: true, err: ErrAuth}
	pool.Call(context.Background(), bad, Query{Text: "q"}, time.Second)
	// Breaker latched at threshold 1; the second call is a skip.
	pool.Call(context.Background(), bad, Query{Text: "q"}, time.Second)

	assert.Equal(t, []outcome{
		{"web.searx", datatypes.ErrorKindNone},
		{"news.newsapi", datatypes.ErrorKindCircuitOpen},
		{"web.brave", datatypes.ErrorKindAuth},
		{"web.brave", datatypes.ErrorKindCircuitOpen},
	}, seen)
	assert.Equal(t, int32(1), bad.calls.Load(), "the open breaker must skip without I/O")
}
