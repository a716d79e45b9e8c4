// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lanes

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/cache"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

// scriptedProvider is a configurable provider for executor tests.
type scriptedProvider struct {
	name   string
	keyed  bool
	calls  atomic.Int32
	search func(ctx context.Context, q provider.Query) ([]datatypes.RetrievalItem, error)
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) IsKeyed() bool { return p.keyed }

func (p *scriptedProvider) Search(ctx context.Context, q provider.Query) ([]datatypes.RetrievalItem, error) {
	p.calls.Add(1)
	return p.search(ctx, q)
}

func returning(n int, prefix string) func(context.Context, provider.Query) ([]datatypes.RetrievalItem, error) {
	return func(context.Context, provider.Query) ([]datatypes.RetrievalItem, error) {
		items := make([]datatypes.RetrievalItem, n)
		for i := range items {
			items[i] = datatypes.RetrievalItem{
				Title:          fmt.Sprintf("%s %d", prefix, i),
				URL:            fmt.Sprintf("https://example.com/%s/%d", prefix, i),
				RelevanceScore: 0.8,
			}
		}
		return items, nil
	}
}

func blockUntilCancel(ctx context.Context, _ provider.Query) ([]datatypes.RetrievalItem, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestExecutor(cfg ExecutorConfig) *Executor {
	pool := provider.NewPool(provider.NewRegistry(provider.DefaultBreakerConfig()), provider.PoolConfig{
		Retry: provider.RetryConfig{MaxAttempts: 1},
	})
	return NewExecutor(pool, cache.New(cache.NewMemoryStore(64), cache.DefaultTTLPolicy()), NewGauge(), cfg)
}

func webSpec(entries ...provider.ChainEntry) LaneSpec {
	return LaneSpec{
		Name:     datatypes.LaneWeb,
		Chain:    provider.Chain{Lane: datatypes.LaneWeb, Entries: entries},
		Activate: ResearchActive,
	}
}

// TestExecutor_KeylessFallback verifies a keyed provider timing out does
// not make the lane partial when the keyless fallback delivers.
func TestExecutor_KeylessFallback(t *testing.T) {
	keyed := &scriptedProvider{name: "web.brave", keyed: true, search: blockUntilCancel}
	keyless := &scriptedProvider{name: "web.searx", search: returning(3, "searx")}

	e := newTestExecutor(ExecutorConfig{SufficiencyThreshold: 3})
	spec := webSpec(
		provider.ChainEntry{Provider: keyed, Priority: 0},
		provider.ChainEntry{Provider: keyless, Priority: 1},
	)

	req := &datatypes.QueryRequest{Text: "fallback query", Complexity: datatypes.ComplexityResearch}
	res := e.Execute(context.Background(), spec, req, 2*time.Second, 100*time.Millisecond)

	assert.False(t, res.Partial, "a delivered fallback keeps the lane whole")
	require.Len(t, res.Items, 3)
	for _, item := range res.Items {
		assert.True(t, item.Keyless)
		assert.Equal(t, "web.searx", item.Provider)
		assert.Equal(t, []datatypes.LaneName{datatypes.LaneWeb}, item.LaneOrigin)
	}
}

// TestExecutor_SufficiencyEarlyStop verifies the lane finalizes as soon
// as enough items arrive, cancelling the slow provider.
func TestExecutor_SufficiencyEarlyStop(t *testing.T) {
	fast := &scriptedProvider{name: "web.brave", keyed: true, search: returning(4, "fast")}
	slow := &scriptedProvider{name: "web.searx", search: blockUntilCancel}

	e := newTestExecutor(ExecutorConfig{SufficiencyThreshold: 3})
	spec := webSpec(
		provider.ChainEntry{Provider: fast, Priority: 0},
		provider.ChainEntry{Provider: slow, Priority: 1},
	)

	req := &datatypes.QueryRequest{Text: "sufficiency query", Complexity: datatypes.ComplexityResearch}
	start := time.Now()
	res := e.Execute(context.Background(), spec, req, 3*time.Second, 3*time.Second)

	assert.Less(t, time.Since(start), time.Second,
		"sufficiency must stop the lane well before the budget")
	assert.False(t, res.Partial)
	assert.GreaterOrEqual(t, len(res.Items), 3)
}

// TestExecutor_BudgetExpiryPartial verifies a lane whose providers all
// outlive the budget finalizes partial within it.
func TestExecutor_BudgetExpiryPartial(t *testing.T) {
	slow := &scriptedProvider{name: "web.brave", keyed: true, search: blockUntilCancel}

	e := newTestExecutor(ExecutorConfig{})
	spec := webSpec(provider.ChainEntry{Provider: slow, Priority: 0})

	req := &datatypes.QueryRequest{Text: "budget query", Complexity: datatypes.ComplexityResearch}
	start := time.Now()
	res := e.Execute(context.Background(), spec, req, 100*time.Millisecond, time.Second)

	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"the lane must finalize once its budget expires")
	assert.True(t, res.Partial)
	assert.Empty(t, res.Items)
}

// TestExecutor_AllProvidersFail verifies zero items with real failures
// yields an empty partial result, never an error.
func TestExecutor_AllProvidersFail(t *testing.T) {
	broken := &scriptedProvider{name: "kg.graph", search: func(context.Context, provider.Query) ([]datatypes.RetrievalItem, error) {
		return nil, provider.ErrMalformed
	}}

	e := newTestExecutor(ExecutorConfig{})
	spec := LaneSpec{
		Name:     datatypes.LaneKnowledgeGraph,
		Chain:    provider.Chain{Lane: datatypes.LaneKnowledgeGraph, Entries: []provider.ChainEntry{{Provider: broken}}},
		Activate: EntityActive,
	}

	req := &datatypes.QueryRequest{Text: "failing query", Complexity: datatypes.ComplexitySimple}
	res := e.Execute(context.Background(), spec, req, time.Second, 300*time.Millisecond)

	assert.True(t, res.Partial)
	assert.Empty(t, res.Items)
	assert.Contains(t, res.ProvidersUsed, "kg.graph")
}

// TestExecutor_CacheHitSkipsProviders verifies a repeated identical
// request is served from the cache without provider calls.
func TestExecutor_CacheHitSkipsProviders(t *testing.T) {
	prov := &scriptedProvider{name: "web.brave", keyed: true, search: returning(2, "cached")}

	e := newTestExecutor(ExecutorConfig{SufficiencyThreshold: 2})
	spec := webSpec(provider.ChainEntry{Provider: prov, Priority: 0})
	req := &datatypes.QueryRequest{Text: "cache query", Complexity: datatypes.ComplexityResearch}

	first := e.Execute(context.Background(), spec, req, time.Second, time.Second)
	require.Len(t, first.Items, 2)
	assert.False(t, first.FromCache)
	require.Equal(t, int32(1), prov.calls.Load())

	second := e.Execute(context.Background(), spec, req, time.Second, time.Second)
	assert.True(t, second.FromCache)
	assert.Len(t, second.Items, 2)
	assert.Equal(t, int32(1), prov.calls.Load(), "a cache hit must not touch providers")
}

// TestExecutor_OpenBreakerSkipNotFailure verifies circuit-open skips
// leave the lane whole when another provider delivers.
func TestExecutor_OpenBreakerSkipNotFailure(t *testing.T) {
	pool := provider.NewPool(provider.NewRegistry(provider.BreakerConfig{FailureThreshold: 1, Window: 30 * time.Second, Cooldown: time.Hour}), provider.PoolConfig{
		Retry: provider.RetryConfig{MaxAttempts: 1},
	})
	e := NewExecutor(pool, cache.New(cache.NewMemoryStore(64), cache.DefaultTTLPolicy()), NewGauge(), ExecutorConfig{SufficiencyThreshold: 2})

	tripped := &scriptedProvider{name: "web.brave", keyed: true, search: func(context.Context, provider.Query) ([]datatypes.RetrievalItem, error) {
		return nil, provider.ErrAuth
	}}
	healthy := &scriptedProvider{name: "web.searx", search: returning(2, "healthy")}
	spec := webSpec(
		provider.ChainEntry{Provider: tripped, Priority: 0},
		provider.ChainEntry{Provider: healthy, Priority: 1},
	)

	// First pass latches the keyed provider's breaker.
	req1 := &datatypes.QueryRequest{Text: "breaker query one", Complexity: datatypes.ComplexityResearch}
	res := e.Execute(context.Background(), spec, req1, time.Second, time.Second)
	assert.False(t, res.Partial)

	// Second pass: the keyed provider is skipped without counting as used.
	req2 := &datatypes.QueryRequest{Text: "breaker query two", Complexity: datatypes.ComplexityResearch}
	res = e.Execute(context.Background(), spec, req2, time.Second, time.Second)
	assert.False(t, res.Partial)
	assert.Equal(t, []string{"web.searx"}, res.ProvidersUsed)
	assert.Len(t, res.Items, 2)
}
