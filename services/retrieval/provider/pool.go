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
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

var poolTracer = otel.Tracer("aleutian.retrieval.provider")

// =============================================================================
// Chain
// =============================================================================

// ChainEntry is one provider in a lane's ordered fallback chain.
type ChainEntry struct {
	Provider Provider

	// Priority orders providers within the lane; lower is tried/ranked
	// first. Keyed providers precede keyless fallbacks by convention.
	Priority int
}

// Chain is a lane's ordered provider list: keyed providers by priority,
// followed by always-available keyless fallbacks. Static configuration,
// built once at startup.
type Chain struct {
	Lane    datatypes.LaneName
	Entries []ChainEntry
}

// ProviderNames returns the names of all providers in chain order.
func (c *Chain) ProviderNames() []string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.Provider.Name())
	}
	return names
}

// PriorityOf returns the chain priority for a provider name, or a large
// value for unknown providers so they rank last in tie-breaks.
func (c *Chain) PriorityOf(name string) int {
	for _, e := range c.Entries {
		if e.Provider.Name() == name {
			return e.Priority
		}
	}
	return 1 << 16
}

// =============================================================================
// Pool
// =============================================================================

// PoolConfig configures the provider pool.
type PoolConfig struct {
	// Breaker configures every per-provider circuit breaker.
	Breaker BreakerConfig

	// Retry configures transient-network retry inside one provider call.
	Retry RetryConfig

	// KeyedRate limits calls per keyed provider (events/sec). Zero
	// disables rate limiting.
	KeyedRate rate.Limit

	// KeyedBurst is the burst size for keyed provider limiters.
	// Default: 4
	KeyedBurst int

	// OnOutcome, when set, observes every call outcome (ErrorKindNone
	// for success). Feeds the per-provider call metrics.
	OnOutcome func(provider string, kind datatypes.ErrorKind)
}

// DefaultPoolConfig returns production pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Breaker:    DefaultBreakerConfig(),
		Retry:      DefaultRetryConfig(),
		KeyedRate:  rate.Limit(10),
		KeyedBurst: 4,
	}
}

// Pool executes provider calls through the shared breaker registry with
// per-provider rate limiting and bounded retry.
//
// # Thread Safety
//
// Safe for concurrent use. The pool, its registry, and its limiters are
// process-wide and shared by every concurrent query.
type Pool struct {
	registry *Registry
	cfg      PoolConfig

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewPool creates a provider pool backed by the given breaker registry.
func NewPool(registry *Registry, cfg PoolConfig) *Pool {
	cfg.Retry.applyDefaults()
	if cfg.KeyedBurst == 0 {
		cfg.KeyedBurst = 4
	}
	return &Pool{
		registry: registry,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Registry exposes the breaker registry for health snapshots and
// credential refresh wiring.
func (p *Pool) Registry() *Registry {
	return p.registry
}

// Call executes one provider search bounded by timeout.
//
// # Description
//
// The call path is: circuit breaker admission, rate limiter wait (keyed
// providers only), then the provider's Search with bounded retry for
// transient network failures. Whatever happens, the outcome is returned
// as a ProviderResult with items or an ErrorKind; errors never propagate.
// Breaker counters are updated according to the failure kind: timeouts
// and network failures count, auth failures latch, cancellations and
// rate limits do not count.
//
// # Inputs
//
//   - ctx: The lane's context. Its cancellation (sufficiency or budget)
//     is reported as ErrorKindCanceled.
//   - prov: The provider to call.
//   - q: The lane-mapped query.
//   - timeout: Per-provider timeout, already capped by the budget manager.
//
// # Outputs
//
//   - datatypes.ProviderResult: Always non-zero; check Success/ErrorKind.
func (p *Pool) Call(ctx context.Context, prov Provider, q Query, timeout time.Duration) datatypes.ProviderResult {
	name := prov.Name()
	start := time.Now()

	ctx, span := poolTracer.Start(ctx, "provider.Call",
		trace.WithAttributes(
			attribute.String("provider", name),
			attribute.Bool("keyed", prov.IsKeyed()),
			attribute.Int64("timeout_ms", timeout.Milliseconds()),
		))
	defer span.End()

	breaker := p.registry.Get(name)
	proceed, probe := breaker.Allow()
	if !proceed {
		span.SetStatus(codes.Error, "circuit open")
		p.observe(name, datatypes.ErrorKindCircuitOpen)
		return failureResult(name, datatypes.ErrorKindCircuitOpen, 0)
	}

	if prov.IsKeyed() && p.cfg.KeyedRate > 0 {
		if err := p.limiter(name).Wait(ctx); err != nil {
			// Context expired while queued behind the limiter.
			kind := Classify(ctx, err)
			p.record(breaker, kind, probe)
			span.SetStatus(codes.Error, "rate limiter wait aborted")
			p.observe(name, kind)
			return failureResult(name, kind, time.Since(start))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	items, err := p.searchWithRetry(callCtx, ctx, prov, q)
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			// Constructed without a credential: skip silently, no breaker
			// bookkeeping — this is configuration, not provider health.
			span.SetStatus(codes.Error, "not configured")
			p.observe(name, datatypes.ErrorKindCircuitOpen)
			return failureResult(name, datatypes.ErrorKindCircuitOpen, latency)
		}
		kind := Classify(ctx, err)
		p.record(breaker, kind, probe)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		slog.Debug("provider call failed",
			slog.String("provider", name),
			slog.String("error_kind", string(kind)),
			slog.Duration("latency", latency))
		p.observe(name, kind)
		return failureResult(name, kind, latency)
	}

	breaker.RecordSuccess(probe)
	p.observe(name, datatypes.ErrorKindNone)
	span.SetAttributes(attribute.Int("items", len(items)))
	span.SetStatus(codes.Ok, "success")

	for i := range items {
		items[i].Provider = name
		items[i].Keyless = !prov.IsKeyed()
		if items[i].Domain == "" && items[i].URL != "" {
			items[i].Domain = datatypes.DomainOf(items[i].URL)
		}
		if items[i].ID == "" {
			items[i].ID = items[i].Identity()
		}
	}

	return datatypes.ProviderResult{
		ProviderID:   name,
		Success:      true,
		Latency:      latency,
		Items:        items,
		FallbackUsed: !prov.IsKeyed(),
	}
}

// searchWithRetry runs the provider call, retrying transient network
// failures inside the per-provider deadline.
func (p *Pool) searchWithRetry(ctx, parent context.Context, prov Provider, q Query) ([]datatypes.RetrievalItem, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.Retry.backoff(attempt - 1)):
			}
		}

		items, err := prov.Search(ctx, q)
		if err == nil {
			return items, nil
		}
		lastErr = err

		if Classify(parent, err) != datatypes.ErrorKindNetwork {
			break
		}
	}
	return nil, lastErr
}

// record updates breaker counters for a failure kind.
func (p *Pool) record(breaker *Breaker, kind datatypes.ErrorKind, probe bool) {
	switch {
	case kind == datatypes.ErrorKindAuth:
		breaker.RecordFailure(failureAuth, probe)
	case kind.CountsAsBreakerFailure():
		breaker.RecordFailure(failureGeneric, probe)
	case probe:
		// A cancelled probe releases the slot without changing state.
		breaker.halfOpenProbe.Store(false)
	}
}

// observe reports one call outcome to the configured hook.
func (p *Pool) observe(name string, kind datatypes.ErrorKind) {
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(name, kind)
	}
}

// limiter returns the rate limiter for a keyed provider, lazily created.
func (p *Pool) limiter(name string) *rate.Limiter {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	l, ok := p.limiters[name]
	if !ok {
		l = rate.NewLimiter(p.cfg.KeyedRate, p.cfg.KeyedBurst)
		p.limiters[name] = l
	}
	return l
}
