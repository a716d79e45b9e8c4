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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/cache"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

var laneTracer = otel.Tracer("aleutian.retrieval.lanes")

// DefaultSufficiencyThreshold is the item count at which a lane stops
// waiting for slower providers. The right value is an open product
// question; it is configuration, not a hard-wired constant.
const DefaultSufficiencyThreshold = 3

// DefaultProviderLimit is how many items each provider is asked for.
const DefaultProviderLimit = 10

// ExecutorConfig holds the lane executor tunables.
type ExecutorConfig struct {
	// SufficiencyThreshold is the minimum usable item count that ends a
	// lane early, cancelling in-flight providers.
	// Default: DefaultSufficiencyThreshold
	SufficiencyThreshold int

	// ProviderLimit is the per-provider item request size.
	// Default: DefaultProviderLimit
	ProviderLimit int
}

func (c *ExecutorConfig) applyDefaults() {
	if c.SufficiencyThreshold == 0 {
		c.SufficiencyThreshold = DefaultSufficiencyThreshold
	}
	if c.ProviderLimit == 0 {
		c.ProviderLimit = DefaultProviderLimit
	}
}

// Executor runs one lane's provider chain concurrently under a lane
// budget, cache-first.
//
// Thread Safety: Safe for concurrent use; all mutable state lives in the
// injected pool, cache, and gauge.
type Executor struct {
	pool   *provider.Pool
	cache  *cache.Cache
	gauge  *Gauge
	cfg    ExecutorConfig
	logger *slog.Logger
}

// NewExecutor creates a lane executor over the shared provider pool and
// cache.
func NewExecutor(pool *provider.Pool, c *cache.Cache, gauge *Gauge, cfg ExecutorConfig) *Executor {
	cfg.applyDefaults()
	return &Executor{
		pool:   pool,
		cache:  c,
		gauge:  gauge,
		cfg:    cfg,
		logger: slog.Default().With(slog.String("component", "lane_executor")),
	}
}

// Execute runs one lane for one query.
//
// # Description
//
// Consults the cache first; a fresh entry short-circuits all provider
// work. On a miss (single-flighted across concurrent queries for the
// same key) every provider in the chain is launched concurrently, each
// bounded by providerTimeout, all jointly bounded by laneBudget. Results
// are collected as they complete; once the sufficiency threshold is met
// the remaining calls are cancelled and the lane finalizes early. If the
// lane budget expires first, in-flight calls are cancelled and the lane
// finalizes partial with whatever arrived.
//
// Execute never returns an error: provider failures are data on the
// LaneResult. A lane with zero items and at least one provider failure
// is marked partial so fusion can flag it.
//
// # Inputs
//
//   - ctx: Global-budget context; cancellation propagates to providers.
//   - spec: The lane's static configuration.
//   - req: The (possibly preflight-refined) query.
//   - laneBudget: This lane's time allowance.
//   - providerTimeout: Per-provider call bound, already capped.
//
// # Outputs
//
//   - datatypes.LaneResult: Always usable, possibly partial or empty.
func (e *Executor) Execute(ctx context.Context, spec LaneSpec, req *datatypes.QueryRequest,
	laneBudget, providerTimeout time.Duration) datatypes.LaneResult {

	ctx, span := laneTracer.Start(ctx, "lane.execute")
	span.SetAttributes(attribute.String("lane", string(spec.Name)))
	defer span.End()

	start := time.Now()
	key := cache.Key(spec.Name, spec.Chain.ProviderNames(), req.Text, req.Constraints)

	res, err := e.cache.GetOrFetch(ctx, spec.Name, key, func(ctx context.Context) (*datatypes.LaneResult, error) {
		lr := e.runProviders(ctx, spec, req, laneBudget, providerTimeout)
		return &lr, nil
	})
	if err != nil || res == nil {
		// The fetch path never errors; this is belt and suspenders for
		// the cache machinery itself.
		return datatypes.LaneResult{Lane: spec.Name, Partial: true, Latency: time.Since(start)}
	}

	out := *res
	out.Latency = time.Since(start)

	e.logger.Debug("lane finalized",
		slog.String("lane", string(spec.Name)),
		slog.Int("items", len(out.Items)),
		slog.Bool("partial", out.Partial),
		slog.Bool("from_cache", out.FromCache),
		slog.Duration("latency", out.Latency),
	)
	return out
}

// runProviders is the cache-miss path: the concurrent provider fan-out.
func (e *Executor) runProviders(ctx context.Context, spec LaneSpec, req *datatypes.QueryRequest,
	laneBudget, providerTimeout time.Duration) datatypes.LaneResult {

	laneCtx, cancel := context.WithTimeout(ctx, laneBudget)
	defer cancel()

	release := e.gauge.Begin(laneBudget)
	defer release()

	q := provider.Query{
		Text:        req.Text,
		Constraints: req.Constraints,
		Limit:       e.cfg.ProviderLimit,
	}

	entries := spec.Chain.Entries
	// Buffered to chain length so late finishers never leak a goroutine
	// after the collection loop stops reading.
	results := make(chan datatypes.ProviderResult, len(entries))
	for _, entry := range entries {
		entry := entry
		go func() {
			pr := e.pool.Call(laneCtx, entry.Provider, q, providerTimeout)
			pr.FallbackUsed = entry.Priority > 0
			results <- pr
		}()
	}

	lane := datatypes.LaneResult{Lane: spec.Name}
	usable := 0
	failed := 0
	received := 0
	sufficient := false

collect:
	for received < len(entries) {
		select {
		case pr := <-results:
			received++

			// Circuit-open and not-configured skips are not "used"
			// providers and not lane failures.
			if pr.ErrorKind == datatypes.ErrorKindCircuitOpen {
				continue
			}
			lane.ProvidersUsed = append(lane.ProvidersUsed, pr.ProviderID)

			if !pr.Success {
				if pr.ErrorKind != datatypes.ErrorKindCanceled {
					failed++
				}
				continue
			}

			for _, item := range pr.Items {
				item.LaneOrigin = []datatypes.LaneName{spec.Name}
				lane.Items = append(lane.Items, item)
			}
			usable += len(pr.Items)
			if !sufficient && usable >= e.cfg.SufficiencyThreshold {
				sufficient = true
				cancel()
			}

		case <-laneCtx.Done():
			break collect
		}
	}

	// A cancellation that wasn't ours (budget or global deadline, not
	// early sufficiency) makes the lane partial, as does coming up empty
	// when at least one provider genuinely failed.
	if !sufficient && laneCtx.Err() != nil {
		lane.Partial = true
	}
	if len(lane.Items) == 0 && failed > 0 {
		lane.Partial = true
	}
	return lane
}
