// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval is the knowledge-retrieval orchestration core: one
// Retrieve call fans out to every active lane, each lane fans out to its
// provider chain, and fusion folds whatever arrived into a single
// deduplicated, ranked, cited result.
//
// The contract is "always answer something": only a malformed request is
// a caller-visible error. Every provider or lane failure degrades the
// result (partial flags, uncertainty flags, lower confidence) instead of
// propagating.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/budget"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/classify"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/fusion"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/lanes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/observability"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/preflight"
)

var retrieveTracer = otel.Tracer("aleutian.retrieval.orchestrator")

// Orchestrator wires the budget manager, preflight pass, lane selector,
// lane executors, and fusion engine into one Retrieve call.
//
// Thread Safety: Safe for concurrent use. All mutable state (breakers,
// cache, pressure gauge) lives in the injected components, which are
// shared process-wide across concurrent queries.
type Orchestrator struct {
	classifier classify.QueryClassifier
	specs      *lanes.SpecSet
	executor   *lanes.Executor
	pass       *preflight.Pass
	fusionCfg  fusion.Config
	metrics    *observability.RetrievalMetrics
	logger     *slog.Logger
}

// NewOrchestrator assembles an orchestrator from its components. pass
// and metrics may be nil; a nil pass disables preflight.
func NewOrchestrator(classifier classify.QueryClassifier, specs *lanes.SpecSet,
	executor *lanes.Executor, pass *preflight.Pass, fusionCfg fusion.Config,
	metrics *observability.RetrievalMetrics) *Orchestrator {

	// The fusion tie-break needs to know each provider's position in its
	// chain. Derive it once from the lane configuration.
	if fusionCfg.ProviderPriority == nil {
		fusionCfg.ProviderPriority = make(map[string]int)
		for _, name := range specs.Names() {
			spec, _ := specs.Get(name)
			for _, entry := range spec.Chain.Entries {
				fusionCfg.ProviderPriority[entry.Provider.Name()] = entry.Priority
			}
		}
	}

	return &Orchestrator{
		classifier: classifier,
		specs:      specs,
		executor:   executor,
		pass:       pass,
		fusionCfg:  fusionCfg,
		metrics:    metrics,
		logger:     slog.Default().With(slog.String("component", "orchestrator")),
	}
}

// Retrieve runs one orchestration call.
//
// # Description
//
// Sequence: validate → derive budgets → preflight (bounded, bypassable)
// → classify and select lanes → run all lane executors concurrently,
// each under its own lane budget, all jointly under the end-to-end
// budget → fuse whatever arrived. A lane that misses the global
// deadline contributes an empty partial result; it never blocks the
// call or raises an error.
//
// # Inputs
//
//   - ctx: Caller cancellation; the end-to-end budget nests inside it.
//   - req: The query. Must have non-empty text and a known complexity.
//
// # Outputs
//
//   - *datatypes.FusedResult: Always non-nil on nil error, possibly
//     empty but flagged.
//   - error: Only datatypes.ErrInvalidQuery wrappers for malformed
//     input. All other failures degrade the result instead.
func (o *Orchestrator) Retrieve(ctx context.Context, req datatypes.QueryRequest) (*datatypes.FusedResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		if o.metrics != nil {
			o.metrics.RecordRequest(string(req.Complexity), false, true, 0)
		}
		return nil, err
	}

	b, err := budget.Compute(req.Complexity)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordRequest(string(req.Complexity), false, true, 0)
		}
		return nil, err
	}

	traceID := uuid.NewString()
	ctx, span := retrieveTracer.Start(ctx, "retrieval.retrieve")
	span.SetAttributes(
		attribute.String("retrieval.trace_id", traceID),
		attribute.String("retrieval.complexity", string(req.Complexity)),
	)
	defer span.End()

	globalCtx, cancel := context.WithTimeout(ctx, b.EndToEnd)
	defer cancel()

	// Preflight is bounded by its own fixed budget and bypasses under
	// pressure, so the worst case it adds is that fixed budget.
	working := req
	refined := false
	if o.pass != nil {
		outcome := o.pass.Run(globalCtx, req.Text)
		working.Text = outcome.Query
		refined = outcome.Refined
		if o.metrics != nil {
			o.metrics.RecordPreflight(outcome.Refined, outcome.Bypassed, outcome.Reason)
		}
	}

	signals := o.classifier.Classify(globalCtx, working.Text)

	// Detected tickers feed the markets providers through the constraint
	// mapping, same as caller-supplied ones. Explicit constraints win.
	if len(working.Constraints.Tickers) == 0 && len(signals.Tickers) > 0 {
		working.Constraints.Tickers = signals.Tickers
	}

	active := lanes.Select(&working, signals, o.specs)

	laneResults := o.runLanes(globalCtx, active, &working, b)

	fused := fusion.Fuse(laneResults, o.fusionCfg)
	fused.TraceID = traceID
	if refined {
		fused.RefinedQuery = working.Text
	}
	fused.Latency = time.Since(start)

	if o.metrics != nil {
		for _, lr := range laneResults {
			o.metrics.RecordLane(string(lr.Lane), lr.Partial, lr.FromCache,
				len(lr.Items), lr.Latency.Seconds())
		}
		o.metrics.RecordRequest(string(req.Complexity), fused.Partial, false,
			fused.Latency.Seconds())
	}

	o.logger.Info("retrieve finished",
		slog.String("trace_id", traceID),
		slog.String("complexity", string(req.Complexity)),
		slog.Int("lanes", len(active)),
		slog.Int("items", len(fused.Items)),
		slog.Bool("partial", fused.Partial),
		slog.Float64("confidence", fused.OverallConfidence),
		slog.Duration("latency", fused.Latency),
	)
	return fused, nil
}

// runLanes executes all active lanes concurrently and collects their
// results until completion or the global deadline.
func (o *Orchestrator) runLanes(ctx context.Context, active []datatypes.LaneName,
	req *datatypes.QueryRequest, b datatypes.Budget) []datatypes.LaneResult {

	if len(active) == 0 {
		return nil
	}

	// Buffered to lane count: a lane finishing after the global deadline
	// writes and exits instead of leaking.
	ch := make(chan datatypes.LaneResult, len(active))
	for _, name := range active {
		spec, ok := o.specs.Get(name)
		if !ok {
			continue
		}
		go func() {
			if o.metrics != nil {
				o.metrics.ActiveLanes.Inc()
			}
			lr := o.executor.Execute(ctx, spec, req, b.Lane(spec.Name), b.ProviderTimeout)
			if o.metrics != nil {
				o.metrics.ActiveLanes.Dec()
			}
			ch <- lr
		}()
	}

	results := make([]datatypes.LaneResult, 0, len(active))
	returned := make(map[datatypes.LaneName]bool, len(active))

collect:
	for i := 0; i < len(active); i++ {
		select {
		case lr := <-ch:
			results = append(results, lr)
			returned[lr.Lane] = true
		case <-ctx.Done():
			break collect
		}
	}

	// Lanes that missed the global deadline contribute nothing but still
	// have to be visible to fusion so the degradation is flagged.
	for _, name := range active {
		if !returned[name] {
			results = append(results, datatypes.LaneResult{Lane: name, Partial: true})
		}
	}
	return results
}

// Lanes describes the configured lanes for introspection endpoints.
func (o *Orchestrator) Lanes() []datatypes.LaneInfo {
	out := make([]datatypes.LaneInfo, 0, len(o.specs.Names()))
	for _, name := range o.specs.Names() {
		spec, _ := o.specs.Get(name)
		info := datatypes.LaneInfo{Name: name}
		for _, entry := range spec.Chain.Entries {
			info.Providers = append(info.Providers, datatypes.ProviderInfo{
				Name:     entry.Provider.Name(),
				Keyed:    entry.Provider.IsKeyed(),
				Priority: entry.Priority,
			})
		}
		out = append(out, info)
	}
	return out
}
