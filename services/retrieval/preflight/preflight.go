// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preflight is the optional guided-prompt pass that runs before
// lane selection. It asks a lightweight refinement model whether the
// query is ambiguous and, if so, proposes a sharper rewrite. It is
// strictly bounded: whatever happens, it never delays the query by more
// than its own fixed budget, and under time pressure it does not run at
// all.
package preflight

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/budget"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/lanes"
)

// MinConfidence is the refiner confidence below which the rewrite is
// discarded and the original query proceeds.
const MinConfidence = 0.7

// PressureFraction is the remaining-budget fraction under which any
// active lane puts the system "under pressure" and preflight bypasses.
const PressureFraction = 0.25

// Refinement is the refiner's verdict on one query.
type Refinement struct {
	HasAmbiguity bool    `json:"has_ambiguity"`
	RefinedQuery string  `json:"refined_query"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// Refiner is the external refinement capability.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Refiner interface {
	// Refine analyzes one query. Implementations should honor ctx, but
	// the pass guards against ones that do not.
	Refine(ctx context.Context, query string) (*Refinement, error)

	// Available reports whether the capability can currently serve.
	Available() bool
}

// Outcome is the result of one preflight pass.
type Outcome struct {
	// Query is the text the pipeline should proceed with: the refined
	// query when accepted, otherwise the original.
	Query string

	// Refined reports whether Query differs from the original.
	Refined bool

	// Bypassed reports whether the refiner was never consulted (or its
	// answer arrived too late to use).
	Bypassed bool

	// Reason is a short machine-readable bypass/discard cause for logs
	// and metrics: "", "unavailable", "pressure", "budget",
	// "refine_error", "low_confidence", "no_ambiguity".
	Reason string
}

// Pass runs the preflight step.
type Pass struct {
	refiner Refiner
	gauge   *lanes.Gauge
	budget  time.Duration
	logger  *slog.Logger
}

// New creates a preflight pass. refiner may be nil, in which case every
// run bypasses.
func New(refiner Refiner, gauge *lanes.Gauge) *Pass {
	return &Pass{
		refiner: refiner,
		gauge:   gauge,
		budget:  budget.PreflightBudget,
		logger:  slog.Default().With(slog.String("component", "preflight")),
	}
}

// Run executes the pass for one query.
//
// # Description
//
// Bypasses immediately when the refiner is missing or unavailable, or
// when the pressure gauge shows any active lane below PressureFraction
// of its budget. Otherwise the refiner is called under the fixed
// preflight budget; the call runs in its own goroutine so even a
// refiner that ignores cancellation cannot hold the query past the
// budget. A late, failed, unconfident, or no-ambiguity answer leaves
// the original query unchanged.
//
// # Outputs
//
//   - Outcome: Always usable; Outcome.Query is never empty for a
//     non-empty input.
func (p *Pass) Run(ctx context.Context, query string) Outcome {
	if p.refiner == nil || !p.refiner.Available() {
		return p.bypass(query, "unavailable")
	}
	if p.gauge != nil && p.gauge.UnderPressure(PressureFraction) {
		return p.bypass(query, "pressure")
	}

	refineCtx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	type reply struct {
		ref *Refinement
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		ref, err := p.refiner.Refine(refineCtx, query)
		ch <- reply{ref, err}
	}()

	select {
	case <-refineCtx.Done():
		return p.bypass(query, "budget")
	case r := <-ch:
		if r.err != nil || r.ref == nil {
			p.logger.Warn("refinement failed", slog.Any("error", r.err))
			return p.bypass(query, "refine_error")
		}
		if !r.ref.HasAmbiguity {
			return Outcome{Query: query, Reason: "no_ambiguity"}
		}
		if r.ref.Confidence < MinConfidence || r.ref.RefinedQuery == "" {
			return Outcome{Query: query, Reason: "low_confidence"}
		}
		p.logger.Debug("query refined",
			slog.Float64("confidence", r.ref.Confidence),
			slog.String("reasoning", r.ref.Reasoning),
		)
		return Outcome{Query: r.ref.RefinedQuery, Refined: true}
	}
}

func (p *Pass) bypass(query, reason string) Outcome {
	p.logger.Debug("preflight bypassed", slog.String("reason", reason))
	return Outcome{Query: query, Bypassed: true, Reason: reason}
}
