// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preflight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/lanes"
)

// stubRefiner is a scriptable refiner for pass tests.
type stubRefiner struct {
	ref       *Refinement
	err       error
	delay     time.Duration
	available bool
	honorCtx  bool
}

func (s *stubRefiner) Available() bool { return s.available }

func (s *stubRefiner) Refine(ctx context.Context, query string) (*Refinement, error) {
	if s.delay > 0 {
		if s.honorCtx {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			time.Sleep(s.delay)
		}
	}
	return s.ref, s.err
}

// TestPass_AcceptsConfidentRefinement verifies a confident ambiguity
// verdict rewrites the query.
func TestPass_AcceptsConfidentRefinement(t *testing.T) {
	p := New(&stubRefiner{
		available: true,
		ref: &Refinement{
			HasAmbiguity: true,
			RefinedQuery: "python programming language tutorial",
			Confidence:   0.9,
		},
	}, lanes.NewGauge())

	out := p.Run(context.Background(), "python")
	assert.True(t, out.Refined)
	assert.False(t, out.Bypassed)
	assert.Equal(t, "python programming language tutorial", out.Query)
}

// TestPass_SlowRefinerBounded verifies a refiner that ignores
// cancellation still cannot hold the query past the preflight budget.
func TestPass_SlowRefinerBounded(t *testing.T) {
	p := New(&stubRefiner{
		available: true,
		delay:     5 * time.Second,
		ref:       &Refinement{HasAmbiguity: true, RefinedQuery: "late answer", Confidence: 0.99},
	}, lanes.NewGauge())
	p.budget = 50 * time.Millisecond

	start := time.Now()
	out := p.Run(context.Background(), "original query")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond, "the pass must return at its budget, not the refiner's pace")
	assert.True(t, out.Bypassed)
	assert.Equal(t, "budget", out.Reason)
	assert.Equal(t, "original query", out.Query)
}

// TestPass_DiscardVerdicts verifies low-confidence, empty-rewrite, error,
// and no-ambiguity outcomes all keep the original query.
func TestPass_DiscardVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		refiner    *stubRefiner
		wantReason string
	}{
		{
			name: "no ambiguity",
			refiner: &stubRefiner{available: true,
				ref: &Refinement{HasAmbiguity: false, Confidence: 0.95}},
			wantReason: "no_ambiguity",
		},
		{
			name: "low confidence",
			refiner: &stubRefiner{available: true,
				ref: &Refinement{HasAmbiguity: true, RefinedQuery: "maybe this", Confidence: 0.4}},
			wantReason: "low_confidence",
		},
		{
			name: "empty rewrite",
			refiner: &stubRefiner{available: true,
				ref: &Refinement{HasAmbiguity: true, Confidence: 0.9}},
			wantReason: "low_confidence",
		},
		{
			name:       "refiner error",
			refiner:    &stubRefiner{available: true, err: errors.New("model unavailable")},
			wantReason: "refine_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.refiner, lanes.NewGauge())
			out := p.Run(context.Background(), "original")
			assert.False(t, out.Refined)
			assert.Equal(t, "original", out.Query)
			assert.Equal(t, tt.wantReason, out.Reason)
		})
	}
}

// TestPass_UnavailableBypasses verifies nil and unavailable refiners
// bypass without delay.
func TestPass_UnavailableBypasses(t *testing.T) {
	out := New(nil, lanes.NewGauge()).Run(context.Background(), "q")
	assert.True(t, out.Bypassed)
	assert.Equal(t, "unavailable", out.Reason)

	out = New(&stubRefiner{available: false}, lanes.NewGauge()).Run(context.Background(), "q")
	assert.True(t, out.Bypassed)
	assert.Equal(t, "unavailable", out.Reason)
}

// TestPass_PressureBypasses verifies preflight steps aside when any
// active lane is low on budget.
func TestPass_PressureBypasses(t *testing.T) {
	gauge := lanes.NewGauge()
	release := gauge.Begin(time.Nanosecond) // instantly past the quarter mark
	defer release()
	time.Sleep(time.Millisecond)

	p := New(&stubRefiner{available: true, ref: &Refinement{HasAmbiguity: true, RefinedQuery: "x", Confidence: 0.9}}, gauge)
	out := p.Run(context.Background(), "q")
	assert.True(t, out.Bypassed)
	assert.Equal(t, "pressure", out.Reason)
}
