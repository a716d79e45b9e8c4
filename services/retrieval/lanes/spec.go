// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lanes holds the lane configuration, selection rules, and the
// concurrent lane executor.
package lanes

import (
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/classify"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

// ActivationFunc decides whether a lane participates in a query.
// Implementations must be pure: no I/O, no shared state.
type ActivationFunc func(req *datatypes.QueryRequest, sig classify.Signals) bool

// LaneSpec is the static configuration for one lane: its name, its
// ordered provider chain (keyed providers first by priority, keyless
// fallbacks after), and its activation predicate. Specs are built once
// at startup and never mutated.
type LaneSpec struct {
	Name     datatypes.LaneName
	Chain    provider.Chain
	Activate ActivationFunc
}

// SpecSet is the full lane configuration, indexed by name.
type SpecSet struct {
	specs map[datatypes.LaneName]LaneSpec
}

// NewSpecSet builds a SpecSet from the given specs.
func NewSpecSet(specs ...LaneSpec) *SpecSet {
	set := &SpecSet{specs: make(map[datatypes.LaneName]LaneSpec, len(specs))}
	for _, s := range specs {
		set.specs[s.Name] = s
	}
	return set
}

// Get returns the spec for a lane.
func (s *SpecSet) Get(name datatypes.LaneName) (LaneSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// Names returns the configured lane names in canonical priority order.
func (s *SpecSet) Names() []datatypes.LaneName {
	out := make([]datatypes.LaneName, 0, len(s.specs))
	for _, lane := range datatypes.AllLanes {
		if _, ok := s.specs[lane]; ok {
			out = append(out, lane)
		}
	}
	return out
}

// =============================================================================
// Standard Activation Predicates
// =============================================================================

// AlwaysActive activates a lane unconditionally. Used by the vector and
// keyword lanes.
func AlwaysActive(_ *datatypes.QueryRequest, _ classify.Signals) bool {
	return true
}

// ResearchActive activates a lane for research-grade queries. Used by
// the web lane.
func ResearchActive(req *datatypes.QueryRequest, _ classify.Signals) bool {
	return req.Complexity == datatypes.ComplexityResearch
}

// EntityActive activates a lane when the classifier found named
// entities. Used by the knowledge-graph lane.
func EntityActive(_ *datatypes.QueryRequest, sig classify.Signals) bool {
	return len(sig.Entities) > 0
}

// NewsActive activates a lane on current-events intent.
func NewsActive(_ *datatypes.QueryRequest, sig classify.Signals) bool {
	return sig.NewsIntent
}

// MarketsActive activates a lane when tickers are present or the query
// carries market intent.
func MarketsActive(req *datatypes.QueryRequest, sig classify.Signals) bool {
	return len(sig.Tickers) > 0 || len(req.Constraints.Tickers) > 0 || sig.MarketIntent
}
