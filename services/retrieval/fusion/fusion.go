// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fusion merges all lanes' results into one deduplicated, ranked,
// cited result set.
//
// Fusion is pure and commutative: given the same LaneResults in any
// arrival order it produces byte-identical output, including citation
// markers. That property is what makes the orchestrator's unordered lane
// fan-out testable, so every step here — dedup survivor choice, composite
// scoring, tie-breaking — is a total, deterministic order.
package fusion

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the fusion tunables. The composite weights and the
// sufficiency-style thresholds are deliberately named configuration, not
// inferred constants: the right values are an open product question and
// deployments tune them.
type Config struct {
	// RelevanceWeight scales the provider-reported relevance score.
	// Default: 0.40
	RelevanceWeight float64

	// CredibilityWeight scales domain authority.
	// Default: 0.25
	CredibilityWeight float64

	// RecencyWeight scales the exponential recency decay.
	// Default: 0.20
	RecencyWeight float64

	// LaneWeight scales the per-lane priority weight.
	// Default: 0.15
	LaneWeight float64

	// LaneWeights is the per-lane priority weight in [0,1]. Lanes absent
	// from the map weigh 0.5.
	LaneWeights map[datatypes.LaneName]float64

	// RecencyHalfLife is the age at which the recency component halves.
	// Items without a timestamp score a neutral 0.5. Default: 72h
	RecencyHalfLife time.Duration

	// MaxItems truncates the ranked list. Default: 20
	MaxItems int

	// ConfidenceTopK is how many top composite scores feed the overall
	// confidence mean. Default: 5
	ConfidenceTopK int

	// MinViableItems is the item count under which the result is flagged
	// low-coverage. Default: 3
	MinViableItems int

	// ProviderPriority orders providers for tie-breaking, lower first.
	// Built by the orchestrator from the lane chains.
	ProviderPriority map[string]int
}

// DefaultConfig returns the production fusion tunables.
func DefaultConfig() Config {
	return Config{
		RelevanceWeight:   0.40,
		CredibilityWeight: 0.25,
		RecencyWeight:     0.20,
		LaneWeight:        0.15,
		LaneWeights: map[datatypes.LaneName]float64{
			datatypes.LaneVector:         1.0,
			datatypes.LaneKeyword:        0.9,
			datatypes.LaneWeb:            0.8,
			datatypes.LaneKnowledgeGraph: 0.8,
			datatypes.LaneNews:           0.7,
			datatypes.LaneMarkets:        0.7,
		},
		RecencyHalfLife: 72 * time.Hour,
		MaxItems:        20,
		ConfidenceTopK:  5,
		MinViableItems:  3,
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.RelevanceWeight == 0 && c.CredibilityWeight == 0 && c.RecencyWeight == 0 && c.LaneWeight == 0 {
		c.RelevanceWeight = defaults.RelevanceWeight
		c.CredibilityWeight = defaults.CredibilityWeight
		c.RecencyWeight = defaults.RecencyWeight
		c.LaneWeight = defaults.LaneWeight
	}
	if c.LaneWeights == nil {
		c.LaneWeights = defaults.LaneWeights
	}
	if c.RecencyHalfLife == 0 {
		c.RecencyHalfLife = defaults.RecencyHalfLife
	}
	if c.MaxItems == 0 {
		c.MaxItems = defaults.MaxItems
	}
	if c.ConfidenceTopK == 0 {
		c.ConfidenceTopK = defaults.ConfidenceTopK
	}
	if c.MinViableItems == 0 {
		c.MinViableItems = defaults.MinViableItems
	}
}

// =============================================================================
// Domain Authority
// =============================================================================

// domainAuthority scores source domains for the credibility component.
// Unknown domains get neutralAuthority; URL-less items (internal data
// points) get internalAuthority since they come from our own stores.
var domainAuthority = map[string]float64{
	"en.wikipedia.org":    0.95,
	"wikipedia.org":       0.95,
	"reuters.com":         0.90,
	"apnews.com":          0.90,
	"nature.com":          0.92,
	"arxiv.org":           0.85,
	"github.com":          0.80,
	"stackoverflow.com":   0.78,
	"finance.yahoo.com":   0.85,
	"influx.internal":     0.85,
	"bloomberg.com":       0.88,
	"ft.com":              0.88,
	"bbc.com":             0.87,
	"nytimes.com":         0.85,
	"theguardian.com":     0.84,
	"medium.com":          0.50,
	"reddit.com":          0.40,
}

const (
	neutralAuthority  = 0.55
	internalAuthority = 0.75
)

// Credibility returns the domain-authority score for an item.
func Credibility(item *datatypes.RetrievalItem) float64 {
	if item.CredibilityScore > 0 {
		return item.CredibilityScore
	}
	if item.Domain == "" {
		return internalAuthority
	}
	if score, ok := domainAuthority[item.Domain]; ok {
		return score
	}
	return neutralAuthority
}

// =============================================================================
// Fuse
// =============================================================================

// scored pairs an item with its composite score and tie-break keys.
type scored struct {
	item         datatypes.RetrievalItem
	composite    float64
	lanePriority int
	provPriority int
}

// Fuse merges lane results into one FusedResult.
//
// # Description
//
// Implements the full pipeline: flatten, dedupe by normalized identity
// (higher (credibility, relevance) survives, loser's provenance merges
// into the survivor), composite scoring, deterministic ranking,
// truncation, citation assignment, confidence, and uncertainty flags.
// The reference time for recency is taken once so repeated calls with
// the same inputs and clock are identical.
//
// # Inputs
//
//   - results: LaneResults in any order, possibly partial or empty.
//   - cfg: Fusion tunables; zero values take defaults.
//
// # Outputs
//
//   - *datatypes.FusedResult: Never nil, possibly empty but flagged.
func Fuse(results []datatypes.LaneResult, cfg Config) *datatypes.FusedResult {
	return fuseAt(results, cfg, time.Now())
}

// fuseAt is Fuse with an explicit clock for deterministic tests.
func fuseAt(results []datatypes.LaneResult, cfg Config, now time.Time) *datatypes.FusedResult {
	cfg.applyDefaults()

	// Canonicalize input order so the whole pipeline is arrival-order
	// independent.
	ordered := append([]datatypes.LaneResult(nil), results...)
	sort.Slice(ordered, func(i, j int) bool {
		return datatypes.LanePriority(ordered[i].Lane) < datatypes.LanePriority(ordered[j].Lane)
	})

	// 1-2. Flatten and dedupe.
	survivors := dedupe(ordered, cfg)

	// 3. Score.
	scoredItems := make([]scored, 0, len(survivors))
	for _, item := range survivors {
		scoredItems = append(scoredItems, scored{
			item:         item,
			composite:    composite(&item, cfg, now),
			lanePriority: bestLanePriority(item.LaneOrigin),
			provPriority: providerPriority(cfg, item.Provider),
		})
	}

	// 4. Rank: composite desc, then lane priority, then provider
	// priority, then identity for a total order.
	sort.Slice(scoredItems, func(i, j int) bool {
		a, b := scoredItems[i], scoredItems[j]
		if a.composite != b.composite {
			return a.composite > b.composite
		}
		if a.lanePriority != b.lanePriority {
			return a.lanePriority < b.lanePriority
		}
		if a.provPriority != b.provPriority {
			return a.provPriority < b.provPriority
		}
		return a.item.Identity() < b.item.Identity()
	})

	// 5. Truncate.
	if len(scoredItems) > cfg.MaxItems {
		scoredItems = scoredItems[:cfg.MaxItems]
	}

	// 6. Citations.
	items := make([]datatypes.RetrievalItem, 0, len(scoredItems))
	citations := make(map[string]datatypes.Citation, len(scoredItems))
	for i, s := range scoredItems {
		marker := fmt.Sprintf("[%d]", i+1)
		items = append(items, s.item)
		citations[marker] = datatypes.Citation{
			Marker: marker,
			ItemID: s.item.ID,
			URL:    s.item.URL,
			Title:  s.item.Title,
		}
	}

	// 7-8. Confidence and flags.
	confidence := overallConfidence(scoredItems, ordered, cfg)
	flags, partial := uncertaintyFlags(ordered, len(items), cfg)

	lanesUsed := make([]datatypes.LaneName, 0, len(ordered))
	for _, lr := range ordered {
		lanesUsed = append(lanesUsed, lr.Lane)
	}

	return &datatypes.FusedResult{
		Items:             items,
		CitationMap:       citations,
		UncertaintyFlags:  flags,
		OverallConfidence: confidence,
		LanesUsed:         lanesUsed,
		Partial:           partial,
	}
}

// dedupe flattens lane results and collapses identity collisions.
func dedupe(ordered []datatypes.LaneResult, cfg Config) []datatypes.RetrievalItem {
	byIdentity := make(map[string]*datatypes.RetrievalItem)
	var order []string // first-seen identities in canonical lane order

	for _, lr := range ordered {
		for _, item := range lr.Items {
			item := item
			if len(item.LaneOrigin) == 0 {
				item.LaneOrigin = []datatypes.LaneName{lr.Lane}
			}
			if item.CredibilityScore == 0 {
				item.CredibilityScore = Credibility(&item)
			}
			id := item.Identity()

			existing, ok := byIdentity[id]
			if !ok {
				byIdentity[id] = &item
				order = append(order, id)
				continue
			}

			winner, loser := existing, &item
			if prefer(&item, existing, cfg) {
				winner, loser = &item, existing
				byIdentity[id] = winner
			}
			winner.LaneOrigin = mergeLanes(winner.LaneOrigin, loser.LaneOrigin)
		}
	}

	out := make([]datatypes.RetrievalItem, 0, len(order))
	for _, id := range order {
		out = append(out, *byIdentity[id])
	}
	return out
}

// prefer reports whether a should survive over b on identity collision:
// higher (credibility, relevance), then the standard tie-break chain.
func prefer(a, b *datatypes.RetrievalItem, cfg Config) bool {
	if a.CredibilityScore != b.CredibilityScore {
		return a.CredibilityScore > b.CredibilityScore
	}
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if la, lb := bestLanePriority(a.LaneOrigin), bestLanePriority(b.LaneOrigin); la != lb {
		return la < lb
	}
	return providerPriority(cfg, a.Provider) < providerPriority(cfg, b.Provider)
}

// mergeLanes unions provenance lists in canonical lane order.
func mergeLanes(a, b []datatypes.LaneName) []datatypes.LaneName {
	seen := make(map[datatypes.LaneName]bool, len(a)+len(b))
	for _, l := range a {
		seen[l] = true
	}
	for _, l := range b {
		seen[l] = true
	}
	out := make([]datatypes.LaneName, 0, len(seen))
	for _, l := range datatypes.AllLanes {
		if seen[l] {
			out = append(out, l)
		}
	}
	return out
}

// composite computes the weighted composite score for one item.
func composite(item *datatypes.RetrievalItem, cfg Config, now time.Time) float64 {
	relevance := clamp01(item.RelevanceScore)
	credibility := clamp01(item.CredibilityScore)

	recency := 0.5
	if !item.Timestamp.IsZero() {
		age := now.Sub(item.Timestamp)
		if age < 0 {
			age = 0
		}
		recency = math.Exp2(-float64(age) / float64(cfg.RecencyHalfLife))
	}

	laneWeight := 0.5
	if lp := bestLane(item.LaneOrigin); lp != "" {
		if w, ok := cfg.LaneWeights[lp]; ok {
			laneWeight = w
		}
	}

	return cfg.RelevanceWeight*relevance +
		cfg.CredibilityWeight*credibility +
		cfg.RecencyWeight*recency +
		cfg.LaneWeight*laneWeight
}

// overallConfidence is the mean of the top-K composite scores, discounted
// by the fraction of lanes that were partial or empty.
func overallConfidence(scoredItems []scored, lanes []datatypes.LaneResult, cfg Config) float64 {
	if len(scoredItems) == 0 || len(lanes) == 0 {
		return 0
	}

	k := cfg.ConfidenceTopK
	if k > len(scoredItems) {
		k = len(scoredItems)
	}
	var sum float64
	for _, s := range scoredItems[:k] {
		sum += s.composite
	}
	mean := sum / float64(k)

	degraded := 0
	for _, lr := range lanes {
		if lr.Partial || len(lr.Items) == 0 {
			degraded++
		}
	}
	discount := 1.0 - float64(degraded)/float64(len(lanes))

	return clamp01(mean * discount)
}

// uncertaintyFlags builds the degradation flags in deterministic order
// and reports whether any lane was partial.
func uncertaintyFlags(lanes []datatypes.LaneResult, itemCount int, cfg Config) ([]datatypes.UncertaintyFlag, bool) {
	flags := []datatypes.UncertaintyFlag{}
	partial := false
	for _, lr := range lanes {
		if lr.Partial {
			partial = true
			flags = append(flags, datatypes.LaneFlag(datatypes.FlagPartialLane, lr.Lane))
		}
		if len(lr.Items) == 0 {
			flags = append(flags, datatypes.LaneFlag(datatypes.FlagEmptyLane, lr.Lane))
		}
	}
	if itemCount < cfg.MinViableItems {
		flags = append(flags, datatypes.FlagLowCoverage)
	}
	return flags, partial
}

func bestLane(lanes []datatypes.LaneName) datatypes.LaneName {
	best := datatypes.LaneName("")
	bestP := int(^uint(0) >> 1)
	for _, l := range lanes {
		if p := datatypes.LanePriority(l); p < bestP {
			bestP = p
			best = l
		}
	}
	return best
}

func bestLanePriority(lanes []datatypes.LaneName) int {
	return datatypes.LanePriority(bestLane(lanes))
}

func providerPriority(cfg Config, provider string) int {
	if p, ok := cfg.ProviderPriority[provider]; ok {
		return p
	}
	return 1 << 16
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
