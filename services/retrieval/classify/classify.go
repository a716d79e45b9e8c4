// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify extracts lane-activation signals from a query.
//
// The content/NLP logic that decides "does this query mention an entity,
// a ticker, or a news topic" lives behind the QueryClassifier interface.
// Enterprise builds inject an ML-backed classifier; the default here is a
// deterministic heuristic so the lane selector stays unit-testable without
// any network dependency.
package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianRetrieval/pkg/validation"
)

// Signals are the lane-activation hints extracted from a query.
type Signals struct {
	// Entities are named entities detected in the query. A non-empty list
	// activates the knowledge-graph lane.
	Entities []string

	// Tickers are validated stock symbols detected in the query. A
	// non-empty list activates the markets lane.
	Tickers []string

	// NewsIntent reports whether the query asks about current events.
	NewsIntent bool

	// MarketIntent reports whether the query asks about prices, quotes,
	// or market movement even without an explicit ticker.
	MarketIntent bool
}

// QueryClassifier extracts Signals from a query.
//
// Thread Safety: Implementations must be safe for concurrent use.
type QueryClassifier interface {
	Classify(ctx context.Context, query string) Signals
}

// =============================================================================
// Heuristic Classifier
// =============================================================================

// Compile-time interface compliance.
var _ QueryClassifier = (*HeuristicClassifier)(nil)

// candidateTickerPattern finds ALL-CAPS tokens that look like symbols.
// Candidates are then validated through pkg/validation so "NASA" passes
// the shape test but ordinary words never do.
var candidateTickerPattern = regexp.MustCompile(`\$?\b[A-Z][A-Z0-9.\-]{0,9}\b`)

// properNounPattern finds capitalized multi-word runs mid-sentence, a
// cheap stand-in for named-entity recognition.
var properNounPattern = regexp.MustCompile(`(?:[A-Z][a-z]+)(?:\s+[A-Z][a-z]+)+`)

// newsKeywords trigger news intent.
var newsKeywords = []string{
	"news", "latest", "today", "breaking", "announced", "headline",
	"this week", "yesterday", "recent",
}

// marketKeywords trigger market intent.
var marketKeywords = []string{
	"stock", "price", "quote", "share", "market", "ticker", "crypto",
	"etf", "earnings", "dividend",
}

// commonUppercaseWords are ALL-CAPS tokens that pass ticker shape
// validation but are almost never symbols in a question.
var commonUppercaseWords = map[string]bool{
	"A": true, "I": true, "AI": true, "API": true, "CEO": true, "CTO": true,
	"GDP": true, "HTTP": true, "HTTPS": true, "US": true, "USA": true,
	"UK": true, "EU": true, "THE": true, "OK": true, "FAQ": true,
	"URL": true, "ID": true, "TV": true, "IT": true, "VS": true,
}

// HeuristicClassifier is the default keyword/regex classifier.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state.
type HeuristicClassifier struct{}

// NewHeuristicClassifier returns the default classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

// Classify extracts Signals from the query text. Purely lexical; never
// touches the network.
func (h *HeuristicClassifier) Classify(_ context.Context, query string) Signals {
	var sig Signals
	lower := strings.ToLower(query)

	for _, kw := range newsKeywords {
		if strings.Contains(lower, kw) {
			sig.NewsIntent = true
			break
		}
	}
	for _, kw := range marketKeywords {
		if strings.Contains(lower, kw) {
			sig.MarketIntent = true
			break
		}
	}

	seen := map[string]bool{}
	for _, match := range candidateTickerPattern.FindAllString(query, -1) {
		explicit := strings.HasPrefix(match, "$")
		candidate := strings.TrimPrefix(match, "$")
		if !explicit && commonUppercaseWords[candidate] {
			continue
		}
		if !explicit && !sig.MarketIntent {
			// A bare ALL-CAPS token is only a ticker when the query also
			// talks about markets. "$AAPL" is always a ticker.
			continue
		}
		if err := validation.ValidateTicker(candidate); err != nil {
			continue
		}
		if !seen[candidate] {
			seen[candidate] = true
			sig.Tickers = append(sig.Tickers, candidate)
		}
	}
	if len(sig.Tickers) > 0 {
		sig.MarketIntent = true
	}

	for _, ent := range properNounPattern.FindAllString(query, -1) {
		sig.Entities = append(sig.Entities, ent)
	}

	return sig
}
