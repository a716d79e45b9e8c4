// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fusion

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func item(title, url string, lane datatypes.LaneName, prov string, relevance float64) datatypes.RetrievalItem {
	return datatypes.RetrievalItem{
		Title:          title,
		URL:            url,
		Domain:         datatypes.DomainOf(url),
		LaneOrigin:     []datatypes.LaneName{lane},
		Provider:       prov,
		RelevanceScore: relevance,
	}
}

// TestFuse_DedupeMergesProvenance verifies the same document surfacing in
// two lanes collapses to one item whose lane_origin lists both.
func TestFuse_DedupeMergesProvenance(t *testing.T) {
	results := []datatypes.LaneResult{
		{Lane: datatypes.LaneVector, Items: []datatypes.RetrievalItem{
			item("Raft paper", "https://raft.github.io/raft.pdf", datatypes.LaneVector, "vector.weaviate", 0.9),
		}},
		{Lane: datatypes.LaneWeb, Items: []datatypes.RetrievalItem{
			// Same document, URL variant.
			item("Raft paper", "https://www.raft.github.io/raft.pdf#page=1", datatypes.LaneWeb, "web.brave", 0.7),
		}},
	}

	fused := fuseAt(results, Config{}, fixedNow)
	require.Len(t, fused.Items, 1)
	assert.Equal(t, []datatypes.LaneName{datatypes.LaneVector, datatypes.LaneWeb}, fused.Items[0].LaneOrigin,
		"merged provenance must list every contributing lane")
}

// TestFuse_Commutative verifies fused output is identical regardless of
// lane arrival order.
func TestFuse_Commutative(t *testing.T) {
	results := []datatypes.LaneResult{
		{Lane: datatypes.LaneVector, Items: []datatypes.RetrievalItem{
			item("doc a", "https://example.com/a", datatypes.LaneVector, "vector.weaviate", 0.9),
			item("doc b", "https://example.com/b", datatypes.LaneVector, "vector.weaviate", 0.8),
		}},
		{Lane: datatypes.LaneWeb, Items: []datatypes.RetrievalItem{
			item("doc a", "https://example.com/a", datatypes.LaneWeb, "web.brave", 0.85),
			item("doc c", "https://example.com/c", datatypes.LaneWeb, "web.searx", 0.7),
		}},
		{Lane: datatypes.LaneNews, Partial: true},
	}

	baseline := fuseAt(results, Config{}, fixedNow)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]datatypes.LaneResult(nil), results...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := fuseAt(shuffled, Config{}, fixedNow)
		assert.Equal(t, baseline, got, "fusion must be arrival-order independent")
	}
}

// TestFuse_ProviderPriorityTieBreak verifies equal-score items from the
// same lane rank by chain priority, keyed source first.
func TestFuse_ProviderPriorityTieBreak(t *testing.T) {
	influx := item("AAPL close 231.50", "", datatypes.LaneMarkets, "markets.influx", 0.9)
	influx.Snippet = "internal series"
	influx.CredibilityScore = 0.85
	yahoo := item("AAPL quote", "https://finance.yahoo.com/quote/AAPL", datatypes.LaneMarkets, "markets.yahoo", 0.9)
	yahoo.Keyless = true
	yahoo.CredibilityScore = 0.85

	cfg := Config{ProviderPriority: map[string]int{"markets.influx": 0, "markets.yahoo": 1}}

	// Feed the keyless item first to prove ordering is not positional.
	fused := fuseAt([]datatypes.LaneResult{
		{Lane: datatypes.LaneMarkets, Items: []datatypes.RetrievalItem{yahoo, influx}},
	}, cfg, fixedNow)

	require.Len(t, fused.Items, 2)
	assert.Equal(t, "markets.influx", fused.Items[0].Provider,
		"at equal scores the higher-priority provider ranks first")
	assert.Equal(t, "markets.yahoo", fused.Items[1].Provider)
}

// TestFuse_Truncation verifies MaxItems bounds the ranked list and the
// citation map.
func TestFuse_Truncation(t *testing.T) {
	lane := datatypes.LaneResult{Lane: datatypes.LaneWeb}
	for i := 0; i < 30; i++ {
		lane.Items = append(lane.Items, item(
			fmt.Sprintf("doc %02d", i),
			fmt.Sprintf("https://example.com/%02d", i),
			datatypes.LaneWeb, "web.brave", float64(30-i)/30,
		))
	}

	fused := fuseAt([]datatypes.LaneResult{lane}, Config{MaxItems: 5}, fixedNow)
	assert.Len(t, fused.Items, 5)
	assert.Len(t, fused.CitationMap, 5)
	assert.Equal(t, "doc 00", fused.Items[0].Title, "highest relevance must survive truncation")
}

// TestFuse_SequentialCitations verifies markers are sequential and point
// at the right items.
func TestFuse_SequentialCitations(t *testing.T) {
	fused := fuseAt([]datatypes.LaneResult{
		{Lane: datatypes.LaneWeb, Items: []datatypes.RetrievalItem{
			item("first", "https://example.com/1", datatypes.LaneWeb, "web.brave", 0.9),
			item("second", "https://example.com/2", datatypes.LaneWeb, "web.brave", 0.5),
		}},
	}, Config{}, fixedNow)

	require.Len(t, fused.Items, 2)
	for i, it := range fused.Items {
		marker := fmt.Sprintf("[%d]", i+1)
		c, ok := fused.CitationMap[marker]
		require.True(t, ok, "marker %s must exist", marker)
		assert.Equal(t, it.Title, c.Title)
		assert.Equal(t, it.URL, c.URL)
	}
}

// TestFuse_DegradationFlags verifies partial and empty lanes, and thin
// results, surface as flags.
func TestFuse_DegradationFlags(t *testing.T) {
	fused := fuseAt([]datatypes.LaneResult{
		{Lane: datatypes.LaneVector, Items: []datatypes.RetrievalItem{
			item("only hit", "https://example.com/x", datatypes.LaneVector, "vector.weaviate", 0.9),
		}},
		{Lane: datatypes.LaneKnowledgeGraph, Partial: true},
	}, Config{}, fixedNow)

	assert.True(t, fused.Partial)
	assert.Contains(t, fused.UncertaintyFlags, datatypes.LaneFlag(datatypes.FlagPartialLane, datatypes.LaneKnowledgeGraph))
	assert.Contains(t, fused.UncertaintyFlags, datatypes.LaneFlag(datatypes.FlagEmptyLane, datatypes.LaneKnowledgeGraph))
	assert.Contains(t, fused.UncertaintyFlags, datatypes.FlagLowCoverage)
	assert.NotEmpty(t, fused.Items, "degradation must not empty the overall result")
}

// TestFuse_CleanResultNoFlags verifies a healthy fusion carries no flags
// and is not partial.
func TestFuse_CleanResultNoFlags(t *testing.T) {
	lanes := []datatypes.LaneResult{
		{Lane: datatypes.LaneVector, Items: []datatypes.RetrievalItem{
			item("a", "https://example.com/a", datatypes.LaneVector, "vector.weaviate", 0.9),
			item("b", "https://example.com/b", datatypes.LaneVector, "vector.weaviate", 0.8),
		}},
		{Lane: datatypes.LaneKeyword, Items: []datatypes.RetrievalItem{
			item("c", "https://example.com/c", datatypes.LaneKeyword, "keyword.weaviate", 0.7),
		}},
	}

	fused := fuseAt(lanes, Config{}, fixedNow)
	assert.False(t, fused.Partial)
	assert.Empty(t, fused.UncertaintyFlags)
	assert.Greater(t, fused.OverallConfidence, 0.0)
}

// TestFuse_ConfidenceDiscount verifies degraded lanes pull overall
// confidence down.
func TestFuse_ConfidenceDiscount(t *testing.T) {
	healthy := []datatypes.LaneResult{
		{Lane: datatypes.LaneVector, Items: []datatypes.RetrievalItem{
			item("a", "https://example.com/a", datatypes.LaneVector, "vector.weaviate", 0.9),
			item("b", "https://example.com/b", datatypes.LaneVector, "vector.weaviate", 0.8),
			item("c", "https://example.com/c", datatypes.LaneVector, "vector.weaviate", 0.7),
		}},
	}
	degraded := append(append([]datatypes.LaneResult(nil), healthy...),
		datatypes.LaneResult{Lane: datatypes.LaneWeb, Partial: true})

	full := fuseAt(healthy, Config{}, fixedNow)
	dimmed := fuseAt(degraded, Config{}, fixedNow)
	assert.Less(t, dimmed.OverallConfidence, full.OverallConfidence)
}

// TestFuse_RecencyDecay verifies fresher items outrank stale ones at
// equal relevance.
func TestFuse_RecencyDecay(t *testing.T) {
	fresh := item("fresh", "https://example.com/fresh", datatypes.LaneNews, "news.newsapi", 0.8)
	fresh.Timestamp = fixedNow.Add(-1 * time.Hour)
	stale := item("stale", "https://example.com/stale", datatypes.LaneNews, "news.newsapi", 0.8)
	stale.Timestamp = fixedNow.Add(-30 * 24 * time.Hour)

	fused := fuseAt([]datatypes.LaneResult{
		{Lane: datatypes.LaneNews, Items: []datatypes.RetrievalItem{stale, fresh}},
	}, Config{}, fixedNow)

	require.Len(t, fused.Items, 2)
	assert.Equal(t, "fresh", fused.Items[0].Title)
}

// TestFuse_EmptyInput verifies fusing nothing still yields a usable,
// flagged result.
func TestFuse_EmptyInput(t *testing.T) {
	fused := fuseAt(nil, Config{}, fixedNow)
	require.NotNil(t, fused)
	assert.Empty(t, fused.Items)
	assert.Zero(t, fused.OverallConfidence)
	assert.Contains(t, fused.UncertaintyFlags, datatypes.FlagLowCoverage)
}

// TestCredibility verifies domain authority lookup and the internal and
// neutral defaults.
func TestCredibility(t *testing.T) {
	wiki := datatypes.RetrievalItem{Domain: "en.wikipedia.org"}
	assert.InDelta(t, 0.95, Credibility(&wiki), 1e-9)

	unknown := datatypes.RetrievalItem{Domain: "some-blog.example"}
	assert.InDelta(t, neutralAuthority, Credibility(&unknown), 1e-9)

	internal := datatypes.RetrievalItem{}
	assert.InDelta(t, internalAuthority, Credibility(&internal), 1e-9)

	preset := datatypes.RetrievalItem{Domain: "reddit.com", CredibilityScore: 0.99}
	assert.InDelta(t, 0.99, Credibility(&preset), 1e-9, "explicit scores win over the domain table")
}
