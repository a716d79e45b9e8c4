// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueryRequest_Validate covers the two fatal input conditions.
func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid simple", QueryRequest{Text: "what is raft", Complexity: ComplexitySimple}, false},
		{"valid research", QueryRequest{Text: "compare consensus algorithms", Complexity: ComplexityResearch}, false},
		{"empty text", QueryRequest{Text: "", Complexity: ComplexitySimple}, true},
		{"whitespace text", QueryRequest{Text: "   ", Complexity: ComplexitySimple}, true},
		{"unknown complexity", QueryRequest{Text: "hello", Complexity: "weird"}, true},
		{"missing complexity", QueryRequest{Text: "hello"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidQuery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestNormalizeURL verifies canonicalization collapses the usual variants.
func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"www prefix", "https://www.example.com/page", "https://example.com/page"},
		{"trailing slash", "https://example.com/page/", "https://example.com/page"},
		{"fragment", "https://example.com/page#section-2", "https://example.com/page"},
		{"default port", "https://example.com:443/page", "https://example.com/page"},
		{"case", "HTTPS://Example.COM/page", "https://example.com/page"},
		{"tracking params", "https://example.com/page?utm_source=x&utm_campaign=y", "https://example.com/page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, NormalizeURL(tt.b), NormalizeURL(tt.a),
				"variants should normalize to the same URL")
		})
	}
}

// TestNormalizeURL_KeepsMeaningfulQuery verifies real query parameters
// survive normalization.
func TestNormalizeURL_KeepsMeaningfulQuery(t *testing.T) {
	a := NormalizeURL("https://example.com/search?q=alpha")
	b := NormalizeURL("https://example.com/search?q=beta")
	assert.NotEqual(t, a, b, "distinct query values must stay distinct")
}

// TestRetrievalItem_Identity verifies URL identity wins and content hash
// backs up URL-less items.
func TestRetrievalItem_Identity(t *testing.T) {
	withURL := RetrievalItem{Title: "A", URL: "https://www.example.com/doc/"}
	sameURL := RetrievalItem{Title: "different title", URL: "https://example.com/doc"}
	assert.Equal(t, withURL.Identity(), sameURL.Identity(),
		"same normalized URL must collide regardless of title")

	noURL := RetrievalItem{Title: "A", Snippet: "body"}
	sameContent := RetrievalItem{Title: "A", Snippet: "body"}
	otherContent := RetrievalItem{Title: "A", Snippet: "other"}
	assert.Equal(t, noURL.Identity(), sameContent.Identity())
	assert.NotEqual(t, noURL.Identity(), otherContent.Identity())
}

// TestLanePriority verifies canonical ordering and the unknown-lane case.
func TestLanePriority(t *testing.T) {
	assert.Less(t, LanePriority(LaneVector), LanePriority(LaneKeyword))
	assert.Less(t, LanePriority(LaneKeyword), LanePriority(LaneMarkets))
	assert.Equal(t, len(AllLanes), LanePriority(LaneName("bogus")))
}

// TestLaneFlag verifies flag rendering.
func TestLaneFlag(t *testing.T) {
	assert.Equal(t, UncertaintyFlag("empty_lane:news"), LaneFlag(FlagEmptyLane, LaneNews))
	assert.Equal(t, UncertaintyFlag("partial_lane:knowledge_graph"), LaneFlag(FlagPartialLane, LaneKnowledgeGraph))
}

// TestErrorKind_CountsAsBreakerFailure pins which kinds move the breaker.
func TestErrorKind_CountsAsBreakerFailure(t *testing.T) {
	assert.True(t, ErrorKindTimeout.CountsAsBreakerFailure())
	assert.True(t, ErrorKindAuth.CountsAsBreakerFailure())
	assert.True(t, ErrorKindNetwork.CountsAsBreakerFailure())

	assert.False(t, ErrorKindCanceled.CountsAsBreakerFailure(),
		"orchestrator cancellations must not punish the provider")
	assert.False(t, ErrorKindRateLimit.CountsAsBreakerFailure())
	assert.False(t, ErrorKindMalformed.CountsAsBreakerFailure())
	assert.False(t, ErrorKindCircuitOpen.CountsAsBreakerFailure())
}

// TestDomainOf verifies host extraction.
func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf("https://www.example.com/a/b"))
	assert.Equal(t, "finance.yahoo.com", DomainOf("https://finance.yahoo.com/quote/AAPL"))
	assert.Equal(t, "", DomainOf("not a url"))
}
