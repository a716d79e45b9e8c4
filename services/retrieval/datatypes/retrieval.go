// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the retrieval service.
//
// This package contains the entities that flow through one orchestration
// call (QueryRequest, Budget, LaneResult, FusedResult) as well as the
// process-wide identifiers (lane names, error kinds) used by the provider
// pool and the fusion engine.
//
// All per-call entities are created and discarded within a single call to
// the orchestrator. None of them are persisted; the cache layer stores
// provider responses under its own keying scheme.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidQuery is the only error the orchestrator surfaces to callers.
// Every other failure degrades the FusedResult instead.
var ErrInvalidQuery = errors.New("invalid query request")

// =============================================================================
// Complexity
// =============================================================================

// Complexity classifies a query for budget derivation.
type Complexity string

const (
	// ComplexitySimple covers single-fact lookups.
	ComplexitySimple Complexity = "simple"
	// ComplexityTechnical covers multi-source technical questions.
	ComplexityTechnical Complexity = "technical"
	// ComplexityResearch covers open-ended research queries.
	ComplexityResearch Complexity = "research"
	// ComplexityMultimodal covers queries referencing non-text assets.
	ComplexityMultimodal Complexity = "multimodal"
)

// Valid reports whether c is a known complexity class.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityTechnical, ComplexityResearch, ComplexityMultimodal:
		return true
	}
	return false
}

// =============================================================================
// Lanes
// =============================================================================

// LaneName identifies one retrieval strategy.
type LaneName string

const (
	LaneVector         LaneName = "vector"
	LaneKeyword        LaneName = "keyword"
	LaneWeb            LaneName = "web"
	LaneKnowledgeGraph LaneName = "knowledge_graph"
	LaneNews           LaneName = "news"
	LaneMarkets        LaneName = "markets"
)

// AllLanes lists every lane in canonical priority order. The order is
// load-bearing: fusion uses the index for lane-priority tie-breaking.
var AllLanes = []LaneName{
	LaneVector,
	LaneKeyword,
	LaneWeb,
	LaneKnowledgeGraph,
	LaneNews,
	LaneMarkets,
}

// LanePriority returns the canonical priority index of a lane (lower is
// higher priority). Unknown lanes sort last.
func LanePriority(lane LaneName) int {
	for i, l := range AllLanes {
		if l == lane {
			return i
		}
	}
	return len(AllLanes)
}

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind categorizes a provider failure. Failures are data on the
// ProviderResult, never errors thrown across component boundaries.
type ErrorKind string

const (
	// ErrorKindNone means the call succeeded.
	ErrorKindNone ErrorKind = ""
	// ErrorKindTimeout means the provider exceeded its timeout. Counts as
	// a circuit breaker failure.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindAuth means the provider rejected our credential. Opens the
	// breaker immediately and keeps it open until credentials refresh.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindRateLimit means the provider throttled us. Backed off, not
	// necessarily a breaker failure.
	ErrorKindRateLimit ErrorKind = "rate_limit"
	// ErrorKindNetwork means a transport-level failure after retries.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindMalformed means the provider responded with an unparseable
	// payload. The provider is skipped; the lane continues.
	ErrorKindMalformed ErrorKind = "malformed"
	// ErrorKindCanceled means the orchestrator cancelled the call (early
	// sufficiency or budget expiry at a higher level). Not a breaker failure.
	ErrorKindCanceled ErrorKind = "canceled"
	// ErrorKindCircuitOpen means the call was skipped without network I/O
	// because the provider's breaker is open.
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
)

// CountsAsBreakerFailure reports whether this kind should increment the
// provider's failure counter. Orchestrator-initiated cancellations and
// open-circuit skips do not count; timeouts do.
func (k ErrorKind) CountsAsBreakerFailure() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindAuth, ErrorKindNetwork:
		return true
	}
	return false
}

// =============================================================================
// Constraints and QueryRequest
// =============================================================================

// DateRange bounds results by publication or observation time.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// IsZero reports whether neither bound is set.
func (d DateRange) IsZero() bool {
	return d.From.IsZero() && d.To.IsZero()
}

// Constraints narrows a retrieval. Each lane translates the subset it
// understands into provider-specific parameters; unknown fields are ignored
// by lanes that have no mapping for them.
type Constraints struct {
	// Region restricts web and news results (ISO country code, e.g. "US").
	Region string `json:"region,omitempty"`

	// Category restricts news results (e.g. "business", "technology").
	Category string `json:"category,omitempty"`

	// Language restricts results (BCP-47 tag, e.g. "en").
	Language string `json:"language,omitempty"`

	// DateRange bounds results by time.
	DateRange DateRange `json:"date_range,omitempty"`

	// Sources, when non-empty, overrides lane selection entirely. Values
	// are lane names.
	Sources []string `json:"sources,omitempty"`

	// Tickers restricts the markets lane to specific symbols.
	Tickers []string `json:"tickers,omitempty"`

	// Interval is the markets sampling interval (e.g. "1d", "1h").
	Interval string `json:"interval,omitempty"`

	// Indicators lists derived market indicators to include (e.g. "sma_20").
	Indicators []string `json:"indicators,omitempty"`
}

// QueryRequest is the immutable input to one orchestration call.
type QueryRequest struct {
	Text        string      `json:"text" binding:"required"`
	Complexity  Complexity  `json:"complexity" binding:"required"`
	Constraints Constraints `json:"constraints,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
}

// Validate checks the request for the two fatal conditions: empty text and
// an unknown complexity class. Everything else is absorbed downstream.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	if !q.Complexity.Valid() {
		return fmt.Errorf("%w: unknown complexity %q", ErrInvalidQuery, q.Complexity)
	}
	return nil
}

// =============================================================================
// Budget
// =============================================================================

// Budget is the time allowance for one orchestration call. Derived once by
// the budget manager and read-only afterward.
type Budget struct {
	// EndToEnd bounds the whole orchestration including fusion.
	EndToEnd time.Duration `json:"end_to_end_ms"`

	// PerLane bounds each lane executor. Lanes without an entry use Default.
	PerLane map[LaneName]time.Duration `json:"lane_budget_ms"`

	// DefaultLane is the lane budget for lanes without a PerLane entry.
	DefaultLane time.Duration `json:"default_lane_ms"`

	// ProviderTimeout bounds every single provider call. Hard-capped at
	// ProviderTimeoutCap regardless of lane budget.
	ProviderTimeout time.Duration `json:"provider_timeout_ms"`
}

// Lane returns the budget for the named lane.
func (b Budget) Lane(lane LaneName) time.Duration {
	if d, ok := b.PerLane[lane]; ok {
		return d
	}
	return b.DefaultLane
}

// =============================================================================
// Provider and Lane Results
// =============================================================================

// ProviderResult is the outcome of one provider call. Never persisted.
type ProviderResult struct {
	ProviderID   string          `json:"provider_id"`
	Success      bool            `json:"success"`
	Latency      time.Duration   `json:"latency_ms"`
	Items        []RetrievalItem `json:"items"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	FallbackUsed bool            `json:"fallback_used,omitempty"`
}

// LaneResult aggregates one lane's provider outcomes for one call.
type LaneResult struct {
	Lane          LaneName        `json:"lane"`
	Items         []RetrievalItem `json:"items"`
	ProvidersUsed []string        `json:"providers_used"`
	Partial       bool            `json:"partial"`
	Latency       time.Duration   `json:"latency_ms"`
	FromCache     bool            `json:"from_cache,omitempty"`
}

// =============================================================================
// RetrievalItem
// =============================================================================

// RetrievalItem is one retrieved document, normalized from whatever the
// provider's native schema was. Dedup identity is the normalized URL, or a
// content hash when the item has no URL.
type RetrievalItem struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Snippet          string     `json:"snippet"`
	URL              string     `json:"url,omitempty"`
	Domain           string     `json:"domain,omitempty"`
	LaneOrigin       []LaneName `json:"lane_origin"`
	Provider         string     `json:"provider"`
	Keyless          bool       `json:"keyless,omitempty"`
	RelevanceScore   float64    `json:"relevance_score"`
	CredibilityScore float64    `json:"credibility_score"`
	Timestamp        time.Time  `json:"timestamp,omitempty"`
}

// Identity returns the dedup key for this item: the normalized URL when
// present, otherwise a hash of title and snippet.
func (it *RetrievalItem) Identity() string {
	if it.URL != "" {
		return NormalizeURL(it.URL)
	}
	return ContentHash(it.Title, it.Snippet)
}

// NormalizeURL canonicalizes a URL for dedup purposes: lowercased scheme
// and host, stripped default ports, fragment, trailing slash, and tracking
// query parameters. Invalid URLs are returned trimmed but otherwise as-is
// so two identical malformed URLs still collide.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	// Drop tracking parameters, keep the rest in sorted order (url.Values
	// encodes sorted by key).
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "ref" || key == "fbclid" || key == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// ContentHash returns a stable hex digest for URL-less items.
func ContentHash(title, snippet string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(snippet))))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// DomainOf extracts the registrable-ish host from a URL for credibility
// scoring. Returns "" for unparseable URLs.
func DomainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}

// =============================================================================
// FusedResult
// =============================================================================

// Citation maps one sequential marker to its source item.
type Citation struct {
	Marker string `json:"marker"`
	ItemID string `json:"item_id"`
	URL    string `json:"url,omitempty"`
	Title  string `json:"title,omitempty"`
}

// UncertaintyFlag marks a degradation in the fused result.
type UncertaintyFlag string

const (
	// FlagPartialLane marks a lane that was cut off by its budget.
	// Rendered as "partial_lane:<lane>".
	FlagPartialLane UncertaintyFlag = "partial_lane"
	// FlagEmptyLane marks a lane that produced zero items.
	FlagEmptyLane UncertaintyFlag = "empty_lane"
	// FlagLowCoverage marks a total item count below the viable minimum.
	FlagLowCoverage UncertaintyFlag = "low_coverage"
)

// LaneFlag renders a per-lane uncertainty flag like "empty_lane:news".
func LaneFlag(flag UncertaintyFlag, lane LaneName) UncertaintyFlag {
	return UncertaintyFlag(string(flag) + ":" + string(lane))
}

// FusedResult is the output of one orchestration call: the deduplicated,
// ranked, cited result set handed to the synthesis consumer.
type FusedResult struct {
	Items             []RetrievalItem     `json:"items"`
	CitationMap       map[string]Citation `json:"citation_map"`
	UncertaintyFlags  []UncertaintyFlag   `json:"uncertainty_flags"`
	OverallConfidence float64             `json:"overall_confidence"`
	LanesUsed         []LaneName          `json:"lanes_used"`
	Partial           bool                `json:"partial"`
	TraceID           string              `json:"trace_id,omitempty"`
	RefinedQuery      string              `json:"refined_query,omitempty"`
	Latency           time.Duration       `json:"latency_ms"`
}

// =============================================================================
// Introspection
// =============================================================================

// LaneInfo is one lane's configuration as reported by introspection
// endpoints.
type LaneInfo struct {
	Name      LaneName       `json:"name"`
	Providers []ProviderInfo `json:"providers"`
}

// ProviderInfo is one provider's position in a lane chain.
type ProviderInfo struct {
	Name     string `json:"name"`
	Keyed    bool   `json:"keyed"`
	Priority int    `json:"priority"`
}
