// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Compile-time interface compliance.
var (
	_ Provider = (*BraveSearch)(nil)
	_ Provider = (*SearxSearch)(nil)
)

// =============================================================================
// Brave (keyed)
// =============================================================================

// braveEndpoint is the Brave Search API web endpoint.
const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveSearch is the keyed primary of the web lane.
type BraveSearch struct {
	apiKey atomic.Value // string
	client HTTPClient
}

// NewBraveSearch creates the Brave provider. An empty apiKey leaves the
// provider unconfigured; calls return ErrNotConfigured and the chain
// falls through to the keyless fallback.
func NewBraveSearch(apiKey string, client HTTPClient) *BraveSearch {
	if client == nil {
		client = http.DefaultClient
	}
	p := &BraveSearch{client: client}
	p.apiKey.Store(apiKey)
	return p
}

// SetAPIKey swaps the credential on a live provider. Called from the
// credentials refresh goroutine concurrently with in-flight searches.
func (p *BraveSearch) SetAPIKey(key string) { p.apiKey.Store(key) }

func (p *BraveSearch) key() string {
	key, _ := p.apiKey.Load().(string)
	return key
}

// Name implements Provider.
func (p *BraveSearch) Name() string { return "web.brave" }

// IsKeyed implements Provider.
func (p *BraveSearch) IsKeyed() bool { return true }

// braveResponse is the subset of the Brave response we consume.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Provider.
func (p *BraveSearch) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	apiKey := p.key()
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("count", strconv.Itoa(q.Limit))
	if q.Constraints.Region != "" {
		params.Set("country", q.Constraints.Region)
	}
	if q.Constraints.Language != "" {
		params.Set("search_lang", q.Constraints.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		braveEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	var body braveResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, err
	}

	items := make([]datatypes.RetrievalItem, 0, len(body.Web.Results))
	for i, r := range body.Web.Results {
		item := datatypes.RetrievalItem{
			Title:   r.Title,
			Snippet: r.Description,
			URL:     r.URL,
			// Brave returns rank order; decay relevance down the page.
			RelevanceScore: rankRelevance(i, len(body.Web.Results)),
		}
		if r.Age != "" {
			if ts, err := time.Parse(time.RFC3339, r.Age); err == nil {
				item.Timestamp = ts
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// =============================================================================
// SearxNG (keyless)
// =============================================================================

// SearxSearch is the keyless fallback of the web lane, targeting a SearxNG
// instance (self-hosted alongside the platform, or a public one).
type SearxSearch struct {
	baseURL string
	client  HTTPClient
}

// NewSearxSearch creates the SearxNG provider.
func NewSearxSearch(baseURL string, client HTTPClient) *SearxSearch {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearxSearch{baseURL: baseURL, client: client}
}

// Name implements Provider.
func (p *SearxSearch) Name() string { return "web.searxng" }

// IsKeyed implements Provider.
func (p *SearxSearch) IsKeyed() bool { return false }

// searxResponse is the subset of the SearxNG JSON format we consume.
type searxResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"publishedDate"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

// Search implements Provider.
func (p *SearxSearch) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("format", "json")
	if q.Constraints.Language != "" {
		params.Set("language", q.Constraints.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build searxng request: %w", err)
	}

	var body searxResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > len(body.Results) {
		limit = len(body.Results)
	}
	items := make([]datatypes.RetrievalItem, 0, limit)
	for i, r := range body.Results[:limit] {
		item := datatypes.RetrievalItem{
			Title:          r.Title,
			Snippet:        r.Content,
			URL:            r.URL,
			RelevanceScore: r.Score,
		}
		if item.RelevanceScore == 0 {
			item.RelevanceScore = rankRelevance(i, limit)
		}
		if r.PublishedDate != "" {
			if ts, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
				item.Timestamp = ts
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// rankRelevance converts a zero-based rank into a (0,1] relevance score.
func rankRelevance(rank, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 1.0 - float64(rank)/float64(total+1)
}
