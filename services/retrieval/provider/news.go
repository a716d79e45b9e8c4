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
	_ Provider = (*NewsAPI)(nil)
	_ Provider = (*GDELT)(nil)
)

// =============================================================================
// NewsAPI (keyed)
// =============================================================================

const newsAPIEndpoint = "https://newsapi.org/v2/everything"

// NewsAPI is the keyed primary of the news lane.
type NewsAPI struct {
	apiKey atomic.Value // string
	client HTTPClient
}

// NewNewsAPI creates the NewsAPI provider. An empty apiKey leaves it
// unconfigured.
func NewNewsAPI(apiKey string, client HTTPClient) *NewsAPI {
	if client == nil {
		client = http.DefaultClient
	}
	p := &NewsAPI{client: client}
	p.apiKey.Store(apiKey)
	return p
}

// SetAPIKey swaps the credential on a live provider. Called from the
// credentials refresh goroutine concurrently with in-flight searches.
func (p *NewsAPI) SetAPIKey(key string) { p.apiKey.Store(key) }

func (p *NewsAPI) key() string {
	key, _ := p.apiKey.Load().(string)
	return key
}

// Name implements Provider.
func (p *NewsAPI) Name() string { return "news.newsapi" }

// IsKeyed implements Provider.
func (p *NewsAPI) IsKeyed() bool { return true }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Search implements Provider.
func (p *NewsAPI) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	apiKey := p.key()
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("pageSize", strconv.Itoa(q.Limit))
	params.Set("sortBy", "relevancy")
	if q.Constraints.Language != "" {
		params.Set("language", q.Constraints.Language)
	}
	if !q.Constraints.DateRange.From.IsZero() {
		params.Set("from", q.Constraints.DateRange.From.Format("2006-01-02"))
	}
	if !q.Constraints.DateRange.To.IsZero() {
		params.Set("to", q.Constraints.DateRange.To.Format("2006-01-02"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		newsAPIEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", apiKey)

	var body newsAPIResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrMalformed, body.Status)
	}

	items := make([]datatypes.RetrievalItem, 0, len(body.Articles))
	for i, a := range body.Articles {
		item := datatypes.RetrievalItem{
			Title:          a.Title,
			Snippet:        a.Description,
			URL:            a.URL,
			RelevanceScore: rankRelevance(i, len(body.Articles)),
		}
		if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			item.Timestamp = ts
		}
		items = append(items, item)
	}
	return items, nil
}

// =============================================================================
// GDELT (keyless)
// =============================================================================

const gdeltEndpoint = "https://api.gdeltproject.org/api/v2/doc/doc"

// GDELT is the keyless fallback of the news lane, querying the GDELT DOC
// API which requires no credential.
type GDELT struct {
	client HTTPClient
}

// NewGDELT creates the GDELT provider.
func NewGDELT(client HTTPClient) *GDELT {
	if client == nil {
		client = http.DefaultClient
	}
	return &GDELT{client: client}
}

// Name implements Provider.
func (p *GDELT) Name() string { return "news.gdelt" }

// IsKeyed implements Provider.
func (p *GDELT) IsKeyed() bool { return false }

type gdeltResponse struct {
	Articles []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		Domain   string `json:"domain"`
		SeenDate string `json:"seendate"`
		Language string `json:"language"`
	} `json:"articles"`
}

// gdeltTimeLayout is GDELT's compact seendate format.
const gdeltTimeLayout = "20060102T150405Z"

// Search implements Provider.
func (p *GDELT) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	params := url.Values{}
	params.Set("query", q.Text)
	params.Set("mode", "artlist")
	params.Set("format", "json")
	params.Set("maxrecords", strconv.Itoa(q.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		gdeltEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build gdelt request: %w", err)
	}

	var body gdeltResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, err
	}

	items := make([]datatypes.RetrievalItem, 0, len(body.Articles))
	for i, a := range body.Articles {
		item := datatypes.RetrievalItem{
			Title:          a.Title,
			URL:            a.URL,
			Domain:         a.Domain,
			RelevanceScore: rankRelevance(i, len(body.Articles)),
		}
		if ts, err := time.Parse(gdeltTimeLayout, a.SeenDate); err == nil {
			item.Timestamp = ts
		}
		items = append(items, item)
	}
	return items, nil
}
