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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Compile-time interface compliance.
var _ Provider = (*KnowledgeGraph)(nil)

// KnowledgeGraph queries the platform's graph-store service for facts
// about entities mentioned in the query. The service is internal and
// keyless; the lane activates only when the classifier reports entities.
type KnowledgeGraph struct {
	baseURL string
	client  HTTPClient
}

// NewKnowledgeGraph creates the graph-store provider.
func NewKnowledgeGraph(baseURL string, client HTTPClient) *KnowledgeGraph {
	if client == nil {
		client = http.DefaultClient
	}
	return &KnowledgeGraph{baseURL: baseURL, client: client}
}

// Name implements Provider.
func (p *KnowledgeGraph) Name() string { return "kg.graphstore" }

// IsKeyed implements Provider.
func (p *KnowledgeGraph) IsKeyed() bool { return false }

// kgRequest is the graph service search contract.
type kgRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type kgResponse struct {
	Results []struct {
		ID          string  `json:"id"`
		Label       string  `json:"label"`
		Description string  `json:"description"`
		URL         string  `json:"url"`
		Score       float64 `json:"score"`
		UpdatedAt   string  `json:"updated_at"`
	} `json:"results"`
}

// Search implements Provider.
func (p *KnowledgeGraph) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	payload, err := json.Marshal(kgRequest{Query: q.Text, Limit: q.Limit})
	if err != nil {
		return nil, fmt.Errorf("marshal kg request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/entities/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build kg request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body kgResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return nil, err
	}

	items := make([]datatypes.RetrievalItem, 0, len(body.Results))
	for _, r := range body.Results {
		item := datatypes.RetrievalItem{
			ID:             "kg:" + r.ID,
			Title:          r.Label,
			Snippet:        r.Description,
			URL:            r.URL,
			RelevanceScore: r.Score,
		}
		if r.UpdatedAt != "" {
			if ts, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
				item.Timestamp = ts
			}
		}
		items = append(items, item)
	}
	return items, nil
}
