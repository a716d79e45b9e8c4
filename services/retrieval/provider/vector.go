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
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// documentClass is the Weaviate class holding ingested platform documents.
const documentClass = "Document"

// Compile-time interface compliance.
var (
	_ Provider = (*WeaviateVector)(nil)
	_ Provider = (*WeaviateKeyword)(nil)
)

// =============================================================================
// Vector (semantic) provider
// =============================================================================

// WeaviateVector retrieves documents by nearText semantic search over the
// Document class. It is the primary provider of the vector lane.
//
// Thread Safety: Safe for concurrent use; the Weaviate client pools
// connections internally.
type WeaviateVector struct {
	client *weaviate.Client
}

// NewWeaviateVector creates the semantic search provider.
func NewWeaviateVector(client *weaviate.Client) *WeaviateVector {
	return &WeaviateVector{client: client}
}

// Name implements Provider.
func (p *WeaviateVector) Name() string { return "vector.weaviate" }

// IsKeyed implements Provider. The vector index is an internal service
// with no API credential.
func (p *WeaviateVector) IsKeyed() bool { return false }

// Search implements Provider using a nearText query.
func (p *WeaviateVector) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	nearText := p.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{q.Text})

	result, err := p.client.GraphQL().Get().
		WithClassName(documentClass).
		WithFields(documentFields()...).
		WithNearText(nearText).
		WithLimit(q.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate nearText query: %w", err)
	}

	return parseDocumentResults(result, "certainty")
}

// =============================================================================
// Keyword (BM25) provider
// =============================================================================

// WeaviateKeyword retrieves documents by BM25 keyword search over the same
// Document class. It backs the keyword lane so semantic and lexical
// retrieval degrade independently.
type WeaviateKeyword struct {
	client *weaviate.Client
}

// NewWeaviateKeyword creates the BM25 keyword provider.
func NewWeaviateKeyword(client *weaviate.Client) *WeaviateKeyword {
	return &WeaviateKeyword{client: client}
}

// Name implements Provider.
func (p *WeaviateKeyword) Name() string { return "keyword.weaviate_bm25" }

// IsKeyed implements Provider.
func (p *WeaviateKeyword) IsKeyed() bool { return false }

// Search implements Provider using a BM25 query.
func (p *WeaviateKeyword) Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error) {
	bm25 := p.client.GraphQL().Bm25ArgBuilder().
		WithQuery(q.Text).
		WithProperties("title", "content")

	result, err := p.client.GraphQL().Get().
		WithClassName(documentClass).
		WithFields(documentFields()...).
		WithBM25(bm25).
		WithLimit(q.Limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate bm25 query: %w", err)
	}

	return parseDocumentResults(result, "score")
}

// =============================================================================
// Shared parsing
// =============================================================================

// documentFields returns the GraphQL fields both document providers fetch.
func documentFields() []graphql.Field {
	return []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "source"},
		{Name: "timestamp"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "score"},
		}},
	}
}

// parseDocumentResults maps a GraphQL response into retrieval items.
// scoreField names the _additional field carrying relevance ("certainty"
// for nearText, "score" for BM25). Anything structurally unexpected is a
// malformed response; individual odd rows are skipped.
func parseDocumentResults(result *models.GraphQLResponse, scoreField string) ([]datatypes.RetrievalItem, error) {
	if result == nil || result.Data == nil {
		return nil, fmt.Errorf("%w: empty graphql response", ErrMalformed)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing Get block", ErrMalformed)
	}
	rows, ok := get[documentClass].([]any)
	if !ok {
		// No matches comes back as an absent or null class entry.
		return nil, nil
	}

	items := make([]datatypes.RetrievalItem, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := datatypes.RetrievalItem{
			Title:   stringField(row, "title"),
			Snippet: stringField(row, "content"),
			URL:     stringField(row, "source"),
		}
		if ts := stringField(row, "timestamp"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				item.Timestamp = parsed
			}
		}
		if add, ok := row["_additional"].(map[string]any); ok {
			item.ID = stringField(add, "id")
			item.RelevanceScore = floatField(add, scoreField)
		}
		if item.Title == "" && item.Snippet == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%g", &f)
		return f
	}
	return 0
}
