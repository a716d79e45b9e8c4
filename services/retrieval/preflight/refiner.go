// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
)

// refinerSystemPrompt instructs the model to act as a query refiner and
// answer in strict JSON so the reply parses without heuristics.
const refinerSystemPrompt = `You are a search query refiner. Given a user query, decide whether it is ambiguous and, if so, rewrite it to be more specific while preserving intent. Respond with a single JSON object and nothing else: {"has_ambiguity": bool, "refined_query": string, "confidence": number between 0 and 1, "reasoning": string}`

// Compile-time interface compliance.
var _ Refiner = (*OpenAIRefiner)(nil)

// OpenAIRefiner implements Refiner over an OpenAI-compatible chat
// endpoint (including local gateways that speak the same API).
type OpenAIRefiner struct {
	client *openai.Client
	model  string

	// unavailable latches after a hard client error so subsequent
	// queries bypass instead of paying the budget to fail again.
	unavailable atomic.Bool
}

// NewOpenAIRefiner creates a refiner against the given endpoint. An
// empty baseURL uses the public API.
func NewOpenAIRefiner(apiKey, baseURL, model string) *OpenAIRefiner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIRefiner{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Available reports whether the refiner should be consulted.
func (r *OpenAIRefiner) Available() bool {
	return !r.unavailable.Load()
}

// Refine implements Refiner.
func (r *OpenAIRefiner) Refine(ctx context.Context, query string) (*Refinement, error) {
	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: refinerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			// A non-cancellation failure usually means the endpoint is
			// down or misconfigured; stop consulting it.
			r.unavailable.Store(true)
		}
		return nil, fmt.Errorf("refinement call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("refinement returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ref Refinement
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &ref); err != nil {
		return nil, fmt.Errorf("refinement reply was not valid JSON: %w", err)
	}
	return &ref, nil
}
