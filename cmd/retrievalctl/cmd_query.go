// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	queryComplexity string   // Complexity class for budget derivation
	querySources    []string // Explicit lane override
	queryTickers    []string // Ticker constraint for the markets lane
	queryLanguage   string   // Language constraint
	queryRegion     string   // Region constraint
)

// queryCmd runs one retrieval call and renders the fused result.
var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Run one retrieval and print the ranked, cited result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueryCommand,
}

func init() {
	queryCmd.Flags().StringVarP(&queryComplexity, "complexity", "c", "simple",
		"query complexity: simple, technical, research, multimodal")
	queryCmd.Flags().StringSliceVar(&querySources, "sources", nil,
		"explicit lane list, overriding selection (e.g. vector,news)")
	queryCmd.Flags().StringSliceVar(&queryTickers, "tickers", nil,
		"ticker symbols for the markets lane")
	queryCmd.Flags().StringVar(&queryLanguage, "language", "", "language constraint")
	queryCmd.Flags().StringVar(&queryRegion, "region", "", "region constraint")
}

func runQueryCommand(cmd *cobra.Command, args []string) error {
	payload := map[string]any{
		"query":      strings.Join(args, " "),
		"complexity": queryComplexity,
		"constraints": datatypes.Constraints{
			Sources:  querySources,
			Tickers:  queryTickers,
			Language: queryLanguage,
			Region:   queryRegion,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	data, err := postJSON(serverURL+"/v1/retrieve", body)
	if err != nil {
		return err
	}

	if outputJSON {
		fmt.Println(string(data))
		return nil
	}

	var result datatypes.FusedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	renderResult(&result)
	return nil
}

// renderResult prints a human-readable fused result.
func renderResult(result *datatypes.FusedResult) {
	if result.RefinedQuery != "" {
		fmt.Printf("refined query: %s\n", result.RefinedQuery)
	}
	for i, item := range result.Items {
		fmt.Printf("[%d] %s\n", i+1, item.Title)
		if item.URL != "" {
			fmt.Printf("    %s\n", item.URL)
		}
		snippet := item.Snippet
		if len(snippet) > 160 {
			snippet = snippet[:160] + "..."
		}
		if snippet != "" {
			fmt.Printf("    %s\n", snippet)
		}
		fmt.Printf("    provider=%s lanes=%v relevance=%.2f\n",
			item.Provider, item.LaneOrigin, item.RelevanceScore)
	}

	fmt.Printf("\nlanes: %v  confidence: %.2f  partial: %v  latency: %s\n",
		result.LanesUsed, result.OverallConfidence, result.Partial, result.Latency)
	if len(result.UncertaintyFlags) > 0 {
		fmt.Printf("uncertainty: %v\n", result.UncertaintyFlags)
	}
}

// postJSON posts a body and returns the response, turning non-200s into
// errors with the server's message.
func postJSON(url string, body []byte) ([]byte, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// getJSON fetches a URL and returns the response body.
func getJSON(url string) ([]byte, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
