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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

// lanesCmd lists the configured lanes and their provider chains.
var lanesCmd = &cobra.Command{
	Use:   "lanes",
	Short: "List configured lanes and their provider chains",
	RunE:  runLanesCommand,
}

// providersCmd shows every provider's circuit-breaker state.
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show provider health (circuit-breaker states)",
	RunE:  runProvidersCommand,
}

func runLanesCommand(cmd *cobra.Command, args []string) error {
	data, err := getJSON(serverURL + "/v1/lanes")
	if err != nil {
		return err
	}
	if outputJSON {
		fmt.Println(string(data))
		return nil
	}

	var resp struct {
		Lanes []datatypes.LaneInfo `json:"lanes"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	for _, lane := range resp.Lanes {
		fmt.Printf("%s:\n", lane.Name)
		for _, p := range lane.Providers {
			kind := "keyless"
			if p.Keyed {
				kind = "keyed"
			}
			fmt.Printf("  [%d] %-24s %s\n", p.Priority, p.Name, kind)
		}
	}
	return nil
}

func runProvidersCommand(cmd *cobra.Command, args []string) error {
	data, err := getJSON(serverURL + "/v1/providers/health")
	if err != nil {
		return err
	}
	if outputJSON {
		fmt.Println(string(data))
		return nil
	}

	var resp struct {
		Providers []provider.BreakerStatus `json:"providers"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	if len(resp.Providers) == 0 {
		fmt.Println("no providers called yet")
		return nil
	}
	for _, p := range resp.Providers {
		latch := ""
		if p.AuthLatched {
			latch = " (auth latched, refresh credentials)"
		}
		fmt.Printf("%-24s %s%s\n", p.Provider, p.State, latch)
	}
	return nil
}
