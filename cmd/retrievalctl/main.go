// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command retrievalctl is the operator CLI for the retrieval service.
//
// # Usage
//
//	retrievalctl query "what moved AAPL today" --complexity simple
//	retrievalctl lanes
//	retrievalctl providers
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRetrieval/pkg/logging"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	serverURL  string // Base URL of the retrieval service
	outputJSON bool   // Raw JSON output for scripting
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "retrievalctl",
	Short: "Operate and query the Aleutian retrieval service",
	Long: `retrievalctl talks to a running retrieval service over HTTP.

Examples:
  retrievalctl query "latest kubernetes CVE" --complexity research
  retrievalctl lanes
  retrievalctl providers --json`,
}

func main() {
	logger := logging.Default()
	defer logger.Close()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("RETRIEVAL_SERVER_URL", "http://localhost:12230"),
		"retrieval service base URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false,
		"print raw JSON responses")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"HTTP request timeout")

	rootCmd.AddCommand(queryCmd, lanesCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
