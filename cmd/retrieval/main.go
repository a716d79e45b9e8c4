// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command retrieval starts the retrieval orchestration HTTP server.
//
// This is the main entry point for the containerized retrieval service.
// It reads configuration from environment variables and starts the
// server.
//
// # Environment Variables
//
//   - RETRIEVAL_PORT: HTTP server port (default: 12230)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - SEARX_SERVICE_URL: SearXNG instance URL (default: http://localhost:8888)
//   - GRAPH_STORE_URL: Knowledge-graph store URL (optional)
//   - INFLUXDB_URL / INFLUXDB_ORG / INFLUXDB_BUCKET: Market-data backend (optional)
//   - ALEUTIAN_CREDENTIALS_FILE: JSON credentials file, watched for rotation (optional)
//   - RETRIEVAL_CACHE_DIR: On-disk lane cache directory (optional)
//   - REFINER_BASE_URL / REFINER_MODEL: Preflight refiner endpoint (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - LOG_LEVEL: Minimum log level: debug, info, warn, error (default: info)
//   - RETRIEVAL_LOG_DIR: Directory for JSON log files (optional)
//
// # Usage
//
//	# Build
//	go build -o retrieval ./cmd/retrieval
//
//	# Run
//	./retrieval
//
//	# Or via container
//	podman-compose up retrieval
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianRetrieval/pkg/logging"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  os.Getenv("RETRIEVAL_LOG_DIR"),
		Service: "retrieval",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := retrieval.Config{
		Port:            getEnvInt("RETRIEVAL_PORT", 12230),
		WeaviateURL:     os.Getenv("WEAVIATE_SERVICE_URL"),
		SearxURL:        getEnvString("SEARX_SERVICE_URL", "http://localhost:8888"),
		GraphStoreURL:   os.Getenv("GRAPH_STORE_URL"),
		InfluxURL:       os.Getenv("INFLUXDB_URL"),
		InfluxOrg:       os.Getenv("INFLUXDB_ORG"),
		InfluxBucket:    getEnvString("INFLUXDB_BUCKET", "market_data"),
		CredentialsPath: os.Getenv("ALEUTIAN_CREDENTIALS_FILE"),
		CacheDir:        os.Getenv("RETRIEVAL_CACHE_DIR"),
		RefinerBaseURL:  os.Getenv("REFINER_BASE_URL"),
		RefinerModel:    os.Getenv("REFINER_MODEL"),
		OTelEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
	}

	slog.Info("Starting retrieval service",
		"port", cfg.Port,
		"weaviate_url", cfg.WeaviateURL,
		"searx_url", cfg.SearxURL,
		"influx_url", cfg.InfluxURL,
	)

	svc, err := retrieval.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create retrieval service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Retrieval service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
