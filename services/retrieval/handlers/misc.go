// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

// HealthCheck serves GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleListLanes serves GET /v1/lanes: the configured lanes and their
// provider chains.
func HandleListLanes(orc Retriever) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"lanes": orc.Lanes()})
	}
}

// HandleProviderHealth serves GET /v1/providers/health: every known
// provider's circuit-breaker state. Providers that have never been
// called do not appear; breakers are created lazily.
func HandleProviderHealth(registry *provider.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := registry.Snapshot()
		sort.Slice(statuses, func(i, j int) bool {
			return statuses[i].Provider < statuses[j].Provider
		})
		c.JSON(http.StatusOK, gin.H{"providers": statuses})
	}
}
