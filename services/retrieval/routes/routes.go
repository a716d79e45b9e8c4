// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/handlers"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/provider"
)

// SetupRoutes registers all retrieval-service routes on the router.
func SetupRoutes(router *gin.Engine, orc handlers.Retriever,
	registry *provider.Registry, enableMetrics bool) {

	router.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/retrieve", handlers.HandleRetrieve(orc))
		v1.GET("/lanes", handlers.HandleListLanes(orc))
		providers := v1.Group("/providers")
		{
			providers.GET("/health", handlers.HandleProviderHealth(registry))
		}
	}
}
