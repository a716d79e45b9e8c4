// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin HTTP handlers for the retrieval
// service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Retriever is the orchestration capability the handlers serve.
type Retriever interface {
	Retrieve(ctx context.Context, req datatypes.QueryRequest) (*datatypes.FusedResult, error)
	Lanes() []datatypes.LaneInfo
}

// retrieveRequest is the wire form of one retrieval call.
type retrieveRequest struct {
	Query      string                `json:"query" binding:"required"`
	Complexity string                `json:"complexity" binding:"required"`
	Constraints datatypes.Constraints `json:"constraints"`
	SessionID  string                `json:"session_id"`
}

// HandleRetrieve serves POST /v1/retrieve.
//
// # Description
//
// Binds the request, runs one orchestration call, and writes the fused
// result. Only malformed input produces a non-200: orchestration
// failures degrade into the result body per the always-answer contract.
//
// # Outputs
//
//   - 200: datatypes.FusedResult
//   - 400: {"error": ...} for missing fields or invalid complexity
func HandleRetrieve(orc Retriever) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retrieveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		query := datatypes.QueryRequest{
			Text:        req.Query,
			Complexity:  datatypes.Complexity(req.Complexity),
			Constraints: req.Constraints,
			SessionID:   req.SessionID,
		}

		result, err := orc.Retrieve(c.Request.Context(), query)
		if err != nil {
			if errors.Is(err, datatypes.ErrInvalidQuery) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			// Retrieve only returns invalid-query errors; anything else
			// would be a contract break worth seeing in logs.
			slog.Error("unexpected retrieve error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
