// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all fixpoint routes with the router.
//
// Description:
//
//	Registers the /v1/fixpoint/* endpoints with the given Gin router
//	group. The group should already carry any required middleware.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET /v1/fixpoint/health - Health check
//	GET /v1/fixpoint/history - Recent engine runs
//	GET /v1/fixpoint/cache/stats - Type and flow cache statistics
//	GET /v1/fixpoint/locks - Current lock markers
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	fixpoint := rg.Group("/fixpoint")
	{
		fixpoint.GET("/health", handlers.HandleHealth)
		fixpoint.GET("/history", handlers.HandleHistory)
		fixpoint.GET("/cache/stats", handlers.HandleCacheStats)
		fixpoint.GET("/locks", handlers.HandleLocks)
	}
}
