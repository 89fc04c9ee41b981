// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all bandit routes with the router group.
//
// Description:
//
//	Registers all /v1/bandit/* endpoints with the given Gin router
//	group. The group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/bandit/creatives - Register a creative under a pattern
//	POST /v1/bandit/metrics - Record cumulative creative metrics
//	POST /v1/bandit/signals/analyze - Classify one creative
//	POST /v1/bandit/signals/bulk - Classify a batch of creatives
//	GET  /v1/bandit/patterns/top - Patterns ranked by posterior mean
//	POST /v1/bandit/patterns/select - Thompson Sampling top-k selection
//	POST /v1/bandit/recommendations - Scale/hold/kill recommendation
//	POST /v1/bandit/train - Run one training pass
//	POST /v1/bandit/reconfigure - Swap in a new configuration
//	GET  /v1/bandit/health - Liveness probe
//	GET  /v1/bandit/ready - Readiness probe
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	bandit := rg.Group("/bandit")
	{
		bandit.POST("/creatives", handlers.HandleRegisterCreative)
		bandit.POST("/metrics", handlers.HandleRecordMetrics)

		bandit.POST("/signals/analyze", handlers.HandleAnalyze)
		bandit.POST("/signals/bulk", handlers.HandleBulkAnalyze)

		bandit.GET("/patterns/top", handlers.HandleTopPatterns)
		bandit.POST("/patterns/select", handlers.HandleSelectPatterns)

		bandit.POST("/recommendations", handlers.HandleRecommendScaling)

		bandit.POST("/train", handlers.HandleTrain)
		bandit.POST("/reconfigure", handlers.HandleReconfigure)

		bandit.GET("/health", handlers.HandleHealth)
		bandit.GET("/ready", handlers.HandleReady)
	}
}
