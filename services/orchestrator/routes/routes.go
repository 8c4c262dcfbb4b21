// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the external surface's gin route
// table: every route under /v1 runs behind the API-key and rate-limit
// middleware and is traced by otelgin; /health is
// exempt from both so liveness probes never need a key.
package routes

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/wardenai/sentinel/services/orchestrator"
	"github.com/wardenai/sentinel/services/orchestrator/handlers"
	"github.com/wardenai/sentinel/services/orchestrator/middleware"
	"github.com/wardenai/sentinel/services/orchestrator/observability"
)

// Options bundles the collaborators the route table needs beyond the
// Orchestrator itself.
type Options struct {
	KeySource   middleware.KeySource
	RateLimiter *middleware.RateLimiter
	Metrics     *observability.Metrics
}

// SetupRoutes registers the full route table on router.
func SetupRoutes(router *gin.Engine, o *orchestrator.Orchestrator, opts Options) {
	router.Use(otelgin.Middleware("sentinel"))

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(opts.KeySource))
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Middleware())
	}
	{
		v1.POST("/ingest", handlers.Ingest(o, opts.Metrics))
		v1.POST("/gateway/extract", handlers.GatewayExtract(o, opts.Metrics))

		v1.GET("/status", handlers.Status(o))
		v1.GET("/agents", handlers.Agents(o))
		v1.GET("/agents/:agentID", handlers.AgentByID(o))
		v1.GET("/stats", handlers.Stats(o))
		v1.GET("/patterns", handlers.LearnedPatterns(o))
		v1.GET("/healings/recent", handlers.RecentHealings(o))

		approvals := v1.Group("/approvals")
		{
			approvals.GET("/pending", handlers.PendingApprovals(o))
			approvals.GET("/rejected", handlers.RejectedApprovals(o))
			approvals.POST("/approve-all", handlers.ApproveAll(o))
			approvals.POST("/reject-all", handlers.RejectAll(o))
			approvals.POST("/heal-now-all", handlers.HealNowAll(o))
			approvals.POST("/:agentID/approve", handlers.Approve(o))
			approvals.POST("/:agentID/reject", handlers.Reject(o))
			approvals.POST("/:agentID/heal-now", handlers.HealNow(o))
		}

		v1.POST("/feedback", handlers.Feedback(o))
		v1.GET("/stream/lifecycle", handlers.LifecycleStream(o))
	}
}
