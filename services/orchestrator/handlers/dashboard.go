// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wardenai/sentinel/services/orchestrator"
)

// Status handles GET /v1/status: a liveness-plus-context read the
// dashboard polls on load. degraded is true whenever no durable Store is
// attached, so dashboard readers know they are seeing best-available data.
func Status(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"run_id":   o.RunID(),
			"degraded": o.Store() == nil,
		})
	}
}

// Agents handles GET /v1/agents: every known agent's lifecycle state,
// baseline and latest vitals sample.
func Agents(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"agents":   o.Agents(c.Request.Context()),
			"degraded": o.Store() == nil,
		})
	}
}

// AgentByID handles GET /v1/agents/:agentID: one agent's detail view.
func AgentByID(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agentID")
		c.JSON(http.StatusOK, gin.H{
			"agent":    o.AgentSnapshot(c.Request.Context(), agentID),
			"degraded": o.Store() == nil,
		})
	}
}

// Stats handles GET /v1/stats: the aggregate counters (total
// agents, total executions, current infected, total infections, healed,
// success_rate, runtime).
func Stats(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := o.Stats(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"total_agents":     s.TotalAgents,
			"total_executions": s.TotalExecutions,
			"current_infected": s.CurrentInfected,
			"total_infections": s.TotalInfections,
			"healed":           s.Healed,
			"success_rate":     s.SuccessRate,
			"runtime_seconds":  s.RuntimeSeconds,
			"degraded":         o.Store() == nil,
		})
	}
}

// PendingApprovals handles GET /v1/approvals/pending.
func PendingApprovals(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"approvals": o.PendingApprovals(),
			"degraded":  o.Store() == nil,
		})
	}
}

// RejectedApprovals handles GET /v1/approvals/rejected.
func RejectedApprovals(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"approvals": o.RejectedApprovals(),
			"degraded":  o.Store() == nil,
		})
	}
}

// RecentHealings handles GET /v1/healings/recent: the most recent healing
// attempts across every agent, from the immune memory's in-process ring
// (display convenience, not the authoritative Store log).
func RecentHealings(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"healings": o.ImmuneMemory().RecentHealings(),
			"degraded": o.Store() == nil,
		})
	}
}

// LearnedPatterns handles GET /v1/patterns: the Diagnostician's
// declarative pattern table, so an operator can see what the system
// actually knows how to recognize.
func LearnedPatterns(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"patterns": o.Diagnostician().Patterns(),
		})
	}
}
