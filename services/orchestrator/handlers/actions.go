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

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/orchestrator"
)

// Approve handles POST /v1/approvals/:agentID/approve.
func Approve(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := o.Approve(c.Request.Context(), c.Param("agentID")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Reject handles POST /v1/approvals/:agentID/reject.
func Reject(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := o.Reject(c.Request.Context(), c.Param("agentID")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HealNow handles POST /v1/approvals/:agentID/heal-now, the operator
// escape hatch for a REJECTED or EXHAUSTED agent.
func HealNow(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := o.HealNow(c.Request.Context(), c.Param("agentID")); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// bulkRequest is the shared payload for the bulk approval actions.
type bulkRequest struct {
	AgentIDs []string `json:"agent_ids" binding:"required"`
}

func bulkErrors(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// ApproveAll handles POST /v1/approvals/approve-all.
func ApproveAll(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		errs := o.ApproveAll(c.Request.Context(), req.AgentIDs)
		c.JSON(http.StatusOK, gin.H{"errors": bulkErrors(errs)})
	}
}

// RejectAll handles POST /v1/approvals/reject-all.
func RejectAll(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		errs := o.RejectAll(c.Request.Context(), req.AgentIDs)
		c.JSON(http.StatusOK, gin.H{"errors": bulkErrors(errs)})
	}
}

// HealNowAll handles POST /v1/approvals/heal-now-all.
func HealNowAll(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		errs := o.HealNowAll(c.Request.Context(), req.AgentIDs)
		c.JSON(http.StatusOK, gin.H{"errors": bulkErrors(errs)})
	}
}

// feedbackRequest is the operator-feedback payload.
type feedbackRequest struct {
	AgentID             string               `json:"agent_id" binding:"required"`
	DiagnosisKindActual vitals.DiagnosisKind `json:"diagnosis_kind_actual" binding:"required"`
	Label               vitals.FeedbackLabel `json:"label" binding:"required"`
}

// Feedback handles POST /v1/feedback: an operator's verdict on a past
// diagnosis, folded into the Diagnostician's future ranking for this
// agent.
func Feedback(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o.Feedback(req.AgentID, req.DiagnosisKindActual, req.Label)
		c.Status(http.StatusNoContent)
	}
}
