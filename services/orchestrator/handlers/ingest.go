// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wardenai/sentinel/pkg/sentinelerr"
	"github.com/wardenai/sentinel/pkg/validation"
	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/orchestrator"
	"github.com/wardenai/sentinel/services/orchestrator/observability"
)

// ingestRequest is the wire shape of one vitals sample.
// AgentID is required; At defaults to the server's receipt time; every
// other field defaults to its zero value.
type ingestRequest struct {
	AgentID      string           `json:"agent_id" binding:"required"`
	At           *time.Time       `json:"at"`
	LatencyMs    float64          `json:"latency_ms"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	ToolCalls    int              `json:"tool_calls"`
	Retries      int              `json:"retries"`
	Success      bool             `json:"success"`
	Cost         float64          `json:"cost"`
	Model        string           `json:"model"`
	ErrorType    vitals.ErrorType `json:"error_type"`
	PromptHash   string           `json:"prompt_hash"`
	AgentType    string           `json:"agent_type,omitempty"`
	MCPServers   []string         `json:"mcp_servers,omitempty"`
}

func (r ingestRequest) toVitals() vitals.Vitals {
	v := vitals.Vitals{
		AgentID:      r.AgentID,
		LatencyMs:    r.LatencyMs,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		ToolCalls:    r.ToolCalls,
		Retries:      r.Retries,
		Success:      r.Success,
		Cost:         r.Cost,
		Model:        r.Model,
		ErrorType:    r.ErrorType,
		PromptHash:   r.PromptHash,
		AgentType:    r.AgentType,
		MCPServers:   r.MCPServers,
	}
	if r.At != nil {
		v.At = *r.At
	}
	return v
}

// Ingest handles POST /v1/ingest: binds one vitals sample, records it
// through the Orchestrator, and answers 204 on success, 400 on a bad body. A
// Store-less deployment (in-memory only) is reported as 202 rather than
// 204, since nothing durable backs this sample past a process restart.
func Ingest(o *orchestrator.Orchestrator, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if m != nil {
				m.IngestRejected.WithLabelValues("bad_input").Inc()
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := validation.ValidateAgentID(req.AgentID); err != nil {
			if m != nil {
				m.IngestRejected.WithLabelValues("bad_input").Inc()
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := o.Ingest(c.Request.Context(), req.toVitals()); err != nil {
			status := http.StatusBadRequest
			reason := "bad_input"
			if !errors.Is(err, sentinelerr.ErrBadInput) {
				status = http.StatusInternalServerError
				reason = "internal"
			}
			if m != nil {
				m.IngestRejected.WithLabelValues(reason).Inc()
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		if o.Store() == nil {
			c.Status(http.StatusAccepted)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GatewayExtract handles POST /v1/gateway/extract: an alternate ingress a
// gateway sidecar calls with the same payload shape as Ingest, for
// deployments that extract vitals from proxied traffic instead of an
// agent self-reporting them.
func GatewayExtract(o *orchestrator.Orchestrator, m *observability.Metrics) gin.HandlerFunc {
	return Ingest(o, m)
}
