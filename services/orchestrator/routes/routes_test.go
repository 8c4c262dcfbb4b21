// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/wardenai/sentinel/services/executor"
	"github.com/wardenai/sentinel/services/orchestrator"
	"github.com/wardenai/sentinel/services/orchestrator/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testKey = "test-key"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router := gin.New()
	o := orchestrator.New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	SetupRoutes(router, o, Options{
		KeySource: middleware.KeySource{ConfigKey: testKey},
	})
	return router
}

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	// Arrange
	router := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"POST", "/v1/ingest"},
		{"POST", "/v1/gateway/extract"},
		{"GET", "/v1/status"},
		{"GET", "/v1/agents"},
		{"GET", "/v1/agents/:agentID"},
		{"GET", "/v1/stats"},
		{"GET", "/v1/patterns"},
		{"GET", "/v1/healings/recent"},
		{"GET", "/v1/approvals/pending"},
		{"GET", "/v1/approvals/rejected"},
		{"POST", "/v1/approvals/approve-all"},
		{"POST", "/v1/approvals/reject-all"},
		{"POST", "/v1/approvals/heal-now-all"},
		{"POST", "/v1/approvals/:agentID/approve"},
		{"POST", "/v1/approvals/:agentID/reject"},
		{"POST", "/v1/approvals/:agentID/heal-now"},
		{"POST", "/v1/feedback"},
		{"GET", "/v1/stream/lifecycle"},
	}

	// Assert
	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "expected route %s %s", want.method, want.path)
	}
}

func TestSetupRoutes_HealthNeedsNoKey(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_V1RejectsMissingKey(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSetupRoutes_V1AcceptsValidKey(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("X-API-KEY", testKey)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_IngestRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	body := `{"agent_id":"agent-1","latency_ms":120,"input_tokens":500,"output_tokens":300,"tool_calls":2,"success":true,"model":"test-model","prompt_hash":"abc123"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", testKey)
	router.ServeHTTP(w, req)

	// No Store is attached to the test orchestrator, so the sample is
	// accepted but not durably persisted.
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSetupRoutes_IngestRejectsBadBody(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest", strings.NewReader(`{"latency_ms":120}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", testKey)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetupRoutes_ApproveUnknownAgentIs400(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/approvals/nobody/approve", nil)
	req.Header.Set("X-API-KEY", testKey)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
