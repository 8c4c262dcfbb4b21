// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the external HTTP surface:
// the gin handlers that bind vitals ingest, dashboard reads, approval
// actions, feedback and the live lifecycle feed to the Orchestrator.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck answers GET /health with no auth required, for load
// balancer and container liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
