// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wardenai/sentinel/services/orchestrator"
)

// upgrader is intentionally permissive on origin: the dashboard is a
// same-cluster, API-key-gated client, not a public browser surface.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// lifecycleMessage is the shape pushed to every connected client.
type lifecycleMessage struct {
	AgentID   string `json:"agent_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	At        string `json:"at"`
}

// LifecycleStream handles GET /v1/stream/lifecycle: upgrades to a
// websocket and pushes every lifecycle transition as it happens. It is
// read-only and best-effort: a write failure ends that client's
// connection, and a client too slow to keep up misses events; it never
// blocks or slows the Orchestrator's loops.
func LifecycleStream(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("lifecycle stream upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := o.Lifecycle().Subscribe()
		defer unsubscribe()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg := lifecycleMessage{
					AgentID:   ev.AgentID,
					FromState: string(ev.From),
					ToState:   string(ev.To),
					At:        ev.At.Format("2006-01-02T15:04:05.000Z07:00"),
				}
				if err := conn.WriteJSON(msg); err != nil {
					slog.Info("lifecycle stream client disconnected", "error", err)
					return
				}
			}
		}
	}
}
