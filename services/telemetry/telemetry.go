// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry keeps a per-agent bounded sequence of vitals samples
// and forwards them to Store, when one is attached, on the write path.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/store"
)

// DefaultRingSize is the per-agent ring capacity.
const DefaultRingSize = 2000

// ring is a fixed-capacity, oldest-drops-first sequence of vitals for one
// agent. Owned exclusively by its agent's worker; the mutex here is what
// actually enforces that when callers come from more than one goroutine
// (e.g. ingest vs. the agent loop).
type ring struct {
	mu  sync.Mutex
	buf []vitals.Vitals
	cap int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]vitals.Vitals, 0, capacity), cap: capacity}
}

func (r *ring) push(v vitals.Vitals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.cap {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, v)
}

func (r *ring) latest() (vitals.Vitals, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return vitals.Vitals{}, false
	}
	return r.buf[len(r.buf)-1], true
}

func (r *ring) recent(window time.Duration) []vitals.Vitals {
	cutoff := time.Now().Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vitals.Vitals, 0, len(r.buf))
	for _, v := range r.buf {
		if !v.At.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out
}

func (r *ring) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Telemetry holds every agent's vitals ring. Store may be nil, in which
// case every read is served from the in-memory rings only.
type Telemetry struct {
	runID    string
	backing  store.Store
	ringSize int
	rings    sync.Map // agentID -> *ring
}

// New builds a Telemetry bound to runID. backing may be nil for an
// in-memory-only deployment.
func New(runID string, backing store.Store) *Telemetry {
	return &Telemetry{runID: runID, backing: backing, ringSize: DefaultRingSize}
}

func (t *Telemetry) ringFor(agentID string) *ring {
	if v, ok := t.rings.Load(agentID); ok {
		return v.(*ring)
	}
	r := newRing(t.ringSize)
	actual, _ := t.rings.LoadOrStore(agentID, r)
	return actual.(*ring)
}

// Record appends v to the agent's ring and, if a Store is attached,
// forwards it. The Store write is best-effort: a transient failure is
// logged and swallowed, never propagated as a pipeline stall.

func (t *Telemetry) Record(ctx context.Context, v vitals.Vitals) {
	t.ringFor(v.AgentID).push(v)

	if t.backing == nil {
		return
	}
	if err := t.backing.WriteAgentVitals(ctx, t.runID, v); err != nil {
		slog.Warn("telemetry write-through failed", "kind", "TransientStoreFailure", "agent_id", v.AgentID, "error", err)
	}
}

// Recent returns the samples for agentID within window, oldest first, in
// recorded order. Prefers the Store when attached; falls back to the in-memory
// ring on Store error so a transient backend outage degrades rather than
// blocks detection.
func (t *Telemetry) Recent(ctx context.Context, agentID string, window time.Duration) []vitals.Vitals {
	if t.backing != nil {
		if vs, err := t.backing.GetRecentAgentVitals(ctx, t.runID, agentID, window); err == nil {
			return vs
		} else {
			slog.Warn("telemetry store read failed, falling back to ring", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
		}
	}
	return t.ringFor(agentID).recent(window)
}

// Latest returns the most recent sample for agentID, if any.
func (t *Telemetry) Latest(ctx context.Context, agentID string) (vitals.Vitals, bool) {
	if t.backing != nil {
		if v, err := t.backing.GetLatestAgentVitals(ctx, t.runID, agentID); err == nil && v != nil {
			return *v, true
		}
	}
	return t.ringFor(agentID).latest()
}

// Count returns the number of samples currently held in agentID's ring.
func (t *Telemetry) Count(agentID string) int {
	return t.ringFor(agentID).count()
}

// Total returns the total number of executions recorded for this run,
// across all agents.
func (t *Telemetry) Total(ctx context.Context) int64 {
	if t.backing != nil {
		if n, err := t.backing.GetTotalExecutions(ctx, t.runID); err == nil {
			return n
		}
	}
	var total int64
	t.rings.Range(func(_, v interface{}) bool {
		total += int64(v.(*ring).count())
		return true
	})
	return total
}
