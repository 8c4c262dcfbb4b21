// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package quarantine tracks which agents are currently cut off from real
// work and keeps that set mirrored in the Cache so a restart does
// not have to rebuild it from the Store's event log before serving
// traffic. It is the only caller that dispatches to the Enforcement
// strategy on behalf of the lifecycle state machine.
package quarantine

import (
	"context"
	"sync"
	"time"

	"github.com/wardenai/sentinel/services/cache"
	"github.com/wardenai/sentinel/services/enforcement"
	"github.com/wardenai/sentinel/services/store"
)

// Controller owns the quarantined-agent set, the Cache mirror, and the
// Store event log. Lifecycle calls Quarantine/Release as it drives agents
// through QUARANTINED/HEALING on one side and HEALTHY/PROBATION on the
// other.
type Controller struct {
	runID      string
	enforcer   enforcement.Strategy
	backing    store.Store
	cacheStore *cache.Cache

	mu         sync.RWMutex
	quarantine map[string]struct{}
}

// New returns a Controller seeded from cacheStore's current quarantine
// snapshot, if any.
func New(runID string, enforcer enforcement.Strategy, backing store.Store, cacheStore *cache.Cache) *Controller {
	c := &Controller{
		runID:      runID,
		enforcer:   enforcer,
		backing:    backing,
		cacheStore: cacheStore,
		quarantine: make(map[string]struct{}),
	}
	if cacheStore != nil {
		for id := range cacheStore.Quarantine() {
			c.quarantine[id] = struct{}{}
		}
	}
	return c
}

// Quarantine blocks agentID's real-world effect, records the set, and
// flushes the change to the Cache and Store immediately: entering
// quarantine is a critical, never-lossy transition.
func (c *Controller) Quarantine(ctx context.Context, agentID string) error {
	if err := c.enforcer.Block(ctx, agentID); err != nil {
		return err
	}

	c.mu.Lock()
	c.quarantine[agentID] = struct{}{}
	c.mu.Unlock()

	c.persist()
	if c.backing != nil {
		_ = c.backing.WriteQuarantineEvent(ctx, c.runID, agentID, true, time.Now())
	}
	return nil
}

// Release unblocks agentID and removes it from the quarantine set.
func (c *Controller) Release(ctx context.Context, agentID string) error {
	if err := c.enforcer.Unblock(ctx, agentID); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.quarantine, agentID)
	c.mu.Unlock()

	c.persist()
	if c.backing != nil {
		_ = c.backing.WriteQuarantineEvent(ctx, c.runID, agentID, false, time.Now())
	}
	return nil
}

// Drain asks the enforcement strategy to stop agentID's in-flight work
// within timeout, without altering the quarantine set: draining is the
// DRAINING lifecycle state's action, distinct from quarantine itself.
func (c *Controller) Drain(ctx context.Context, agentID string, timeout time.Duration) (enforcement.DrainResult, error) {
	return c.enforcer.Drain(ctx, agentID, timeout)
}

// IsQuarantined reports whether agentID is currently quarantined.
func (c *Controller) IsQuarantined(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.quarantine[agentID]
	return ok
}

// Quarantined returns a snapshot of all currently quarantined agent ids.
func (c *Controller) Quarantined() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.quarantine))
	for id := range c.quarantine {
		ids = append(ids, id)
	}
	return ids
}

func (c *Controller) persist() {
	if c.cacheStore == nil {
		return
	}
	c.mu.RLock()
	cp := make(map[string]struct{}, len(c.quarantine))
	for id := range c.quarantine {
		cp[id] = struct{}{}
	}
	c.mu.RUnlock()
	c.cacheStore.PutQuarantine(cp)
}
