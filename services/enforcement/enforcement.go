// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement implements the capability for blocking, unblocking,
// and draining an agent's real work. Strategies are tagged variants behind
// one narrow interface, composed explicitly: a Composite chains strategies
// with first-success-wins block semantics and all-strategies unblock.
package enforcement

import (
	"context"
	"fmt"
	"time"
)

// DrainResult reports how a drain attempt concluded.
type DrainResult string

const (
	DrainDrained DrainResult = "drained"
	DrainTimeout DrainResult = "timeout"
)

// Strategy is the capability the Quarantine controller dispatches to.
type Strategy interface {
	Block(ctx context.Context, agentID string) error
	Unblock(ctx context.Context, agentID string) error
	Drain(ctx context.Context, agentID string, timeout time.Duration) (DrainResult, error)
}

// NoOp is the always-available default: it accepts every call and reports
// every drain as immediately complete. Suitable for a deployment with no
// real enforcement surface (e.g. a pure simulation/demo run).
type NoOp struct{}

func (NoOp) Block(context.Context, string) error   { return nil }
func (NoOp) Unblock(context.Context, string) error { return nil }
func (NoOp) Drain(context.Context, string, time.Duration) (DrainResult, error) {
	return DrainDrained, nil
}

// Gateway blocks/unblocks an agent by injecting or lifting a policy rule
// at the reverse-proxy LLM gateway. InjectFn/LiftFn are caller-supplied so
// this package has no hard dependency on a specific gateway's wire
// protocol.
type Gateway struct {
	InjectFn func(ctx context.Context, agentID string) error
	LiftFn   func(ctx context.Context, agentID string) error
}

func (g *Gateway) Block(ctx context.Context, agentID string) error {
	if g.InjectFn == nil {
		return fmt.Errorf("gateway enforcement: no inject function configured")
	}
	return g.InjectFn(ctx, agentID)
}

func (g *Gateway) Unblock(ctx context.Context, agentID string) error {
	if g.LiftFn == nil {
		return fmt.Errorf("gateway enforcement: no lift function configured")
	}
	return g.LiftFn(ctx, agentID)
}

func (g *Gateway) Drain(ctx context.Context, agentID string, timeout time.Duration) (DrainResult, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.Block(deadline, agentID); err != nil {
		return DrainTimeout, err
	}
	return DrainDrained, nil
}

// Process suspends/resumes a local agent process by signal.
// SuspendFn/ResumeFn are injected for the same reason as Gateway's hooks.
type Process struct {
	SuspendFn func(agentID string) error
	ResumeFn  func(agentID string) error
}

func (p *Process) Block(_ context.Context, agentID string) error {
	if p.SuspendFn == nil {
		return fmt.Errorf("process enforcement: no suspend function configured")
	}
	return p.SuspendFn(agentID)
}

func (p *Process) Unblock(_ context.Context, agentID string) error {
	if p.ResumeFn == nil {
		return fmt.Errorf("process enforcement: no resume function configured")
	}
	return p.ResumeFn(agentID)
}

func (p *Process) Drain(ctx context.Context, agentID string, timeout time.Duration) (DrainResult, error) {
	done := make(chan error, 1)
	go func() { done <- p.Block(ctx, agentID) }()
	select {
	case err := <-done:
		if err != nil {
			return DrainTimeout, err
		}
		return DrainDrained, nil
	case <-time.After(timeout):
		return DrainTimeout, nil
	}
}

// Container pauses (Block, Drain) and resumes (Unblock) a container running
// the agent. PauseFn/ResumeFn are injected callbacks, the same injection
// shape as executor.ContainerExecutor's PauseFn/ScaleFn.
type Container struct {
	PauseFn  func(ctx context.Context, agentID string) error
	ResumeFn func(ctx context.Context, agentID string) error
}

func (c *Container) Block(ctx context.Context, agentID string) error {
	if c.PauseFn == nil {
		return fmt.Errorf("container enforcement: no pause function configured")
	}
	return c.PauseFn(ctx, agentID)
}

func (c *Container) Unblock(ctx context.Context, agentID string) error {
	if c.ResumeFn == nil {
		return fmt.Errorf("container enforcement: no resume function configured")
	}
	return c.ResumeFn(ctx, agentID)
}

func (c *Container) Drain(ctx context.Context, agentID string, timeout time.Duration) (DrainResult, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Block(deadline, agentID); err != nil {
		return DrainTimeout, err
	}
	return DrainDrained, nil
}

// Composite chains strategies explicitly: Block and Drain try each in
// order and stop at the first success; Unblock calls every strategy so a
// partially-applied block (e.g. gateway succeeded, process didn't) is
// fully reversed.
type Composite struct {
	Strategies []Strategy
}

func (c *Composite) Block(ctx context.Context, agentID string) error {
	var lastErr error
	for _, s := range c.Strategies {
		if err := s.Block(ctx, agentID); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("composite enforcement: no strategies configured")
	}
	return lastErr
}

func (c *Composite) Unblock(ctx context.Context, agentID string) error {
	var lastErr error
	for _, s := range c.Strategies {
		if err := s.Unblock(ctx, agentID); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Composite) Drain(ctx context.Context, agentID string, timeout time.Duration) (DrainResult, error) {
	var lastErr error
	for _, s := range c.Strategies {
		result, err := s.Drain(ctx, agentID, timeout)
		if err == nil && result == DrainDrained {
			return DrainDrained, nil
		}
		lastErr = err
	}
	return DrainTimeout, lastErr
}

var (
	_ Strategy = NoOp{}
	_ Strategy = (*Gateway)(nil)
	_ Strategy = (*Process)(nil)
	_ Strategy = (*Container)(nil)
	_ Strategy = (*Composite)(nil)
)
