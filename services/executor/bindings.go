// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// GatewayExecutor applies a healing action by POSTing a policy directive to
// the reverse-proxy LLM gateway. Out-of-core
// plumbing: the Healer only ever depends on the Executor interface.
type GatewayExecutor struct {
	BaseURL string
	Client  *http.Client
}

// NewGateway returns a GatewayExecutor posting to baseURL.
func NewGateway(baseURL string) *GatewayExecutor {
	return &GatewayExecutor{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

type gatewayDirective struct {
	AgentID string               `json:"agent_id"`
	Action  vitals.HealingAction `json:"action"`
}

// Execute posts the directive and interprets a 2xx response as success.
func (g *GatewayExecutor) Execute(ctx context.Context, agentID string, action vitals.HealingAction) (vitals.ExecutorOutcome, error) {
	body, err := json.Marshal(gatewayDirective{AgentID: agentID, Action: action})
	if err != nil {
		return vitals.ExecutorOutcome{}, fmt.Errorf("marshal gateway directive: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/heal", bytes.NewReader(body))
	if err != nil {
		return vitals.ExecutorOutcome{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return vitals.ExecutorOutcome{Success: true, Message: "gateway accepted directive"}, nil
	}
	return vitals.ExecutorOutcome{Success: false, Message: fmt.Sprintf("gateway returned %d", resp.StatusCode)}, nil
}

// ProcessExecutor applies a healing action to a local process by signal.
// RESET_AGENT and RESET_MEMORY send SIGTERM-class signals that the agent
// process is expected to interpret as "restart with a clean slate";
// every other action sends SIGHUP instead, since an
// OS process has no finer-grained remote control surface than "run" or
// "don't".
type ProcessExecutor struct {
	PIDs map[string]int
}

// NewProcess returns a ProcessExecutor over a static agent-id -> pid map.
func NewProcess(pids map[string]int) *ProcessExecutor {
	return &ProcessExecutor{PIDs: pids}
}

func (p *ProcessExecutor) Execute(_ context.Context, agentID string, action vitals.HealingAction) (vitals.ExecutorOutcome, error) {
	pid, ok := p.PIDs[agentID]
	if !ok {
		return vitals.ExecutorOutcome{Success: false, Message: "unknown pid for agent"}, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
	}

	switch action {
	case vitals.ActionResetAgent, vitals.ActionResetMemory:
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
		}
		return vitals.ExecutorOutcome{Success: true, Message: "sigterm delivered"}, nil
	default:
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
		}
		return vitals.ExecutorOutcome{Success: true, Message: "sighup delivered"}, nil
	}
}

// ContainerExecutor applies a healing action via a container orchestrator's
// pause/scale API. PauseFn/ScaleFn are injected so this binding has no
// hard dependency on a specific container runtime client; a real
// deployment wires them to the Docker/Kubernetes SDK of its choice.
type ContainerExecutor struct {
	PauseFn func(ctx context.Context, agentID string) error
	ScaleFn func(ctx context.Context, agentID string, replicas int) error
}

func (c *ContainerExecutor) Execute(ctx context.Context, agentID string, action vitals.HealingAction) (vitals.ExecutorOutcome, error) {
	switch action {
	case vitals.ActionResetAgent:
		if c.ScaleFn == nil {
			return vitals.ExecutorOutcome{Success: false, Message: "no scale function configured"}, nil
		}
		if err := c.ScaleFn(ctx, agentID, 0); err != nil {
			return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
		}
		if err := c.ScaleFn(ctx, agentID, 1); err != nil {
			return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
		}
		return vitals.ExecutorOutcome{Success: true, Message: "container recycled"}, nil
	default:
		if c.PauseFn == nil {
			return vitals.ExecutorOutcome{Success: false, Message: "no pause function configured"}, nil
		}
		if err := c.PauseFn(ctx, agentID); err != nil {
			return vitals.ExecutorOutcome{Success: false, Message: err.Error()}, nil
		}
		return vitals.ExecutorOutcome{Success: true, Message: "container paused"}, nil
	}
}

var (
	_ Executor = (*SimulatedExecutor)(nil)
	_ Executor = (*GatewayExecutor)(nil)
	_ Executor = (*ProcessExecutor)(nil)
	_ Executor = (*ContainerExecutor)(nil)
)
