// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package quarantine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/services/enforcement"
)

// recordingStrategy is a test double tracking every block/unblock call.
type recordingStrategy struct {
	mu        sync.Mutex
	blocked   []string
	unblocked []string
}

func (r *recordingStrategy) Block(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, agentID)
	return nil
}

func (r *recordingStrategy) Unblock(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unblocked = append(r.unblocked, agentID)
	return nil
}

func (r *recordingStrategy) Drain(context.Context, string, time.Duration) (enforcement.DrainResult, error) {
	return enforcement.DrainDrained, nil
}

var _ enforcement.Strategy = (*recordingStrategy)(nil)

func TestController_QuarantineBlocksAndTracks(t *testing.T) {
	// Arrange
	strategy := &recordingStrategy{}
	c := New("run-1", strategy, nil, nil)
	ctx := context.Background()

	// Act
	err := c.Quarantine(ctx, "agent-1")

	// Assert
	require.NoError(t, err)
	assert.True(t, c.IsQuarantined("agent-1"))
	assert.Contains(t, strategy.blocked, "agent-1")
}

func TestController_ReleaseUnblocksAndUntracks(t *testing.T) {
	strategy := &recordingStrategy{}
	c := New("run-1", strategy, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.Quarantine(ctx, "agent-1"))

	err := c.Release(ctx, "agent-1")

	require.NoError(t, err)
	assert.False(t, c.IsQuarantined("agent-1"))
	assert.Contains(t, strategy.unblocked, "agent-1")
}

func TestController_QuarantinedListsAllMembers(t *testing.T) {
	strategy := &recordingStrategy{}
	c := New("run-1", strategy, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.Quarantine(ctx, "agent-1"))
	require.NoError(t, c.Quarantine(ctx, "agent-2"))

	ids := c.Quarantined()

	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, ids)
}
