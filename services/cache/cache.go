// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache is the fast local mirror of durable state: a single JSON
// snapshot file holding the run id, learned baselines, the quarantine set,
// and the ingest API key. The Store remains the source of truth; this file
// only exists so a restart doesn't have to rebuild everything from Store
// reads before it can serve traffic.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/wardenai/sentinel/pkg/sentinelerr"
	"github.com/wardenai/sentinel/pkg/vitals"
)

// schemaVersion is bumped whenever the persisted snapshot shape changes
// incompatibly. A version mismatch on load is treated as no snapshot.
const schemaVersion = 1

// flushInterval bounds how long a non-critical change can wait before it
// reaches disk.
const flushInterval = 30 * time.Second

// snapshot is the on-disk shape. ApiKey travels as plaintext here only
// because this value is marshaled and immediately written to a 0600 file;
// in memory the Cache never keeps this struct around, only a LockedBuffer.
type snapshot struct {
	SchemaVersion int                               `json:"_schema_version"`
	RunID         string                            `json:"run_id"`
	APIKey        string                            `json:"api_key"`
	Baselines     map[string]vitals.BaselineProfile `json:"baselines"`
	Quarantine    []string                          `json:"quarantine"`
}

// Cache is the in-process, mutex-protected mirror plus its background
// flusher. Zero value is not usable; construct with Open.
type Cache struct {
	path string

	mu         sync.Mutex
	runID      string
	apiKey     *memguard.LockedBuffer
	baselines  map[string]vitals.BaselineProfile
	quarantine map[string]struct{}
	dirty      bool

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open loads path if present and starts the background flusher. A missing
// file, or one with a mismatched schema version, is treated as an empty
// cache rather than an error.
func Open(path string) (*Cache, error) {
	c := &Cache{
		path:       path,
		baselines:  make(map[string]vitals.BaselineProfile),
		quarantine: make(map[string]struct{}),
		flushCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

// load reads and validates the snapshot file, populating the in-memory
// state. Any structural problem (missing file, bad JSON, version
// mismatch) is swallowed and treated as "start empty", except
// I/O errors other than not-exist, which are returned so the caller can
// decide whether to fail startup.
func (c *Cache) load() error {
	buf, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}

	var s snapshot
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil //nolint:nilerr // corrupt snapshot: discard, don't fail startup
	}
	if s.SchemaVersion != schemaVersion {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.runID = s.RunID
	if s.APIKey != "" {
		c.apiKey = memguard.NewBufferFromBytes([]byte(s.APIKey))
	}
	if s.Baselines != nil {
		c.baselines = s.Baselines
	}
	c.quarantine = make(map[string]struct{}, len(s.Quarantine))
	for _, id := range s.Quarantine {
		c.quarantine[id] = struct{}{}
	}

	return nil
}

// snapshotLocked builds the on-disk representation of the current state.
// Caller must hold c.mu.
func (c *Cache) snapshotLocked() snapshot {
	ids := make([]string, 0, len(c.quarantine))
	for id := range c.quarantine {
		ids = append(ids, id)
	}

	var key string
	if c.apiKey != nil {
		key = string(c.apiKey.Bytes())
	}

	return snapshot{
		SchemaVersion: schemaVersion,
		RunID:         c.runID,
		APIKey:        key,
		Baselines:     c.baselines,
		Quarantine:    ids,
	}
}

// Save writes the current state to path via temp-file-then-rename, so a
// crash mid-write never leaves a half-written snapshot behind. Mode is
// restricted to the owner since the snapshot carries the ingest API key.
func (c *Cache) Save() error {
	c.mu.Lock()
	s := c.snapshotLocked()
	c.dirty = false
	c.mu.Unlock()

	buf, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", sentinelerr.ErrCacheCorrupt, err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}

// markDirty schedules a coalesced flush. If force is set, it also wakes
// the flusher immediately instead of waiting for the next tick.
func (c *Cache) markDirty(force bool) {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()

	if force {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flushIfDirty()
		case <-c.flushCh:
			c.flushIfDirty()
		case <-c.done:
			c.flushIfDirty()
			return
		}
	}
}

func (c *Cache) flushIfDirty() {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if !dirty {
		return
	}
	_ = c.Save()
}

// Close flushes any pending change and stops the background flusher. Safe
// to call once during shutdown.
func (c *Cache) Close() error {
	close(c.done)
	c.wg.Wait()
	if c.apiKey != nil {
		c.apiKey.Destroy()
	}
	return nil
}

// PutRunID records the active run id. Run id generation is a critical
// change: it forces an immediate flush so a crash right after startup
// doesn't lose the id a fresh Store namespace was just created under.
func (c *Cache) PutRunID(id string) {
	c.mu.Lock()
	c.runID = id
	c.mu.Unlock()
	c.markDirty(true)
}

// RunID returns the currently cached run id, or "" if none has been set.
func (c *Cache) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// PutAPIKey stores key in locked memory, replacing any previous key.
func (c *Cache) PutAPIKey(key string) {
	buf := memguard.NewBufferFromBytes([]byte(key))

	c.mu.Lock()
	old := c.apiKey
	c.apiKey = buf
	c.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	c.markDirty(true)
}

// MatchesAPIKey reports whether candidate equals the stored key. The
// stored key is decrypted to a plain string only for the duration of this
// comparison.
func (c *Cache) MatchesAPIKey(candidate string) bool {
	c.mu.Lock()
	key := c.apiKey
	c.mu.Unlock()
	if key == nil {
		return false
	}
	return string(key.Bytes()) == candidate
}

// HasAPIKey reports whether a key has ever been stored, so a caller can
// tell "no key configured anywhere" apart from "key is some other value"
// before deciding whether to mint and cache a new one.
func (c *Cache) HasAPIKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey != nil
}

// PutBaseline stores the current profile for agentID. Baselines are not a
// critical change on their own; they ride the coalesced 30s flush unless
// this is the agent's first ready profile, which is (first-baseline-ready
// forces an immediate flush).
func (c *Cache) PutBaseline(agentID string, profile vitals.BaselineProfile) {
	c.mu.Lock()
	prev, existed := c.baselines[agentID]
	c.baselines[agentID] = profile
	c.mu.Unlock()

	firstReady := profile.Ready && (!existed || !prev.Ready)
	c.markDirty(firstReady)
}

// Baseline returns the cached profile for agentID, if any.
func (c *Cache) Baseline(agentID string) (vitals.BaselineProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.baselines[agentID]
	return p, ok
}

// PutQuarantine replaces the quarantine set and forces an immediate flush:
// every quarantine add/remove is a critical change.
func (c *Cache) PutQuarantine(ids map[string]struct{}) {
	cp := make(map[string]struct{}, len(ids))
	for id := range ids {
		cp[id] = struct{}{}
	}

	c.mu.Lock()
	c.quarantine = cp
	c.mu.Unlock()

	c.markDirty(true)
}

// Quarantine returns a copy of the current quarantine set.
func (c *Cache) Quarantine() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]struct{}, len(c.quarantine))
	for id := range c.quarantine {
		cp[id] = struct{}{}
	}
	return cp
}
