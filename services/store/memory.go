// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// memoryStore is the in-memory reference Store implementation. It runs
// Badger with WithInMemory(true): genuinely no bytes touch disk, but reads
// and writes go through the same ordered-key, MVCC-isolated engine a
// production deployment would use, instead of a bare map guarded by a
// mutex. Badger's own internal locking makes memoryStore safe for
// concurrent use without any additional synchronization here.
type memoryStore struct {
	db *badger.DB
}

// NewMemoryStore opens an in-memory Badger instance for use as the
// reference Store implementation.
func NewMemoryStore() (Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &memoryStore{db: db}, nil
}

func (m *memoryStore) Close() error {
	return m.db.Close()
}

func padNano(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func vitalsKey(runID, agentID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("v/%s/%s/%s", runID, agentID, padNano(at)))
}

func vitalsPrefix(runID, agentID string) []byte {
	return []byte(fmt.Sprintf("v/%s/%s/", runID, agentID))
}

func baselineKey(runID, agentID string) []byte {
	return []byte(fmt.Sprintf("b/%s/%s", runID, agentID))
}

func infectionKey(runID, agentID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("i/%s/%s/%s", runID, agentID, padNano(at)))
}

func quarantineKey(runID, agentID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("q/%s/%s/%s", runID, agentID, padNano(at)))
}

func approvalLatestKey(runID, agentID string) []byte {
	return []byte(fmt.Sprintf("alatest/%s/%s", runID, agentID))
}

func approvalEventKey(runID, agentID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("a/%s/%s/%s", runID, agentID, padNano(at)))
}

func approvalLatestPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("alatest/%s/", runID))
}

func healingKey(runID, agentID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("h/%s/%s/%s", runID, agentID, padNano(at)))
}

func healingPrefix(runID, agentID string) []byte {
	return []byte(fmt.Sprintf("h/%s/%s/", runID, agentID))
}

func actionLogKey(runID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("l/%s/%s", runID, padNano(at)))
}

func actionLogPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("l/%s/", runID))
}

func vitalsAllPrefix(runID string) []byte {
	return []byte(fmt.Sprintf("v/%s/", runID))
}

func (m *memoryStore) WriteAgentVitals(_ context.Context, runID string, v vitals.Vitals) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vitalsKey(runID, v.AgentID, v.At), buf)
	})
}

func (m *memoryStore) GetRecentAgentVitals(_ context.Context, runID, agentID string, window time.Duration) ([]vitals.Vitals, error) {
	cutoff := time.Now().Add(-window)
	var out []vitals.Vitals
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := vitalsPrefix(runID, agentID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v vitals.Vitals
				if err := json.Unmarshal(val, &v); err != nil {
					return err
				}
				if !v.At.Before(cutoff) {
					out = append(out, v)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (m *memoryStore) GetLatestAgentVitals(_ context.Context, runID, agentID string) (*vitals.Vitals, error) {
	var latest *vitals.Vitals
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true})
		defer it.Close()
		// Reverse iteration seeks from the largest key <= the seek key; append
		// a byte higher than any valid suffix to land after the whole prefix.
		prefix := vitalsPrefix(runID, agentID)
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			return it.Item().Value(func(val []byte) error {
				var v vitals.Vitals
				if err := json.Unmarshal(val, &v); err != nil {
					return err
				}
				latest = &v
				return nil
			})
		}
		return nil
	})
	return latest, err
}

func (m *memoryStore) GetTotalExecutions(_ context.Context, runID string) (int64, error) {
	var count int64
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := vitalsAllPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (m *memoryStore) WriteBaselineProfile(_ context.Context, runID string, p vitals.BaselineProfile) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(baselineKey(runID, p.AgentID), buf)
	})
}

func (m *memoryStore) GetBaselineProfile(_ context.Context, runID, agentID string) (*vitals.BaselineProfile, error) {
	var p *vitals.BaselineProfile
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(baselineKey(runID, agentID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var v vitals.BaselineProfile
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			p = &v
			return nil
		})
	})
	return p, err
}

func (m *memoryStore) WriteInfectionEvent(_ context.Context, runID string, r vitals.InfectionReport) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(infectionKey(runID, r.AgentID, r.At), buf)
	})
}

func (m *memoryStore) WriteQuarantineEvent(_ context.Context, runID, agentID string, quarantined bool, at time.Time) error {
	buf, err := json.Marshal(map[string]interface{}{"quarantined": quarantined, "at": at})
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(quarantineKey(runID, agentID, at), buf)
	})
}

func (m *memoryStore) WriteApprovalEvent(_ context.Context, runID string, rec vitals.ApprovalRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		at := rec.CreatedAt
		if rec.DecidedAt != nil {
			at = *rec.DecidedAt
		}
		if err := txn.Set(approvalEventKey(runID, rec.AgentID, at), buf); err != nil {
			return err
		}
		return txn.Set(approvalLatestKey(runID, rec.AgentID), buf)
	})
}

func (m *memoryStore) GetLatestApprovalState(_ context.Context, runID, agentID string) (*vitals.ApprovalRecord, error) {
	var rec *vitals.ApprovalRecord
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(approvalLatestKey(runID, agentID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var v vitals.ApprovalRecord
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			rec = &v
			return nil
		})
	})
	return rec, err
}

func (m *memoryStore) approvalsByStatus(status vitals.ApprovalStatus, runID string) ([]vitals.ApprovalRecord, error) {
	var out []vitals.ApprovalRecord
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := approvalLatestPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var v vitals.ApprovalRecord
				if err := json.Unmarshal(val, &v); err != nil {
					return err
				}
				if v.Status == status {
					out = append(out, v)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (m *memoryStore) GetPendingApprovals(_ context.Context, runID string) ([]vitals.ApprovalRecord, error) {
	return m.approvalsByStatus(vitals.ApprovalPending, runID)
}

func (m *memoryStore) GetRejectedApprovals(_ context.Context, runID string) ([]vitals.ApprovalRecord, error) {
	return m.approvalsByStatus(vitals.ApprovalRejected, runID)
}

func (m *memoryStore) WriteHealingEvent(_ context.Context, runID string, ev vitals.HealingEvent) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(healingKey(runID, ev.AgentID, ev.At), buf)
	})
}

func (m *memoryStore) GetFailedActions(_ context.Context, runID, agentID string, diagnosis vitals.DiagnosisKind) (map[vitals.HealingAction]struct{}, error) {
	out := make(map[vitals.HealingAction]struct{})
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := healingPrefix(runID, agentID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev vitals.HealingEvent
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				if ev.Diagnosis == diagnosis && !ev.Outcome.Success {
					out[ev.Action] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (m *memoryStore) WriteActionLog(_ context.Context, runID string, entry vitals.ActionLogEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(actionLogKey(runID, entry.At), buf)
	})
}

func (m *memoryStore) GetRecentActionLog(_ context.Context, runID string, limit int) ([]vitals.ActionLogEntry, error) {
	var out []vitals.ActionLogEntry
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true})
		defer it.Close()
		prefix := actionLogPrefix(runID)
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e vitals.ActionLogEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

var _ Store = (*memoryStore)(nil)
