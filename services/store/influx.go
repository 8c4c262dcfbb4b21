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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/wardenai/sentinel/pkg/validation"
	"github.com/wardenai/sentinel/pkg/vitals"
)

// measurement names, one per record kind. Every point carries the
// (run_id, agent_id) tag pair and a single "payload" field holding the
// JSON-encoded record; this keeps the encode/decode path identical to the
// in-memory Store and avoids hand-maintaining a flattened field schema per
// record type across two bindings.
const (
	measurementVitals     = "vitals"
	measurementBaseline   = "baseline"
	measurementInfection  = "infection"
	measurementQuarantine = "quarantine"
	measurementApproval   = "approval"
	measurementHealing    = "healing"
	measurementActionLog  = "action_log"
)

// influxStore is the InfluxDB-backed Store implementation. Reads go through
// QueryAPI-constructed Flux; writes go through WriteAPIBlocking so a caller
// observes a write failure synchronously instead of via an async error
// channel.
type influxStore struct {
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	client   influxdb2.Client
	bucket   string
}

// InfluxConfig holds the connection parameters read from the environment by
// cmd/sentineld.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewInfluxStore dials InfluxDB and returns a Store bound to cfg.Bucket.
func NewInfluxStore(cfg InfluxConfig) (Store, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		msg := "unknown"
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("influx not healthy: %s", msg)
	}
	return &influxStore{
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		client:   client,
		bucket:   cfg.Bucket,
	}, nil
}

func (s *influxStore) Close() error {
	s.client.Close()
	return nil
}

func (s *influxStore) writePayload(ctx context.Context, measurement, runID, agentID string, at time.Time, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p := influxdb2.NewPoint(
		measurement,
		map[string]string{"run_id": runID, "agent_id": agentID},
		map[string]interface{}{"payload": string(buf)},
		at,
	)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *influxStore) WriteAgentVitals(ctx context.Context, runID string, v vitals.Vitals) error {
	return s.writePayload(ctx, measurementVitals, runID, v.AgentID, v.At, v)
}

// fluxFilter builds the from/range/measurement/run_id/agent_id prefix every
// query in this file shares. agentID is validated (not merely sanitized)
// before interpolation: a malformed agent_id must fail the request, not
// silently narrow the query.
func (s *influxStore) fluxFilter(rangeClause, measurement, runID, agentID string) (string, error) {
	if err := validation.ValidateAgentID(runID); err != nil {
		return "", fmt.Errorf("run_id: %w", err)
	}
	if agentID != "" {
		if err := validation.ValidateAgentID(agentID); err != nil {
			return "", fmt.Errorf("agent_id: %w", err)
		}
	}
	q := fmt.Sprintf(`from(bucket: "%s")
  |> range(%s)
  |> filter(fn: (r) => r._measurement == "%s")
  |> filter(fn: (r) => r.run_id == "%s")`, s.bucket, rangeClause, measurement, runID)
	if agentID != "" {
		q += fmt.Sprintf(`
  |> filter(fn: (r) => r.agent_id == "%s")`, agentID)
	}
	q += `
  |> filter(fn: (r) => r._field == "payload")`
	return q, nil
}

func (s *influxStore) queryPayloads(ctx context.Context, query string, decode func(payload string) error) error {
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	for result.Next() {
		payload, ok := result.Record().Value().(string)
		if !ok {
			continue
		}
		if err := decode(payload); err != nil {
			return err
		}
	}
	return result.Err()
}

func (s *influxStore) GetRecentAgentVitals(ctx context.Context, runID, agentID string, window time.Duration) ([]vitals.Vitals, error) {
	query, err := s.fluxFilter(fmt.Sprintf("start: -%ds", int64(window.Seconds())), measurementVitals, runID, agentID)
	if err != nil {
		return nil, err
	}
	query += `
  |> sort(columns: ["_time"], desc: false)`
	var out []vitals.Vitals
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var v vitals.Vitals
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func (s *influxStore) GetLatestAgentVitals(ctx context.Context, runID, agentID string) (*vitals.Vitals, error) {
	query, err := s.fluxFilter("start: -30d", measurementVitals, runID, agentID)
	if err != nil {
		return nil, err
	}
	query += `
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`
	var latest *vitals.Vitals
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var v vitals.Vitals
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return err
		}
		latest = &v
		return nil
	})
	return latest, err
}

func (s *influxStore) GetTotalExecutions(ctx context.Context, runID string) (int64, error) {
	query, err := s.fluxFilter("start: 0", measurementVitals, runID, "")
	if err != nil {
		return 0, err
	}
	query += `
  |> count()`
	var total int64
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	if result == nil {
		return 0, nil
	}
	for result.Next() {
		switch v := result.Record().Value().(type) {
		case int64:
			total += v
		case uint64:
			total += int64(v)
		}
	}
	return total, result.Err()
}

func (s *influxStore) WriteBaselineProfile(ctx context.Context, runID string, p vitals.BaselineProfile) error {
	return s.writePayload(ctx, measurementBaseline, runID, p.AgentID, p.UpdatedAt, p)
}

func (s *influxStore) GetBaselineProfile(ctx context.Context, runID, agentID string) (*vitals.BaselineProfile, error) {
	query, err := s.fluxFilter("start: -30d", measurementBaseline, runID, agentID)
	if err != nil {
		return nil, err
	}
	query += `
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 1)`
	var p *vitals.BaselineProfile
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var v vitals.BaselineProfile
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return err
		}
		p = &v
		return nil
	})
	return p, err
}

func (s *influxStore) WriteInfectionEvent(ctx context.Context, runID string, r vitals.InfectionReport) error {
	return s.writePayload(ctx, measurementInfection, runID, r.AgentID, r.At, r)
}

func (s *influxStore) WriteQuarantineEvent(ctx context.Context, runID, agentID string, quarantined bool, at time.Time) error {
	return s.writePayload(ctx, measurementQuarantine, runID, agentID, at, map[string]interface{}{
		"quarantined": quarantined,
		"at":          at,
	})
}

func (s *influxStore) WriteApprovalEvent(ctx context.Context, runID string, rec vitals.ApprovalRecord) error {
	at := rec.CreatedAt
	if rec.DecidedAt != nil {
		at = *rec.DecidedAt
	}
	return s.writePayload(ctx, measurementApproval, runID, rec.AgentID, at, rec)
}

// approvalLatestPerAgent walks every approval record for runID in time order
// and keeps the last one seen per agent_id, mirroring the latest-state-wins
// read path the in-memory Store gets for free from key overwrite.
func (s *influxStore) approvalLatestPerAgent(ctx context.Context, runID, agentID string) (map[string]vitals.ApprovalRecord, error) {
	query, err := s.fluxFilter("start: -90d", measurementApproval, runID, agentID)
	if err != nil {
		return nil, err
	}
	query += `
  |> sort(columns: ["_time"], desc: false)`
	latest := make(map[string]vitals.ApprovalRecord)
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var v vitals.ApprovalRecord
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return err
		}
		latest[v.AgentID] = v
		return nil
	})
	return latest, err
}

func (s *influxStore) GetLatestApprovalState(ctx context.Context, runID, agentID string) (*vitals.ApprovalRecord, error) {
	latest, err := s.approvalLatestPerAgent(ctx, runID, agentID)
	if err != nil {
		return nil, err
	}
	if rec, ok := latest[agentID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *influxStore) approvalsByStatus(ctx context.Context, runID string, status vitals.ApprovalStatus) ([]vitals.ApprovalRecord, error) {
	latest, err := s.approvalLatestPerAgent(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	var out []vitals.ApprovalRecord
	for _, rec := range latest {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *influxStore) GetPendingApprovals(ctx context.Context, runID string) ([]vitals.ApprovalRecord, error) {
	return s.approvalsByStatus(ctx, runID, vitals.ApprovalPending)
}

func (s *influxStore) GetRejectedApprovals(ctx context.Context, runID string) ([]vitals.ApprovalRecord, error) {
	return s.approvalsByStatus(ctx, runID, vitals.ApprovalRejected)
}

func (s *influxStore) WriteHealingEvent(ctx context.Context, runID string, ev vitals.HealingEvent) error {
	return s.writePayload(ctx, measurementHealing, runID, ev.AgentID, ev.At, ev)
}

func (s *influxStore) GetFailedActions(ctx context.Context, runID, agentID string, diagnosis vitals.DiagnosisKind) (map[vitals.HealingAction]struct{}, error) {
	query, err := s.fluxFilter("start: -90d", measurementHealing, runID, agentID)
	if err != nil {
		return nil, err
	}
	out := make(map[vitals.HealingAction]struct{})
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var ev vitals.HealingEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return err
		}
		if ev.Diagnosis == diagnosis && !ev.Outcome.Success {
			out[ev.Action] = struct{}{}
		}
		return nil
	})
	return out, err
}

func (s *influxStore) WriteActionLog(ctx context.Context, runID string, entry vitals.ActionLogEntry) error {
	return s.writePayload(ctx, measurementActionLog, runID, entry.AgentID, entry.At, entry)
}

func (s *influxStore) GetRecentActionLog(ctx context.Context, runID string, limit int) ([]vitals.ActionLogEntry, error) {
	query, err := s.fluxFilter("start: -90d", measurementActionLog, runID, "")
	if err != nil {
		return nil, err
	}
	query += fmt.Sprintf(`
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`, limit)
	var out []vitals.ActionLogEntry
	err = s.queryPayloads(ctx, query, func(payload string) error {
		var e vitals.ActionLogEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

var _ Store = (*influxStore)(nil)
