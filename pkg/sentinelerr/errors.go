// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sentinelerr is the error taxonomy shared by every layer of the
// control plane. Callers wrap one of these sentinels with
// %w so errors.Is keeps working through context, and log the "kind" attribute
// so the taxonomy stays grep-able in structured logs.
package sentinelerr

import "errors"

var (
	// ErrBadInput is returned when a client payload is malformed.
	ErrBadInput = errors.New("bad_input")

	// ErrUnauthorized is returned when an API key is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotReady is returned when a baseline is not ready; detection is
	// intentionally skipped, not failed.
	ErrNotReady = errors.New("not_ready")

	// ErrTransientStore is returned when a Store I/O call failed but the
	// caller should retry on the next tick rather than abort.
	ErrTransientStore = errors.New("transient_store_failure")

	// ErrCacheCorrupt is returned when a cache snapshot fails validation;
	// callers discard it and continue as if it were absent.
	ErrCacheCorrupt = errors.New("cache_corrupt")

	// ErrExecutorFailure is returned when a healing action did not apply.
	ErrExecutorFailure = errors.New("executor_failure")

	// ErrExecutorTimeout is returned when a healing action exceeded its
	// per-action timeout; treated identically to ErrExecutorFailure by callers.
	ErrExecutorTimeout = errors.New("executor_timeout")

	// ErrDrainTimeout is returned when draining an agent exceeded its
	// deadline; the caller proceeds to QUARANTINED regardless.
	ErrDrainTimeout = errors.New("drain_timeout")

	// ErrExhaustion is returned when action selection has no more actions
	// left to try for any ranked hypothesis.
	ErrExhaustion = errors.New("exhaustion")
)
