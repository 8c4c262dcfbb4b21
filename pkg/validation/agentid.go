// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation holds small, dependency-free sanitizers for values that
// get interpolated into places where string injection matters -- here, the
// Flux query predicates the InfluxDB Store builds from an agent_id.
package validation

import (
	"fmt"
	"regexp"
)

// agentIDPattern allows the characters a stable agent identifier needs
// (alphanumerics, dash, underscore, dot) and rejects anything that could
// break out of a quoted Flux string literal.
var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateAgentID returns an error if id is empty, too long, or contains a
// character outside the allowed set.
func ValidateAgentID(id string) error {
	if id == "" {
		return fmt.Errorf("agent_id must not be empty")
	}
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("agent_id %q contains characters outside [A-Za-z0-9._-]", id)
	}
	return nil
}

// SanitizeAgentID strips anything outside the allowed character set, for use
// only where a best-effort display value is needed (logs); it must never be
// used as a substitute for ValidateAgentID on the write path.
func SanitizeAgentID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			out = append(out, r)
		}
	}
	return string(out)
}
