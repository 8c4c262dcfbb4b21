// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package healer

import _ "embed"

// laddersYAML holds the raw bytes of ladders.yaml, baked into the binary at
// compile time, the same embedded-ruleset convention as
// services/diagnostician's patterns.yaml.
//
//go:embed ladders.yaml
var laddersYAML []byte
