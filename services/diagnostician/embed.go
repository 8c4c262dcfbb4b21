// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagnostician

import _ "embed"

// patternsYAML holds the raw bytes of patterns.yaml, baked into the binary
// at compile time so the pattern table travels with the executable and
// cannot drift from the code that interprets it.
//
//go:embed patterns.yaml
var patternsYAML []byte
