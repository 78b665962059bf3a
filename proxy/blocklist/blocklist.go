// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blocklist matches hostnames against an immutable set of
// shell-glob patterns (e.g. "*.example.com").
package blocklist // import "goproxy/proxy/blocklist"

import (
	"path"
	"strings"
)

// Blocklist is an ordered, immutable-after-construction set of shell-glob
// patterns matched against lowercased hostnames.
type Blocklist struct {
	patterns []string
}

// New builds a Blocklist from patterns. Patterns are lowercased at
// construction time since matching always happens on a lowered host.
func New(patterns []string) *Blocklist {
	b := &Blocklist{patterns: make([]string, len(patterns))}
	for i, p := range patterns {
		b.patterns[i] = strings.ToLower(p)
	}
	return b
}

// Match reports whether host matches any pattern in the blocklist.
// Matching uses Unix shell glob semantics (*, ?, [seq]) on the lowercased
// host, per path.Match; a malformed pattern never matches and never
// panics.
func (b *Blocklist) Match(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(host)
	for _, p := range b.patterns {
		if ok, err := path.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}

// Patterns returns the configured patterns, in order, for diagnostics.
func (b *Blocklist) Patterns() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.patterns...)
}
