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

// Package proxy wires the core components (C1-C10) into the explicit
// request-handling context the acceptor and workers share.
//
// The original design carried process-global domain_stats,
// request_counter and a log flag; this threads them instead as a single
// Context value, the same "configuration struct passed explicitly"
// idiom fhttp's MultiServerConfig/TargetConf use for the teeing proxy,
// so the core never depends on package-level mutable state and multiple
// instances can run in one process (notably in tests).
package proxy // import "goproxy/proxy"

import (
	"time"

	"goproxy/proxy/blocklist"
	"goproxy/proxy/domainstats"
	"goproxy/proxy/ratelimit"
	"goproxy/proxy/sink"
)

// Config holds the static, immutable-after-startup settings for one
// proxy instance, per spec.md §3 Configuration.
type Config struct {
	ListenPort               uint16
	BufferSize               int
	RateWindow               time.Duration
	RateLimit                int
	OriginConnectTimeoutHTTP time.Duration
	OriginConnectTimeoutTLS  time.Duration
	LoggingEnabled           bool
	BlocklistPatterns        []string
}

// DefaultConfig returns the spec's default tuning values with the given
// listen port and blocklist.
func DefaultConfig(port uint16, loggingEnabled bool, blocklistPatterns []string) Config {
	return Config{
		ListenPort:               port,
		BufferSize:               65536,
		RateWindow:               ratelimit.DefaultWindow,
		RateLimit:                ratelimit.DefaultLimit,
		OriginConnectTimeoutHTTP: 5 * time.Second,
		OriginConnectTimeoutTLS:  2 * time.Second,
		LoggingEnabled:           loggingEnabled,
		BlocklistPatterns:        blocklistPatterns,
	}
}

// Context bundles every shared collaborator a worker needs: the stats
// aggregator and rate ledger are process-wide and lock-protected
// internally; the blocklist is read-only after construction; the sink
// may be a NopSink when logging is disabled.
type Context struct {
	Config    Config
	Stats     *domainstats.Aggregator
	Limiter   *ratelimit.Limiter
	Blocklist *blocklist.Blocklist
	Sink      sink.Sink
}

// NewContext builds a Context from cfg, wiring a fresh stats aggregator,
// rate limiter and blocklist. sink may be nil, in which case a NopSink
// is used regardless of cfg.LoggingEnabled.
func NewContext(cfg Config, s sink.Sink) *Context {
	if s == nil {
		s = sink.NopSink{}
	}
	return &Context{
		Config:    cfg,
		Stats:     domainstats.New(),
		Limiter:   ratelimit.New(cfg.RateWindow, cfg.RateLimit),
		Blocklist: blocklist.New(cfg.BlocklistPatterns),
		Sink:      s,
	}
}
