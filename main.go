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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"goproxy/proxy"
	"goproxy/proxy/acceptor"
	"goproxy/proxy/metrics"
	"goproxy/proxy/sink"
	"goproxy/proxy/sink/filesink"
	"goproxy/proxy/sink/promsink"
	"goproxy/proxy/sink/sqlsink"
	"goproxy/proxy/worker"

	"fortio.org/log"
	"fortio.org/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// usage prints the argument grammar and exits non-zero, the same
// "usage to stderr, exit 1" shape fortio's own fortio_main.go uses.
func usage(msgs ...interface{}) {
	fmt.Fprintf(os.Stderr, "goproxy %s usage:\n\t%s PORT [Log]\n", version.Short(), os.Args[0])
	if len(msgs) > 0 {
		fmt.Fprintln(os.Stderr, msgs...)
	}
	os.Exit(1)
}

func main() {
	os.Exit(Main())
}

// Main runs goproxy to completion and returns its exit code. Split out of
// main() so cli_test.go can drive it as a testscript subprocess command,
// the same shape fortio's own cli_test.go uses for fortio_main.go.
func Main() int {
	if len(os.Args) != 2 && len(os.Args) != 3 {
		usage("PORT is required")
	}
	port, err := strconv.Atoi(os.Args[1])
	if err != nil || port < 1 || port > 65535 {
		usage(fmt.Sprintf("invalid PORT %q", os.Args[1]))
	}
	loggingEnabled := false
	if len(os.Args) == 3 {
		if os.Args[2] != "Log" {
			usage(fmt.Sprintf("unknown argument %q, expected \"Log\"", os.Args[2]))
		}
		loggingEnabled = true
	}

	cfg := proxy.DefaultConfig(uint16(port), loggingEnabled, nil)
	var backends []sink.Sink
	var closers []interface{ Close() error }

	if loggingEnabled {
		fs, err := filesink.New("Logs")
		if err != nil {
			log.Errf("failed to set up file sink, continuing without it: %v", err)
		} else {
			backends = append(backends, fs)
		}

		// SQLite does not create missing parent directories.
		if err := os.MkdirAll("Logs/Database", 0o755); err != nil {
			log.Errf("failed to create Logs/Database: %v", err)
		}
		sq, err := sqlsink.Open("Logs/Database/proxy_traffic.db")
		if err != nil {
			log.Errf("failed to set up sqlite sink, continuing without it: %v", err)
		} else {
			backends = append(backends, sq)
			closers = append(closers, sq)
		}
	}

	// Unlike filesink/sqlsink, promsink is wired regardless of loggingEnabled:
	// it's an ops-facing scrape endpoint, not one of the "Log" flag's
	// per-request file/db backends, so it stays on whether or not Log was
	// passed (spec.md §4.10's "no-op when logging_enabled is false" governs
	// the Python original's own event backends, not this added collaborator).
	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	backends = append(backends, promsink.New(collectors))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if metricsListener, err := net.Listen("tcp", ":0"); err != nil {
		log.Errf("failed to start metrics listener, continuing without it: %v", err)
	} else {
		log.Infof("goproxy metrics listening on %v", metricsListener.Addr())
		go func() {
			if err := http.Serve(metricsListener, mux); err != nil {
				log.LogVf("metrics http server ended: %v", err)
			}
		}()
	}

	ctx := proxy.NewContext(cfg, sink.New(backends...))
	w := worker.New(ctx.Limiter, ctx.Blocklist, ctx.Stats, ctx.Sink)

	onShutdown := func() {
		if cfg.LoggingEnabled {
			ctx.Sink.FlushSummary(ctx.Stats.Reduce())
		}
		for _, c := range closers {
			_ = c.Close()
		}
	}
	a := acceptor.New(cfg.ListenPort, w, onShutdown)

	runCtx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		log.Infof("goproxy: interrupt received, shutting down")
		cancel()
	}()

	if err := a.Run(runCtx); err != nil {
		log.Critf("goproxy: %v", err)
		return 1
	}
	// Historical behavior: a clean interrupt-driven shutdown still exits
	// non-zero, matching the Python original's unconditional sys.exit
	// path out of the KeyboardInterrupt handler.
	return 1
}
