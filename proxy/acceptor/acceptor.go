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

// Package acceptor binds the listening socket and runs the accept loop,
// spawning a detached worker per connection.
//
// Grounded on fnet.Listen/fnet.Proxy's accept loop shape (bind, log,
// accept-and-spawn) generalized with the 1s accept timeout and
// interrupt-triggered shutdown spec.md §4.9 requires.
package acceptor // import "goproxy/proxy/acceptor"

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"goproxy/fnet"
	"goproxy/proxy/worker"

	"fortio.org/log"
)

// AcceptTimeout bounds each Accept() call so the loop can observe
// shutdown, per spec.md §4.9/§5.
const AcceptTimeout = 1 * time.Second

// Acceptor binds 0.0.0.0:Port, accepts connections with a 1s timeout so
// ctx cancellation is observed promptly, and spawns a detached Worker per
// connection.
type Acceptor struct {
	Port   uint16
	Worker *worker.Worker
	// OnShutdown runs once, after the accept loop stops and before the
	// listener is closed — the hook that flushes the sink's summary.
	OnShutdown func()
}

// New builds an Acceptor bound to port, dispatching accepted connections
// to w.
func New(port uint16, w *worker.Worker, onShutdown func()) *Acceptor {
	return &Acceptor{Port: port, Worker: w, OnShutdown: onShutdown}
}

// Run binds the listen socket and accepts connections until ctx is
// canceled. It returns nil on a clean shutdown, or an error if the
// listener could not be created (the bind failure itself is logged by
// fnet.Listen).
func (a *Acceptor) Run(ctx context.Context) error {
	listener, addr := fnet.Listen("goproxy", strconv.Itoa(int(a.Port)))
	if listener == nil {
		return errors.New("failed to bind listen socket")
	}
	log.Infof("goproxy accepting connections on %v", addr)

	tl, ok := listener.(*net.TCPListener)
	defer listener.Close()

	for {
		select {
		case <-ctx.Done():
			if a.OnShutdown != nil {
				a.OnShutdown()
			}
			return nil
		default:
		}

		if ok {
			_ = tl.SetDeadline(time.Now().Add(AcceptTimeout))
		}
		conn, err := listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				if a.OnShutdown != nil {
					a.OnShutdown()
				}
				return nil
			}
			log.Errf("acceptor: accept error: %v", err)
			continue
		}
		go a.Worker.Handle(conn)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
