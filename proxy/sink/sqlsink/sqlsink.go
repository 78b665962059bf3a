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

// Package sqlsink persists events to SQLite, grounded on
// database_setup.py/db_logger.py from the original Python proxy: the
// same three tables (requests, blocked_requests, rate_limit_violations),
// same columns, reimplemented over database/sql with the pure-Go
// modernc.org/sqlite driver instead of shelling out to sqlite3.
package sqlsink // import "goproxy/proxy/sink/sqlsink"

import (
	"database/sql"
	"fmt"
	"time"

	"goproxy/proxy/domainstats"
	"goproxy/proxy/sink"

	_ "modernc.org/sqlite"

	"fortio.org/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	destination_host TEXT NOT NULL,
	destination_port INTEGER,
	protocol TEXT,
	bytes_sent INTEGER DEFAULT 0,
	bytes_received INTEGER DEFAULT 0,
	duration_seconds REAL,
	ttfb_seconds REAL
);
CREATE TABLE IF NOT EXISTS blocked_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	blocked_hostname TEXT NOT NULL,
	reason TEXT DEFAULT 'Blocklist'
);
CREATE TABLE IF NOT EXISTS rate_limit_violations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	request_count INTEGER
);
`

// Sink writes events to a SQLite database at path, one table per event
// kind. database/sql's *sql.DB already pools and serializes connections,
// so unlike db_logger.py's explicit threading.Lock, no extra mutex is
// needed here.
type Sink struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures its
// schema exists.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlsink: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlsink: create schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) EmitRequestCompleted(e sink.RequestCompleted) {
	_, err := s.db.Exec(
		`INSERT INTO requests
			(timestamp, source_ip, destination_host, destination_port,
			 protocol, bytes_sent, bytes_received, duration_seconds, ttfb_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339Nano), e.SourceIP, e.Host, e.Port,
		string(e.Protocol), e.BytesSent, e.BytesReceived, e.Duration, e.TTFB,
	)
	if err != nil {
		log.Errf("sqlsink: insert request for %s: %v", e.Host, err)
	}
}

func (s *Sink) EmitRequestBlocked(e sink.RequestBlocked) {
	_, err := s.db.Exec(
		`INSERT INTO blocked_requests (timestamp, source_ip, blocked_hostname, reason)
		 VALUES (?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339Nano), e.SourceIP, e.Host, "Blocklist",
	)
	if err != nil {
		log.Errf("sqlsink: insert blocked request for %s: %v", e.Host, err)
	}
}

func (s *Sink) EmitRateLimited(e sink.RateLimited) {
	_, err := s.db.Exec(
		`INSERT INTO rate_limit_violations (timestamp, source_ip, request_count)
		 VALUES (?, ?, ?)`,
		time.Now().Format(time.RFC3339Nano), e.SourceIP, e.CurrentCount,
	)
	if err != nil {
		log.Errf("sqlsink: insert rate limit violation for %s: %v", e.SourceIP, err)
	}
}

// FlushSummary is a no-op: sqlsink persists every event as it arrives,
// so there is nothing left to flush at shutdown.
func (s *Sink) FlushSummary(map[string]domainstats.Summary) {}
