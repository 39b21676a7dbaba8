// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stepdb stores detected steps in SQLite, grouped by producer session.
package stepdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoSession is returned by RecordStep before StartSession was called.
var ErrNoSession = errors.New("stepdb: no session started")

// Step is one stored step.
type Step struct {
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
}

// Store is a SQLite-backed step store.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	session string
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open step db: %w", err)
	}
	// a single connection keeps writes serialized and lets ":memory:" work
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			started_at_ms     BIGINT NOT NULL,
			sensitivity       DOUBLE
		);
		CREATE TABLE IF NOT EXISTS steps (
			session_id        TEXT NOT NULL,
			ts_ms             BIGINT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_steps_ts ON steps(ts_ms);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create step schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession opens a new producer session and makes it current.
func (s *Store) StartSession(sensitivity float64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, started_at_ms, sensitivity) VALUES (?, ?, ?)`,
		id, time.Now().UnixMilli(), sensitivity,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	s.mu.Lock()
	s.session = id
	s.mu.Unlock()
	return id, nil
}

// Session returns the current session id, empty before StartSession.
func (s *Store) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// RecordStep stores a step in the current session.
func (s *Store) RecordStep(timestampMillis int64) error {
	session := s.Session()
	if session == "" {
		return ErrNoSession
	}
	if _, err := s.db.Exec(
		`INSERT INTO steps (session_id, ts_ms) VALUES (?, ?)`,
		session, timestampMillis,
	); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// CountSince returns the number of steps at or after t across all sessions.
func (s *Store) CountSince(t time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE ts_ms >= ?`, t.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return n, nil
}

// SessionCount returns the number of steps stored for session.
func (s *Store) SessionCount(session string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE session_id = ?`, session).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session steps: %w", err)
	}
	return n, nil
}

// Recent returns up to limit steps, newest first.
func (s *Store) Recent(limit int) ([]Step, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT session_id, ts_ms FROM steps ORDER BY ts_ms DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var (
			st Step
			ms int64
		)
		if err := rows.Scan(&st.Session, &ms); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Time = time.UnixMilli(ms)
		out = append(out, st)
	}
	return out, rows.Err()
}
