// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stats persists usage statistics in SQLite: how often each command
// is used per conversation and how long model queries take.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	chat_id INTEGER NOT NULL,
	command TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (chat_id, command)
);

CREATE TABLE IF NOT EXISTS queries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_chat ON queries(chat_id);
`

// Store records and aggregates usage statistics. Safe for concurrent use;
// SQLite serializes writers through the single connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the statistics database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordUsage increments the counter for one command in one conversation.
func (s *Store) RecordUsage(chatID int64, command string) error {
	_, err := s.db.Exec(`
		INSERT INTO usage (chat_id, command, count) VALUES (?, ?, 1)
		ON CONFLICT(chat_id, command) DO UPDATE SET count = count + 1`,
		chatID, command)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// RecordQuery records one model query's duration and outcome.
func (s *Store) RecordQuery(chatID int64, d time.Duration, ok bool) error {
	okVal := 0
	if ok {
		okVal = 1
	}
	_, err := s.db.Exec(
		"INSERT INTO queries (chat_id, duration_ms, ok, at) VALUES (?, ?, ?, ?)",
		chatID, d.Milliseconds(), okVal, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// Totals summarizes all recorded activity.
type TotalsResult struct {
	Commands     int64
	Queries      int64
	AvgQueryTime time.Duration
}

// Totals returns process-lifetime aggregates across all conversations.
func (s *Store) Totals(ctx context.Context) (*TotalsResult, error) {
	var res TotalsResult

	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(count), 0) FROM usage").Scan(&res.Commands); err != nil {
		return nil, fmt.Errorf("failed to total usage: %w", err)
	}

	var avgMs sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM queries").Scan(&res.Queries, &avgMs); err != nil {
		return nil, fmt.Errorf("failed to total queries: %w", err)
	}
	if avgMs.Valid {
		res.AvgQueryTime = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}

	return &res, nil
}

// CommandCount returns how many times a conversation used a command.
func (s *Store) CommandCount(ctx context.Context, chatID int64, command string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(count, 0) FROM usage WHERE chat_id = ? AND command = ?",
		chatID, command).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read command count: %w", err)
	}
	return count, nil
}

// TopCommand describes one entry in the per-command leaderboard.
type TopCommand struct {
	Command string
	Count   int64
}

// TopCommands returns the most used commands across all conversations.
func (s *Store) TopCommands(ctx context.Context, limit int) ([]TopCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command, SUM(count) AS total FROM usage
		GROUP BY command ORDER BY total DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top commands: %w", err)
	}
	defer rows.Close()

	var out []TopCommand
	for rows.Next() {
		var tc TopCommand
		if err := rows.Scan(&tc.Command, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
