// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stats

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RecordUsage(1, "/ask"); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	if err := s.RecordUsage(2, "/ask"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	count, err := s.CommandCount(ctx, 1, "/ask")
	if err != nil {
		t.Fatalf("CommandCount: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	count, err = s.CommandCount(ctx, 1, "/ping")
	if err != nil {
		t.Fatalf("CommandCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count for unused command = %d, want 0", count)
	}
}

func TestRecordQuery_Totals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordQuery(1, 100*time.Millisecond, true); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	if err := s.RecordQuery(1, 300*time.Millisecond, false); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	if err := s.RecordUsage(1, "/help"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	totals, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Queries != 2 {
		t.Errorf("queries = %d, want 2", totals.Queries)
	}
	if totals.Commands != 1 {
		t.Errorf("commands = %d, want 1", totals.Commands)
	}
	if totals.AvgQueryTime != 200*time.Millisecond {
		t.Errorf("avg = %v, want 200ms", totals.AvgQueryTime)
	}
}

func TestTotals_Empty(t *testing.T) {
	s := openTestStore(t)

	totals, err := s.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Commands != 0 || totals.Queries != 0 || totals.AvgQueryTime != 0 {
		t.Errorf("empty store totals = %+v", totals)
	}
}

func TestTopCommands(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.RecordUsage(1, "/ask")
	}
	for i := 0; i < 2; i++ {
		s.RecordUsage(2, "/ping")
	}
	s.RecordUsage(3, "/help")

	top, err := s.TopCommands(ctx, 2)
	if err != nil {
		t.Fatalf("TopCommands: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d entries, want 2", len(top))
	}
	if top[0].Command != "/ask" || top[0].Count != 5 {
		t.Errorf("top[0] = %+v, want /ask x5", top[0])
	}
	if top[1].Command != "/ping" || top[1].Count != 2 {
		t.Errorf("top[1] = %+v, want /ping x2", top[1])
	}
}

// Counters must be monotonic under concurrent writers.
// Run with: go test -race ./internal/stats/
func TestRecordUsage_Concurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RecordUsage(7, "/ask"); err != nil {
				t.Errorf("RecordUsage: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := s.CommandCount(ctx, 7, "/ask")
	if err != nil {
		t.Fatalf("CommandCount: %v", err)
	}
	if count != writers {
		t.Errorf("count = %d, want %d", count, writers)
	}
}
