// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report persists user-submitted reports to dated log files so
// administrators can review them out of band.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatrelay/internal/util"
)

// Logger appends reports to one file per day under a fixed directory.
// Safe for concurrent use.
type Logger struct {
	dir string

	// mu serializes appends so interleaved writes cannot shear a record.
	mu sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

// NewLogger creates a report logger writing under dir, creating it if needed.
func NewLogger(dir string) (*Logger, error) {
	if dir == "" {
		return nil, fmt.Errorf("report directory not configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

// Record appends one report. replyTo carries the quoted message when the
// report was sent in reply to something, empty otherwise.
func (l *Logger) Record(chatID int64, sender, message, replyTo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] id=%s chat=%d user=%s\n", now.Format("2006-01-02 15:04:05"), uuid.NewString(), chatID, sender)
	fmt.Fprintf(&b, "Report: %s\n", message)
	if replyTo != "" {
		fmt.Fprintf(&b, "Replied to message: %s\n", replyTo)
	}
	b.WriteString("\n")

	return util.AppendFile(l.path(now), []byte(b.String()), 0644)
}

// Recent returns the raw contents of the current day's report file, or an
// empty string when no reports were filed today.
func (l *Logger) Recent() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path(l.now()))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read report file: %w", err)
	}
	return string(data), nil
}

func (l *Logger) path(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("reports_%s.log", t.Format("2006-01-02")))
}
