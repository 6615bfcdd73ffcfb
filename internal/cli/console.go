// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatrelay/internal/bot"
	"github.com/jeranaias/chatrelay/internal/config"
)

// =============================================================================
// CONSOLE TRANSPORT
// =============================================================================

// ConsoleTransport implements bot.Transport on stdout. It exercises the full
// relay pipeline locally; a real chat platform adapter implements the same
// interface against its own delivery API.
type ConsoleTransport struct{}

func (ConsoleTransport) Reply(ctx context.Context, msg bot.Message, text string) error {
	fmt.Printf("bot> %s\n", text)
	return nil
}

func (ConsoleTransport) ReplyMarkup(ctx context.Context, msg bot.Message, markup string) error {
	// The console has no markup renderer; the tags are printed as-is so
	// the sanitizer's output can be inspected directly.
	fmt.Printf("bot> %s\n", markup)
	return nil
}

func (ConsoleTransport) SendTyping(ctx context.Context, chatID int64) {
	fmt.Println("bot> ...")
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// console provides input history and line editing for the local REPL.
// USABILITY: Supports arrow keys for history navigation and line editing.
type console struct {
	line        *liner.State
	historyFile string
}

func newConsole() *console {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &console{
		line:        line,
		historyFile: filepath.Join(configDir, "console_history"),
	}
	c.loadHistory()
	return c
}

func (c *console) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

func (c *console) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

func (c *console) readInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *console) close() {
	c.saveHistory()
	c.line.Close()
}
