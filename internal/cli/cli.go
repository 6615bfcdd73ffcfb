// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the chatrelay entry point: configuration boot, service
// wiring, and a local console REPL that drives the bot the same way a chat
// transport would.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatrelay/internal/api"
	"github.com/jeranaias/chatrelay/internal/bot"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/report"
	"github.com/jeranaias/chatrelay/internal/session"
	"github.com/jeranaias/chatrelay/internal/stats"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// localChatID is the conversation id for the console REPL.
const localChatID = 1

// Options are the parsed command-line options.
type Options struct {
	ConfigPath  string
	Group       bool
	Watch       bool
	ShowVersion bool
	ShowHelp    bool
}

// ParseArgs parses command-line arguments.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, errors.New("--config requires a path")
			}
			i++
			opts.ConfigPath = args[i]
		case "--group":
			opts.Group = true
		case "--watch":
			opts.Watch = true
		case "--version", "-V":
			opts.ShowVersion = true
		case "--help", "-h":
			opts.ShowHelp = true
		default:
			return nil, fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	return opts, nil
}

// usage is the command-line help text.
const usage = `chatrelay - relay chat questions to a model service

Usage:
  chatrelay [flags]

Flags:
  -c, --config PATH   Load configuration from PATH instead of the default
      --group         Treat the console conversation as a group chat
      --watch         Reload configuration when the config file changes
  -V, --version       Print version and exit
  -h, --help          Print this help and exit

Inside the console, type a question or a /command (try /help).
Ctrl+D or /quit exits.`

// Run is the program entry point. It returns the process exit code.
func Run(args []string) int {
	opts, err := ParseArgs(args)
	if err != nil {
		fmt.Println(err)
		fmt.Println(usage)
		return 2
	}
	if opts.ShowHelp {
		fmt.Println(usage)
		return 0
	}
	if opts.ShowVersion {
		fmt.Printf("chatrelay %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return 0
	}

	if err := run(opts); err != nil {
		fmt.Printf("chatrelay: %v\n", err)
		return 1
	}
	return 0
}

// run wires the services together and drives the console loop.
func run(opts *Options) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	var watcher *config.Watcher
	if opts.Watch {
		watcher, err = config.NewWatcher()
		if err != nil {
			log.Printf("[cli] config watch unavailable: %v", err)
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Username, cfg.API.Password).
		WithMaxRetries(cfg.API.MaxRetries)

	sessions := session.NewManager(client, session.Defaults{
		MemoryEnabled:  cfg.Memory.Enabled,
		MemoryInGroups: cfg.Memory.EnabledInGroups,
	})

	var reports *report.Logger
	if cfg.Reports.Dir != "" {
		reports, err = report.NewLogger(cfg.Reports.Dir)
		if err != nil {
			log.Printf("[cli] reports unavailable: %v", err)
		}
	}

	var statsStore *stats.Store
	if cfg.Stats.Enabled {
		statsStore, err = stats.Open(cfg.Stats.DatabasePath)
		if err != nil {
			log.Printf("[cli] stats unavailable: %v", err)
		} else {
			defer statsStore.Close()
		}
	}

	b := bot.New(cfg, sessions, client, reports, statsStore)

	return consoleLoop(b, opts.Group)
}

// loadConfig loads the configuration, from an explicit path when given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			return nil, err
		}
		config.SetGlobal(cfg)
		return cfg, nil
	}
	return config.Global(), nil
}

// consoleLoop reads questions from the terminal and relays them through the
// bot until EOF or /quit.
func consoleLoop(b *bot.Bot, asGroup bool) error {
	c := newConsole()
	defer c.close()

	transport := ConsoleTransport{}
	ctx := context.Background()

	fmt.Printf("chatrelay %s - type a question, /help for commands, Ctrl+D to exit\n", Version)

	for {
		input, err := c.readInput("you> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			// io.EOF on Ctrl+D
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		// Synchronous handling keeps the REPL output ordered.
		b.Handle(ctx, transport, bot.Message{
			ChatID:  localChatID,
			Text:    input,
			IsGroup: asGroup,
			Sender:  "console",
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		log.Printf("[cli] shutdown incomplete: %v", err)
	}
	fmt.Println("bye")
	return nil
}
