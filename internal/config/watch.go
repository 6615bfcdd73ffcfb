// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG HOT RELOAD
// =============================================================================

// defaultDebounce coalesces rapid rewrite events (editors often write a
// config file several times in quick succession).
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the global configuration when the config file changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher creates a watcher over the config directory.
//
// Watching the directory rather than the file itself survives the atomic
// rename pattern most editors (and SaveJSON) use, which would otherwise
// orphan a file-level watch.
func NewWatcher() (*Watcher, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fw,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for config changes. Reloads are logged, never fatal:
// a broken config on disk keeps the previous in-memory config active.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: restart the timer on every event in the burst
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := ReloadGlobal(); err != nil {
				log.Printf("config reload failed, keeping previous config: %v", err)
				continue
			}
			log.Printf("config reloaded")

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		}
	}
}

// isConfigFile reports whether a watched path is one of the config files.
func isConfigFile(path string) bool {
	tomlPath, err := ConfigPathTOML()
	if err == nil && path == tomlPath {
		return true
	}
	jsonPath, err := ConfigPathJSON()
	if err == nil && path == jsonPath {
		return true
	}
	return false
}
