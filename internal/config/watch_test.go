// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestWatcher_ReloadsOnChange verifies that editing the config file on disk
// is picked up by the running process without a restart.
func TestWatcher_ReloadsOnChange(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	dir := filepath.Join(home, ".chatrelay")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "config.toml")

	writeConfig := func(baseURL string) {
		content := "[api]\nbase_url = \"" + baseURL + "\"\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}

	writeConfig("http://first:8020")
	require.Equal(t, "http://first:8020", Global().API.BaseURL)

	w, err := NewWatcher()
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	writeConfig("http://second:8020")

	require.Eventually(t, func() bool {
		return Global().API.BaseURL == "http://second:8020"
	}, 5*time.Second, 100*time.Millisecond, "config change not picked up")
}

func TestIsConfigFile(t *testing.T) {
	require.True(t, isConfigFile("/x/.chatrelay/config.toml"))
	require.True(t, isConfigFile("/x/.chatrelay/config.json"))
	require.False(t, isConfigFile("/x/.chatrelay/console_history"))
	require.False(t, isConfigFile("/x/.chatrelay/stats.db"))
}
