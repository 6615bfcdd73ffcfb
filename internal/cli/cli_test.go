// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "testing"

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Options
		wantErr bool
	}{
		{"empty", nil, Options{}, false},
		{"config long", []string{"--config", "/tmp/c.toml"}, Options{ConfigPath: "/tmp/c.toml"}, false},
		{"config short", []string{"-c", "/tmp/c.toml"}, Options{ConfigPath: "/tmp/c.toml"}, false},
		{"config missing value", []string{"--config"}, Options{}, true},
		{"group", []string{"--group"}, Options{Group: true}, false},
		{"watch", []string{"--watch"}, Options{Watch: true}, false},
		{"version", []string{"--version"}, Options{ShowVersion: true}, false},
		{"help", []string{"-h"}, Options{ShowHelp: true}, false},
		{"combined", []string{"--group", "--watch", "-c", "x"}, Options{ConfigPath: "x", Group: true, Watch: true}, false},
		{"unknown", []string{"--bogus"}, Options{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArgs error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if *got != tt.want {
				t.Errorf("ParseArgs = %+v, want %+v", *got, tt.want)
			}
		})
	}
}
