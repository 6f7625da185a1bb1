// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTestLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	logger.Info().Str("agent_id", "truck-7").Msg("sample accepted")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if line["agent_id"] != "truck-7" || line["message"] != "sample accepted" {
		t.Errorf("log line = %v", line)
	}
}

func TestInitCreatesLogFileDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "logs", "fleettrace.log")

	if err := Init(Config{Level: "info", Console: false, FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	Info().Msg("probe")

	// lumberjack creates the file lazily on first write; the directory must
	// already exist.
	info, err := os.Stat(filepath.Join(dir, "nested", "logs"))
	if err != nil || !info.IsDir() {
		t.Fatalf("log directory not created: %v", err)
	}
}

func TestChildLoggerCarriesComponentField(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	child := With().Str("component", "status").Logger()
	child.Info().Msg("transition")

	if !bytes.Contains(buf.Bytes(), []byte(`"component":"status"`)) {
		t.Errorf("component field missing: %s", buf.String())
	}
}
