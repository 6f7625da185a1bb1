// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("default configuration does not validate: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Thresholds.IdleAfter != 5*time.Minute {
		t.Errorf("IdleAfter = %v, want 5m", cfg.Thresholds.IdleAfter)
	}
	if cfg.Thresholds.UnreachableAfter != 30*time.Second {
		t.Errorf("UnreachableAfter = %v, want 30s", cfg.Thresholds.UnreachableAfter)
	}
	if cfg.Thresholds.OfflineAfter != 10*time.Minute {
		t.Errorf("OfflineAfter = %v, want 10m", cfg.Thresholds.OfflineAfter)
	}
	if cfg.Thresholds.MinSpeedKmh != 1.5 {
		t.Errorf("MinSpeedKmh = %v, want 1.5", cfg.Thresholds.MinSpeedKmh)
	}
	if cfg.Thresholds.MaxJumpDistanceM != 300 {
		t.Errorf("MaxJumpDistanceM = %v, want 300", cfg.Thresholds.MaxJumpDistanceM)
	}
	if !cfg.Watchdog.Enabled || cfg.Watchdog.CheckInterval != 5*time.Second {
		t.Errorf("Watchdog = %+v, want enabled every 5s", cfg.Watchdog)
	}
	if !cfg.Geofence.Enabled {
		t.Error("Geofence disabled by default")
	}
	if cfg.Logging.Level != "info" || !cfg.Logging.Console || cfg.Logging.JSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "offline below unreachable",
			mutate: func(c *Config) {
				c.Thresholds.OfflineAfter = 10 * time.Second
				c.Thresholds.UnreachableAfter = 30 * time.Second
			},
		},
		{
			name: "watchdog enabled without interval",
			mutate: func(c *Config) {
				c.Watchdog.Enabled = true
				c.Watchdog.CheckInterval = 0
			},
		},
		{
			name:   "unknown storage driver",
			mutate: func(c *Config) { c.Storage.Driver = "postgres" },
		},
		{
			name: "badger driver without path",
			mutate: func(c *Config) {
				c.Storage.Driver = "badger"
				c.Storage.Badger.Path = ""
				c.Storage.Badger.InMemory = false
			},
		},
		{
			name: "nats driver without url",
			mutate: func(c *Config) {
				c.Storage.Driver = "nats"
				c.Storage.NATS.URL = ""
			},
		},
		{
			name:   "zero max jump distance",
			mutate: func(c *Config) { c.Thresholds.MaxJumpDistanceM = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted an invalid configuration")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleettrace.yaml")
	yaml := `
thresholds:
  min_speed_kmh: 2.5
  unreachable_after: 45s
watchdog:
  check_interval: 2s
storage:
  driver: badger
  badger:
    path: /tmp/fleettrace-test
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Thresholds.MinSpeedKmh != 2.5 {
		t.Errorf("MinSpeedKmh = %v, want 2.5", cfg.Thresholds.MinSpeedKmh)
	}
	if cfg.Thresholds.UnreachableAfter != 45*time.Second {
		t.Errorf("UnreachableAfter = %v, want 45s", cfg.Thresholds.UnreachableAfter)
	}
	// Untouched keys keep their defaults.
	if cfg.Thresholds.OfflineAfter != 10*time.Minute {
		t.Errorf("OfflineAfter = %v, want default 10m", cfg.Thresholds.OfflineAfter)
	}
	if cfg.Watchdog.CheckInterval != 2*time.Second {
		t.Errorf("CheckInterval = %v, want 2s", cfg.Watchdog.CheckInterval)
	}
	if cfg.Storage.Driver != "badger" || cfg.Storage.Badger.Path != "/tmp/fleettrace-test" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("FLEETTRACE_THRESHOLDS__MIN_SPEED_KMH", "3.0")
	t.Setenv("FLEETTRACE_LOGGING__LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load succeeded with a nonexistent explicit config path")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Thresholds.MinSpeedKmh != 3.0 {
		t.Errorf("MinSpeedKmh = %v, want env override 3.0", cfg.Thresholds.MinSpeedKmh)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestEnvKeyTransform(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"FLEETTRACE_THRESHOLDS__IDLE_AFTER", "thresholds.idle_after"},
		{"FLEETTRACE_STORAGE__DRIVER", "storage.driver"},
		{"FLEETTRACE_LOGGING__FILE_PATH", "logging.file_path"},
	}
	for _, tt := range tests {
		if got := envKeyTransform(tt.in); got != tt.want {
			t.Errorf("envKeyTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
