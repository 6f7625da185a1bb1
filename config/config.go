// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package config defines fleettrace configuration and its koanf-based
// loading: struct defaults first, then an optional YAML file, then
// FLEETTRACE_* environment variables.
package config

import (
	"time"

	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/storage/badgerdb"
	"github.com/tomtom215/fleettrace/storage/kafkabroker"
	"github.com/tomtom215/fleettrace/storage/natsstream"
)

// Config is the root configuration.
type Config struct {
	Thresholds Thresholds     `koanf:"thresholds"`
	Watchdog   Watchdog       `koanf:"watchdog"`
	Geofence   Geofence       `koanf:"geofence"`
	Logging    logging.Config `koanf:"logging"`
	Storage    Storage        `koanf:"storage"`
}

// Thresholds drive the status state machine and the anomaly detector.
type Thresholds struct {
	// IdleAfter is the movement inactivity that turns ACTIVE/MOVING into
	// IDLE via the watchdog.
	IdleAfter time.Duration `koanf:"idle_after" validate:"gt=0"`

	// UnreachableAfter is the update silence that turns an agent
	// UNREACHABLE; on ingest it is also the silence span after which a fresh
	// sample is treated as "back online".
	UnreachableAfter time.Duration `koanf:"unreachable_after" validate:"gt=0"`

	// OfflineAfter is the update silence that turns an agent OFFLINE.
	OfflineAfter time.Duration `koanf:"offline_after" validate:"gt=0"`

	// MinSpeedKmh is the speed at or above which a sample classifies the
	// agent as MOVING rather than STOPPED.
	MinSpeedKmh float64 `koanf:"min_speed_kmh" validate:"gte=0"`

	// MaxJumpDistanceM flags a sample as anomalous when exceeded across one
	// second or more. Advisory only; flagged samples are still accepted.
	MaxJumpDistanceM float64 `koanf:"max_jump_distance_m" validate:"gt=0"`
}

// Watchdog configures the background status sweeper.
type Watchdog struct {
	Enabled       bool          `koanf:"enabled"`
	CheckInterval time.Duration `koanf:"check_interval"`

	// Workers bounds per-agent parallelism within one sweep.
	Workers int `koanf:"workers" validate:"gte=1"`
}

// Geofence configures zone evaluation during ingest.
type Geofence struct {
	Enabled bool `koanf:"enabled"`
}

// Storage selects and configures the backend driver.
type Storage struct {
	// Driver names the backend: memory, badger, nats, kafka, websocket.
	Driver string `koanf:"driver" validate:"required,oneof=memory badger nats kafka websocket"`

	Badger badgerdb.Config    `koanf:"badger"`
	NATS   natsstream.Config  `koanf:"nats"`
	Kafka  kafkabroker.Config `koanf:"kafka"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			IdleAfter:        5 * time.Minute,
			UnreachableAfter: 30 * time.Second,
			OfflineAfter:     10 * time.Minute,
			MinSpeedKmh:      1.5,
			MaxJumpDistanceM: 300,
		},
		Watchdog: Watchdog{
			Enabled:       true,
			CheckInterval: 5 * time.Second,
			Workers:       8,
		},
		Geofence: Geofence{
			Enabled: true,
		},
		Logging: logging.DefaultConfig(),
		Storage: Storage{
			Driver: "memory",
			Badger: badgerdb.Config{Path: "data/fleettrace"},
			NATS:   natsstream.DefaultConfig(),
			Kafka:  kafkabroker.DefaultConfig(),
		},
	}
}
