// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks tag constraints plus the cross-field rules the tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", verrs)
		}
		return fmt.Errorf("validate configuration: %w", err)
	}

	t := cfg.Thresholds
	if t.OfflineAfter <= t.UnreachableAfter {
		return fmt.Errorf("invalid configuration: offline_after (%s) must exceed unreachable_after (%s)",
			t.OfflineAfter, t.UnreachableAfter)
	}

	if cfg.Watchdog.Enabled && cfg.Watchdog.CheckInterval <= 0 {
		return errors.New("invalid configuration: watchdog.check_interval must be positive when the watchdog is enabled")
	}

	switch cfg.Storage.Driver {
	case "badger":
		if !cfg.Storage.Badger.InMemory && cfg.Storage.Badger.Path == "" {
			return errors.New("invalid configuration: storage.badger.path is required")
		}
	case "nats":
		if cfg.Storage.NATS.URL == "" {
			return errors.New("invalid configuration: storage.nats.url is required")
		}
	case "kafka":
		if cfg.Storage.Kafka.Brokers == "" {
			return errors.New("invalid configuration: storage.kafka.brokers is required")
		}
	}

	return nil
}
