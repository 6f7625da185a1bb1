// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Command fleettraced runs a fleettrace service with the configured storage
// backend and logs every published event until interrupted. It is the
// minimal host process; production deployments embed the service package
// behind their own transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/fleettrace/config"
	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/service"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/badgerdb"
	"github.com/tomtom215/fleettrace/storage/kafkabroker"
	"github.com/tomtom215/fleettrace/storage/memory"
	"github.com/tomtom215/fleettrace/storage/natsstream"
	"github.com/tomtom215/fleettrace/storage/wsfanout"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fleettraced: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	store, err := buildDriver(cfg)
	if err != nil {
		return err
	}

	svc := service.New(cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Init(ctx); err != nil {
		return err
	}

	if err := svc.SubscribeEvents(func(env *events.Envelope) {
		logging.Info().
			Str("type", env.Type).
			Str("event_id", env.EventID).
			RawJSON("payload", env.Payload).
			Msg("event")
	}); err != nil {
		return err
	}

	logging.Info().Str("storage", cfg.Storage.Driver).Msg("fleettraced running, ctrl-c to stop")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

func buildDriver(cfg *config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "badger":
		return badgerdb.New(cfg.Storage.Badger), nil
	case "nats":
		return natsstream.New(cfg.Storage.NATS), nil
	case "kafka":
		return kafkabroker.New(cfg.Storage.Kafka), nil
	case "websocket":
		return wsfanout.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
