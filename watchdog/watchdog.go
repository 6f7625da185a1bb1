// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package watchdog implements the periodic sweeper that drives time-based
// status transitions for every known agent. It runs as a suture.Service
// under the service facade's supervisor and cancels deterministically on
// shutdown.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
)

// AgentLister enumerates known agents; the storage driver satisfies it.
type AgentLister interface {
	Agents(ctx context.Context) ([]string, error)
}

// CheckFunc re-evaluates one agent. The facade supplies a function that
// holds the agent's lock around the status engine's time check, so sweep
// writes never interleave with ingest writes for the same agent.
type CheckFunc func(ctx context.Context, agentID string) error

// Config holds sweeper configuration.
type Config struct {
	// CheckInterval is the sweep period.
	CheckInterval time.Duration

	// Workers bounds per-agent parallelism within one sweep.
	Workers int
}

// Watchdog is the periodic status sweeper.
type Watchdog struct {
	agents AgentLister
	check  CheckFunc
	cfg    Config
	log    zerolog.Logger
}

// New creates a watchdog.
func New(agents AgentLister, check CheckFunc, cfg Config) *Watchdog {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	return &Watchdog{
		agents: agents,
		check:  check,
		cfg:    cfg,
		log:    logging.With().Str("component", "watchdog").Logger(),
	}
}

// String names the service in supervisor logs.
func (w *Watchdog) String() string { return "watchdog" }

// Serve runs one sweep per tick until the context is canceled. Sweeps run
// synchronously within the loop, so a slow sweep delays the next tick rather
// than overlapping it.
func (w *Watchdog) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	w.log.Info().
		Dur("check_interval", w.cfg.CheckInterval).
		Int("workers", w.cfg.Workers).
		Msg("watchdog started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// ForceCheck re-evaluates one agent immediately, synchronously with the
// caller.
func (w *Watchdog) ForceCheck(ctx context.Context, agentID string) error {
	return w.check(ctx, agentID)
}

// Sweep re-evaluates every known agent once. Per-agent failures are logged
// and isolated; one failing agent never aborts the rest of the sweep.
// Different agents are processed in parallel, bounded by Workers.
func (w *Watchdog) Sweep(ctx context.Context) {
	start := time.Now()

	ids, err := w.agents.Agents(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("watchdog sweep: agent enumeration failed")
		return
	}

	sem := make(chan struct{}, w.cfg.Workers)
	var wg sync.WaitGroup
	for _, agentID := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.checkOne(ctx, id)
		}(agentID)
	}
	wg.Wait()

	metrics.WatchdogSweeps.Inc()
	metrics.WatchdogSweepDuration.Observe(time.Since(start).Seconds())
	w.log.Debug().
		Int("agents", len(ids)).
		Dur("elapsed", time.Since(start)).
		Msg("watchdog sweep complete")
}

func (w *Watchdog) checkOne(ctx context.Context, agentID string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WatchdogAgentFailures.Inc()
			w.log.Error().
				Str("agent_id", agentID).
				Interface("panic", r).
				Msg("watchdog check panicked")
		}
	}()

	if err := w.check(ctx, agentID); err != nil {
		metrics.WatchdogAgentFailures.Inc()
		w.log.Error().Err(err).Str("agent_id", agentID).Msg("watchdog check failed")
	}
}
