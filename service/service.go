// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package service composes the fleettrace engines behind a single facade. It
// owns the storage handle, the per-agent lock that serializes writes, and
// the suture supervisor running the watchdog.
//
// Lifecycle is uninitialized -> running -> shut down; every public operation
// outside running fails with ErrNotInitialized. A fresh Init after Shutdown
// restarts the service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/fleettrace/config"
	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/geofence"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/status"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/timeutil"
	"github.com/tomtom215/fleettrace/track"
	"github.com/tomtom215/fleettrace/watchdog"
)

// ErrNotInitialized is returned by every public operation before Init or
// after Shutdown.
var ErrNotInitialized = errors.New("service: not initialized")

// Service is the fleettrace facade.
type Service struct {
	cfg   *config.Config
	store storage.Driver
	clock timeutil.Clock
	log   zerolog.Logger

	location *track.Engine
	statuses *status.Engine
	zones    *geofence.Engine
	dog      *watchdog.Watchdog

	locks keyedMutex

	mu          sync.RWMutex
	initialized bool
	supCancel   context.CancelFunc
	supDone     <-chan error
}

// Option customizes service construction.
type Option func(*Service)

// WithClock injects a time source; tests use this to advance time
// deterministically.
func WithClock(clock timeutil.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// New builds a service over the given storage driver. Init must be called
// before use.
func New(cfg *config.Config, store storage.Driver, opts ...Option) *Service {
	s := &Service{
		cfg:   cfg,
		store: store,
		clock: timeutil.SystemClock{},
		log:   logging.With().Str("component", "service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.location = track.New(store, s.clock, track.Config{
		MaxJumpDistanceM: cfg.Thresholds.MaxJumpDistanceM,
	})
	s.statuses = status.New(store, s.clock, status.Thresholds{
		IdleAfter:        cfg.Thresholds.IdleAfter,
		UnreachableAfter: cfg.Thresholds.UnreachableAfter,
		OfflineAfter:     cfg.Thresholds.OfflineAfter,
		MinSpeedKmh:      cfg.Thresholds.MinSpeedKmh,
	})
	s.zones = geofence.New(store, s.clock)
	s.dog = watchdog.New(store, s.lockedTimeCheck, watchdog.Config{
		CheckInterval: cfg.Watchdog.CheckInterval,
		Workers:       cfg.Watchdog.Workers,
	})
	return s
}

// lockedTimeCheck is the CheckFunc handed to the watchdog: it holds the
// agent's lock around the time-driven evaluation so sweep writes and ingest
// writes for one agent never interleave.
func (s *Service) lockedTimeCheck(ctx context.Context, agentID string) error {
	unlock := s.locks.Lock(agentID)
	defer unlock()
	_, err := s.statuses.CheckByTime(ctx, agentID)
	return err
}

// Init connects storage and starts the watchdog under a supervisor. Calling
// Init on a running service is a no-op.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}

	if s.cfg.Watchdog.Enabled {
		handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
		sup := suture.New("fleettrace", suture.Spec{
			EventHook: handler.MustHook(),
		})
		sup.Add(s.dog)

		supCtx, cancel := context.WithCancel(context.Background())
		s.supCancel = cancel
		s.supDone = sup.ServeBackground(supCtx)
	}

	s.initialized = true
	s.log.Info().
		Bool("watchdog", s.cfg.Watchdog.Enabled).
		Bool("geofence", s.cfg.Geofence.Enabled).
		Msg("fleettrace service started")
	return nil
}

// Shutdown stops the watchdog, then disconnects storage. Idempotent: a
// second Shutdown is a no-op.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	if s.supCancel != nil {
		s.supCancel()
		select {
		case <-s.supDone:
		case <-ctx.Done():
			s.log.Warn().Msg("supervisor shutdown timed out")
		}
		s.supCancel = nil
		s.supDone = nil
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	s.log.Info().Msg("fleettrace service stopped")
	return nil
}

func (s *Service) checkInitialized() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Track ingests one observation for an agent and runs the full pipeline:
// location engine, status detection, geofence evaluation (when enabled), and
// the snapshot update. tsMs <= 0 means "now".
func (s *Service) Track(ctx context.Context, agentID string, lat, lon float64, tsMs int64, meta map[string]any) (*model.LocationSample, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()

	res, err := s.location.Track(ctx, agentID, lat, lon, tsMs, meta)
	if err != nil {
		return nil, err
	}
	sample := res.Sample

	newStatus, err := s.statuses.Detect(ctx, agentID, sample, res.Previous)
	if err != nil {
		return nil, err
	}

	if s.cfg.Geofence.Enabled {
		if err := s.zones.Check(ctx, agentID, sample); err != nil {
			return nil, err
		}
	}

	if err := s.updateSnapshot(ctx, agentID, sample, newStatus); err != nil {
		return nil, err
	}

	return sample, nil
}

// updateSnapshot writes the per-agent state snapshot last, after every other
// effect of the ingest.
func (s *Service) updateSnapshot(ctx context.Context, agentID string, sample *model.LocationSample, newStatus model.AgentStatus) error {
	prev, err := s.store.AgentState(ctx, agentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read snapshot: %w", err)
	}

	nowMs := timeutil.NowMillis(s.clock)
	next := &model.AgentState{
		AgentID:      agentID,
		Status:       newStatus,
		LastLocation: sample,
		LastUpdate:   nowMs,
	}
	if prev != nil {
		next.LastMovement = prev.LastMovement
		next.TotalDistanceTraveled = prev.TotalDistanceTraveled
	}
	if sample.SpeedKmh > 0 {
		next.LastMovement = nowMs
	}
	next.TotalDistanceTraveled += sample.DistanceDelta
	if s.cfg.Geofence.Enabled {
		next.ActiveGeofences = s.zones.AgentZoneIDs(agentID)
	}

	if err := s.store.SaveAgentState(ctx, next); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLocation returns the agent's last accepted sample.
func (s *Service) GetLocation(ctx context.Context, agentID string) (*model.LocationSample, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.location.CurrentLocation(ctx, agentID)
}

// GetStatus returns the agent's persisted status.
func (s *Service) GetStatus(ctx context.Context, agentID string) (model.AgentStatus, error) {
	if err := s.checkInitialized(); err != nil {
		return "", err
	}
	return s.store.Status(ctx, agentID)
}

// GetAgentState returns the agent's snapshot.
func (s *Service) GetAgentState(ctx context.Context, agentID string) (*model.AgentState, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.store.AgentState(ctx, agentID)
}

// GetAllAgents enumerates every known agent id.
func (s *Service) GetAllAgents(ctx context.Context) ([]string, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.store.Agents(ctx)
}

// SetStatus forces the agent into the given status.
func (s *Service) SetStatus(ctx context.Context, agentID string, st model.AgentStatus, reason string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()
	return s.statuses.Set(ctx, agentID, st, reason)
}

// RegisterGeofence validates and registers a zone.
func (s *Service) RegisterGeofence(zone model.Geofence) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.zones.Register(zone)
}

// RemoveGeofence removes a zone and clears it from all membership sets.
func (s *Service) RemoveGeofence(zoneID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.zones.Remove(zoneID)
	return nil
}

// GetGeofences returns every registered zone.
func (s *Service) GetGeofences() ([]model.Geofence, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.zones.Zones(), nil
}

// GetAgentGeofences returns the zones currently containing the agent.
func (s *Service) GetAgentGeofences(agentID string) ([]model.Geofence, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.zones.AgentZones(agentID), nil
}

// SubscribeEvents registers a handler with the storage driver's event
// fabric.
func (s *Service) SubscribeEvents(handler events.Handler) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.store.SubscribeEvents(handler)
}

// UnsubscribeEvents removes all handlers. Idempotent.
func (s *Service) UnsubscribeEvents() error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.store.UnsubscribeEvents()
}

// GetAgentStats returns the agent's ingest counters.
func (s *Service) GetAgentStats(ctx context.Context, agentID string) (*model.AgentStats, error) {
	if err := s.checkInitialized(); err != nil {
		return nil, err
	}
	return s.store.AgentStats(ctx, agentID)
}

// ClearAgentData removes every stored record and the zone memberships for
// the agent.
func (s *Service) ClearAgentData(ctx context.Context, agentID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()

	if err := s.store.ClearAgentData(ctx, agentID); err != nil {
		return err
	}
	s.zones.ClearAgent(agentID)
	return nil
}

// DistanceBetweenAgents returns the metres between two agents' last samples.
func (s *Service) DistanceBetweenAgents(ctx context.Context, a, b string) (float64, error) {
	if err := s.checkInitialized(); err != nil {
		return 0, err
	}
	return s.location.DistanceBetweenAgents(ctx, a, b)
}

// ForceWatchdogCheck re-evaluates one agent immediately.
func (s *Service) ForceWatchdogCheck(ctx context.Context, agentID string) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	return s.dog.ForceCheck(ctx, agentID)
}

// ForceWatchdogCheckAll runs one sweep immediately, synchronously with the
// caller.
func (s *Service) ForceWatchdogCheckAll(ctx context.Context) error {
	if err := s.checkInitialized(); err != nil {
		return err
	}
	s.dog.Sweep(ctx)
	return nil
}
