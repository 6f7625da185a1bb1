// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package geofence maintains the zone registry and each agent's membership
// set, and emits enter/exit events when a fresh sample changes membership.
// The membership index kept here is the single source of truth for zone
// presence.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/geo"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/timeutil"
)

// ErrInvalidGeofence rejects zone definitions that fail validation.
var ErrInvalidGeofence = errors.New("geofence: invalid geofence")

// ErrNotFound is returned for queries against unknown zones.
var ErrNotFound = errors.New("geofence: not found")

// Engine owns the zone registry and the per-agent membership index.
type Engine struct {
	store storage.Driver
	clock timeutil.Clock
	log   zerolog.Logger

	mu          sync.RWMutex
	zones       map[string]model.Geofence
	memberships map[string]map[string]struct{}
}

// New creates a geofence engine.
func New(store storage.Driver, clock timeutil.Clock) *Engine {
	return &Engine{
		store:       store,
		clock:       clock,
		log:         logging.With().Str("component", "geofence").Logger(),
		zones:       make(map[string]model.Geofence),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register validates and inserts (or overwrites) a zone. Memberships are not
// recomputed retroactively; they update on the next Check for each agent.
func (e *Engine) Register(zone model.Geofence) error {
	ok, problems := geo.ValidateGeofence(zone)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidGeofence, strings.Join(problems, "; "))
	}

	e.mu.Lock()
	e.zones[zone.ID()] = zone
	n := len(e.zones)
	e.mu.Unlock()

	metrics.RegisteredGeofences.Set(float64(n))
	e.log.Info().
		Str("zone_id", zone.ID()).
		Str("zone_name", zone.Name()).
		Str("kind", string(zone.Kind())).
		Msg("geofence registered")
	return nil
}

// Remove erases the zone from the registry and from every agent's membership
// set. No exit events are emitted: removal is an administrative operation,
// not a movement.
func (e *Engine) Remove(zoneID string) {
	e.mu.Lock()
	delete(e.zones, zoneID)
	for _, members := range e.memberships {
		delete(members, zoneID)
	}
	n := len(e.zones)
	e.mu.Unlock()

	metrics.RegisteredGeofences.Set(float64(n))
	e.log.Info().Str("zone_id", zoneID).Msg("geofence removed")
}

// Check evaluates the sample against every registered zone, emits one event
// per membership delta, and replaces the agent's membership set. Enter and
// exit emissions for an (agent, zone) pair strictly alternate.
func (e *Engine) Check(ctx context.Context, agentID string, sample *model.LocationSample) error {
	point := sample.Coordinate()

	e.mu.Lock()
	next := make(map[string]struct{})
	for id, zone := range e.zones {
		if geo.PointInGeofence(point, zone) {
			next[id] = struct{}{}
		}
	}
	current := e.memberships[agentID]

	var entered, exited []model.Geofence
	for id := range next {
		if _, ok := current[id]; !ok {
			entered = append(entered, e.zones[id])
		}
	}
	for id := range current {
		if _, ok := next[id]; !ok {
			if zone, ok := e.zones[id]; ok {
				exited = append(exited, zone)
			}
		}
	}
	e.memberships[agentID] = next
	e.mu.Unlock()

	sort.Slice(entered, func(i, j int) bool { return entered[i].ID() < entered[j].ID() })
	sort.Slice(exited, func(i, j int) bool { return exited[i].ID() < exited[j].ID() })

	for _, zone := range entered {
		if err := e.emit(ctx, events.TypeAgentEnteredGeofence, events.DirectionEnter, agentID, zone, sample); err != nil {
			return err
		}
	}
	for _, zone := range exited {
		if err := e.emit(ctx, events.TypeAgentExitedGeofence, events.DirectionExit, agentID, zone, sample); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, eventType, direction, agentID string, zone model.Geofence, sample *model.LocationSample) error {
	metrics.GeofenceTransitions.WithLabelValues(direction).Inc()

	now := e.clock.Now()
	env, err := events.New(eventType, now, events.GeofenceTransition{
		AgentID:   agentID,
		ZoneID:    zone.ID(),
		ZoneName:  zone.Name(),
		Sample:    *sample,
		Timestamp: now.UnixMilli(),
		Direction: direction,
	})
	if err != nil {
		return err
	}
	if err := e.store.PublishEvent(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Zones returns every registered zone, sorted by id.
func (e *Engine) Zones() []model.Geofence {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Geofence, 0, len(e.zones))
	for _, z := range e.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Zone returns a single zone by id.
func (e *Engine) Zone(zoneID string) (model.Geofence, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	zone, ok := e.zones[zoneID]
	if !ok {
		return nil, fmt.Errorf("%w: zone %q", ErrNotFound, zoneID)
	}
	return zone, nil
}

// AgentZones returns the full zone records the agent is currently inside,
// sorted by id.
func (e *Engine) AgentZones(agentID string) []model.Geofence {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Geofence, 0, len(e.memberships[agentID]))
	for id := range e.memberships[agentID] {
		if zone, ok := e.zones[id]; ok {
			out = append(out, zone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AgentZoneIDs returns the ids of zones the agent is currently inside,
// sorted.
func (e *Engine) AgentZoneIDs(agentID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.memberships[agentID]))
	for id := range e.memberships[agentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AgentInZone reports whether the agent's membership set contains the zone.
func (e *Engine) AgentInZone(agentID, zoneID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.memberships[agentID][zoneID]
	return ok
}

// AgentsInZone returns the agents currently inside the zone, sorted.
func (e *Engine) AgentsInZone(zoneID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for agentID, members := range e.memberships {
		if _, ok := members[zoneID]; ok {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out
}

// ClearAgent drops the agent's membership set without emitting events.
func (e *Engine) ClearAgent(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.memberships, agentID)
}
