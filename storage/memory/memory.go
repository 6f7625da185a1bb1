// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package memory implements the storage driver contract entirely in process
// memory. Event delivery is synchronous fan-out to all subscribers. This is
// the development and test backend; nothing survives a restart.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memstate"
)

// Driver is the in-memory storage backend.
type Driver struct {
	state  *memstate.Store
	fanout *memstate.Fanout
	closed atomic.Bool
	log    zerolog.Logger
}

var _ storage.Driver = (*Driver)(nil)

// New creates an in-memory driver.
func New() *Driver {
	log := logging.With().Str("component", "storage.memory").Logger()
	return &Driver{
		state:  memstate.New(),
		fanout: memstate.NewFanout(log),
		log:    log,
	}
}

// Connect is a no-op for the in-memory backend; it also reopens a previously
// closed driver with fresh state.
func (d *Driver) Connect(_ context.Context) error {
	if d.closed.Swap(false) {
		d.state = memstate.New()
	}
	return nil
}

// Close drops all subscribers. Idempotent.
func (d *Driver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) SaveLocation(_ context.Context, agentID string, sample *model.LocationSample) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	d.state.SaveLocation(agentID, sample)
	return nil
}

func (d *Driver) LastLocation(_ context.Context, agentID string) (*model.LocationSample, error) {
	if d.closed.Load() {
		return nil, storage.ErrClosed
	}
	return d.state.LastLocation(agentID)
}

func (d *Driver) SaveStatus(_ context.Context, agentID string, status model.AgentStatus, _ int64) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	d.state.SaveStatus(agentID, status)
	return nil
}

func (d *Driver) Status(_ context.Context, agentID string) (model.AgentStatus, error) {
	if d.closed.Load() {
		return "", storage.ErrClosed
	}
	return d.state.Status(agentID)
}

func (d *Driver) SaveAgentState(_ context.Context, state *model.AgentState) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	d.state.SaveState(state)
	return nil
}

func (d *Driver) AgentState(_ context.Context, agentID string) (*model.AgentState, error) {
	if d.closed.Load() {
		return nil, storage.ErrClosed
	}
	return d.state.State(agentID)
}

func (d *Driver) Agents(_ context.Context) ([]string, error) {
	if d.closed.Load() {
		return nil, storage.ErrClosed
	}
	return d.state.Agents(), nil
}

// PublishEvent delivers the envelope synchronously to every subscriber.
func (d *Driver) PublishEvent(_ context.Context, env *events.Envelope) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	metrics.EventsPublished.WithLabelValues(env.Type).Inc()
	d.fanout.Dispatch(env)
	return nil
}

func (d *Driver) SubscribeEvents(handler events.Handler) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	d.fanout.Subscribe(handler)
	return nil
}

func (d *Driver) UnsubscribeEvents() error {
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) AgentStats(_ context.Context, agentID string) (*model.AgentStats, error) {
	if d.closed.Load() {
		return nil, storage.ErrClosed
	}
	return d.state.Stats(agentID)
}

func (d *Driver) ClearAgentData(_ context.Context, agentID string) error {
	if d.closed.Load() {
		return storage.ErrClosed
	}
	d.state.Clear(agentID)
	return nil
}
