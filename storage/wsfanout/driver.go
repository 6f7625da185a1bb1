// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package wsfanout implements the storage driver contract as a websocket
// broadcaster: every published event is pushed to all connected websocket
// clients as a JSON frame, in addition to local in-process subscribers.
// Delivery is best-effort; the per-agent read model is a process-local
// mirror.
//
// The adapter exposes an http.Handler; the embedding application mounts it on
// whatever server it already runs:
//
//	drv := wsfanout.New()
//	mux.Handle("/ws/events", drv)
package wsfanout

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memstate"
)

// Driver is the websocket-broadcast storage backend.
type Driver struct {
	log      zerolog.Logger
	state    *memstate.Store
	fanout   *memstate.Fanout
	hub      *Hub
	upgrader websocket.Upgrader

	mu        sync.Mutex
	hubCancel context.CancelFunc
	hubDone   chan struct{}
	connected bool
}

var _ storage.Driver = (*Driver)(nil)
var _ http.Handler = (*Driver)(nil)

// New creates a websocket fan-out driver.
func New() *Driver {
	log := logging.With().Str("component", "storage.wsfanout").Logger()
	return &Driver{
		log:    log,
		state:  memstate.New(),
		fanout: memstate.NewFanout(log),
		hub:    NewHub(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Connect starts the hub loop.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.hubCancel = cancel
	d.hubDone = make(chan struct{})
	go func() {
		defer close(d.hubDone)
		d.hub.Run(ctx)
	}()
	d.connected = true
	return nil
}

// Close stops the hub, disconnecting every client. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false

	d.hubCancel()
	<-d.hubDone
	d.fanout.Unsubscribe()
	return nil
}

// ServeHTTP upgrades the request and registers the client with the hub.
func (d *Driver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(d.hub, conn)
	select {
	case d.hub.register <- client:
		client.Start()
	case <-d.hub.done:
		_ = conn.Close()
	}
}

// ClientCount returns the number of connected websocket clients.
func (d *Driver) ClientCount() int {
	return d.hub.ClientCount()
}

func (d *Driver) checkConnected() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return storage.ErrClosed
	}
	return nil
}

func (d *Driver) SaveLocation(_ context.Context, agentID string, sample *model.LocationSample) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveLocation(agentID, sample)
	return nil
}

func (d *Driver) LastLocation(_ context.Context, agentID string) (*model.LocationSample, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.LastLocation(agentID)
}

func (d *Driver) SaveStatus(_ context.Context, agentID string, status model.AgentStatus, _ int64) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveStatus(agentID, status)
	return nil
}

func (d *Driver) Status(_ context.Context, agentID string) (model.AgentStatus, error) {
	if err := d.checkConnected(); err != nil {
		return "", err
	}
	return d.state.Status(agentID)
}

func (d *Driver) SaveAgentState(_ context.Context, state *model.AgentState) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveState(state)
	return nil
}

func (d *Driver) AgentState(_ context.Context, agentID string) (*model.AgentState, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.State(agentID)
}

func (d *Driver) Agents(_ context.Context) ([]string, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.Agents(), nil
}

// PublishEvent dispatches to local subscribers synchronously, then queues the
// envelope for websocket broadcast.
func (d *Driver) PublishEvent(_ context.Context, env *events.Envelope) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(env.Type).Inc()
	d.fanout.Dispatch(env)
	d.hub.Broadcast(env)
	return nil
}

func (d *Driver) SubscribeEvents(handler events.Handler) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.fanout.Subscribe(handler)
	return nil
}

func (d *Driver) UnsubscribeEvents() error {
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) AgentStats(_ context.Context, agentID string) (*model.AgentStats, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.Stats(agentID)
}

func (d *Driver) ClearAgentData(_ context.Context, agentID string) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.Clear(agentID)
	return nil
}
