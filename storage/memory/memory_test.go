// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
)

func newConnected(t *testing.T) *Driver {
	t.Helper()
	d := New()
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return d
}

func TestDriverLocationRoundTrip(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	if _, err := d.LastLocation(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LastLocation for unknown agent: %v, want ErrNotFound", err)
	}

	sample := &model.LocationSample{AgentID: "a", Latitude: 40.7, Longitude: -74.0, Timestamp: 1000, DistanceDelta: 50}
	if err := d.SaveLocation(ctx, "a", sample); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}

	got, err := d.LastLocation(ctx, "a")
	if err != nil {
		t.Fatalf("LastLocation: %v", err)
	}
	if got.Latitude != 40.7 || got.Timestamp != 1000 {
		t.Errorf("LastLocation = %+v", got)
	}

	stats, err := d.AgentStats(ctx, "a")
	if err != nil {
		t.Fatalf("AgentStats: %v", err)
	}
	if stats.TotalLocations != 1 || stats.TotalDistance != 50 || stats.LastUpdate != 1000 {
		t.Errorf("stats = %+v, want 1 location, 50m, ts 1000", stats)
	}
}

func TestDriverStatusAndState(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	if _, err := d.Status(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Status for unknown agent: %v, want ErrNotFound", err)
	}

	if err := d.SaveStatus(ctx, "a", model.StatusMoving, 2000); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	st, err := d.Status(ctx, "a")
	if err != nil || st != model.StatusMoving {
		t.Errorf("Status = %v, %v; want moving", st, err)
	}

	state := &model.AgentState{AgentID: "a", Status: model.StatusMoving, LastUpdate: 2000}
	if err := d.SaveAgentState(ctx, state); err != nil {
		t.Fatalf("SaveAgentState: %v", err)
	}
	got, err := d.AgentState(ctx, "a")
	if err != nil || got.Status != model.StatusMoving {
		t.Errorf("AgentState = %+v, %v", got, err)
	}
}

func TestDriverPublishIsSynchronous(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	var received []*events.Envelope
	if err := d.SubscribeEvents(func(env *events.Envelope) {
		received = append(received, env)
	}); err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}

	env, err := events.New(events.TypeLocationReceived, time.Now(), events.LocationReceived{AgentID: "a"})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	if err := d.PublishEvent(ctx, env); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	// In-memory delivery is synchronous: the handler has run by now.
	if len(received) != 1 || received[0].EventID != env.EventID {
		t.Errorf("received = %v, want the published envelope", received)
	}
}

func TestDriverUnsubscribeIsIdempotent(t *testing.T) {
	d := newConnected(t)

	if err := d.UnsubscribeEvents(); err != nil {
		t.Fatalf("first UnsubscribeEvents: %v", err)
	}
	if err := d.UnsubscribeEvents(); err != nil {
		t.Fatalf("second UnsubscribeEvents: %v", err)
	}
}

func TestDriverClearAgentData(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	_ = d.SaveLocation(ctx, "a", &model.LocationSample{AgentID: "a", Timestamp: 1})
	_ = d.SaveStatus(ctx, "a", model.StatusActive, 1)
	_ = d.SaveAgentState(ctx, &model.AgentState{AgentID: "a"})

	if err := d.ClearAgentData(ctx, "a"); err != nil {
		t.Fatalf("ClearAgentData: %v", err)
	}

	if _, err := d.LastLocation(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("location survived clear")
	}
	if _, err := d.Status(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("status survived clear")
	}
	if _, err := d.AgentState(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("state survived clear")
	}
	if _, err := d.AgentStats(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("stats survived clear")
	}

	agents, err := d.Agents(ctx)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("Agents = %v, want empty", agents)
	}
}

func TestDriverClosedRejectsOperations(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := d.SaveLocation(ctx, "a", &model.LocationSample{AgentID: "a", Timestamp: 1}); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("SaveLocation on closed driver: %v, want ErrClosed", err)
	}
	if _, err := d.Agents(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Agents on closed driver: %v, want ErrClosed", err)
	}

	// Reconnect starts fresh.
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	agents, err := d.Agents(ctx)
	if err != nil {
		t.Fatalf("Agents after reconnect: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("Agents after reconnect = %v, want empty", agents)
	}
}
