// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package wsfanout

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func dialClient(t *testing.T, d *Driver) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the hub to register the client.
	deadline := time.After(2 * time.Second)
	for d.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return conn
}

func TestBroadcastReachesWebsocketClient(t *testing.T) {
	d := newConnected(t)
	conn := dialClient(t, d)

	env, err := events.New(events.TypeAgentEnteredGeofence, time.Now(), events.GeofenceTransition{
		AgentID:   "a",
		ZoneID:    "z",
		ZoneName:  "Depot",
		Direction: events.DirectionEnter,
	})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	if err := d.PublishEvent(context.Background(), env); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame events.Envelope
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.Type != events.TypeAgentEnteredGeofence || frame.EventID != env.EventID {
		t.Errorf("frame = %+v", frame)
	}

	payload, err := events.DecodePayload[events.GeofenceTransition](&frame)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.ZoneID != "z" || payload.Direction != events.DirectionEnter {
		t.Errorf("payload = %+v", payload)
	}
}

func TestLocalSubscribersStillReceive(t *testing.T) {
	d := newConnected(t)

	var got []*events.Envelope
	if err := d.SubscribeEvents(func(env *events.Envelope) { got = append(got, env) }); err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}

	env, _ := events.New(events.TypeAgentIdle, time.Now(), events.StatusAlert{AgentID: "a", Status: model.StatusIdle})
	if err := d.PublishEvent(context.Background(), env); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	// Local dispatch is synchronous.
	if len(got) != 1 {
		t.Errorf("local handlers received %d events, want 1", len(got))
	}
}

func TestStateMirror(t *testing.T) {
	d := newConnected(t)
	ctx := context.Background()

	if err := d.SaveLocation(ctx, "a", &model.LocationSample{AgentID: "a", Timestamp: 1000, DistanceDelta: 10}); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}
	if _, err := d.LastLocation(ctx, "a"); err != nil {
		t.Errorf("LastLocation: %v", err)
	}

	stats, err := d.AgentStats(ctx, "a")
	if err != nil || stats.TotalLocations != 1 {
		t.Errorf("stats = %+v, %v", stats, err)
	}

	if err := d.ClearAgentData(ctx, "a"); err != nil {
		t.Fatalf("ClearAgentData: %v", err)
	}
	if _, err := d.LastLocation(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("location survived clear")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	d := newConnected(t)
	conn := dialClient(t, d)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			// Close frame or dropped connection, either way the client is
			// disconnected.
			return
		}
	}
}
