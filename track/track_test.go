// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package track

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memory"
	"github.com/tomtom215/fleettrace/timeutil"
)

type recorder struct {
	mu   sync.Mutex
	envs []*events.Envelope
}

func (r *recorder) handler(env *events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

const nowMs = int64(1700000000000)

func newEngine(t *testing.T) (*Engine, *memory.Driver, *recorder) {
	t.Helper()
	store := memory.New()
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec := &recorder{}
	if err := store.SubscribeEvents(rec.handler); err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	clock := timeutil.ClockFunc(func() time.Time { return time.UnixMilli(nowMs) })
	return New(store, clock, Config{MaxJumpDistanceM: 300}), store, rec
}

func TestTrackRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		agentID  string
		lat, lon float64
	}{
		{"empty agent id", "", 40.7, -74.0},
		{"latitude out of range", "a", 91, 0},
		{"longitude out of range", "a", 0, 181},
		{"NaN latitude", "a", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, rec := newEngine(t)
			ctx := context.Background()

			_, err := e.Track(ctx, tt.agentID, tt.lat, tt.lon, nowMs, nil)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Track() error = %v, want ErrInvalidInput", err)
			}

			// Nothing persisted, nothing published.
			if tt.agentID != "" {
				if _, err := store.LastLocation(ctx, tt.agentID); !errors.Is(err, storage.ErrNotFound) {
					t.Error("rejected sample was persisted")
				}
			}
			if rec.count() != 0 {
				t.Error("rejected sample published an event")
			}
		})
	}
}

func TestTrackFirstSample(t *testing.T) {
	e, store, rec := newEngine(t)
	ctx := context.Background()

	res, err := e.Track(ctx, "a", 40.7128, -74.0060, nowMs, map[string]any{"source": "gps"})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	s := res.Sample
	if s.Latitude != 40.7128 || s.Longitude != -74.0060 || s.Timestamp != nowMs {
		t.Errorf("sample = %+v", s)
	}
	if s.SpeedKmh != 0 || s.Heading != nil || s.DistanceDelta != 0 {
		t.Errorf("first sample has derived metrics: %+v", s)
	}
	if res.Previous != nil {
		t.Error("first sample reported a previous sample")
	}
	if s.Metadata["source"] != "gps" {
		t.Error("metadata dropped")
	}

	persisted, err := store.LastLocation(ctx, "a")
	if err != nil || persisted.Timestamp != nowMs {
		t.Errorf("persisted = %+v, %v", persisted, err)
	}
	if rec.count() != 1 {
		t.Fatalf("events = %d, want 1 location.received", rec.count())
	}
}

func TestTrackDerivesMetrics(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.Track(ctx, "a", 40.7128, -74.0060, nowMs-60000, nil); err != nil {
		t.Fatalf("Track: %v", err)
	}
	res, err := e.Track(ctx, "a", 40.7228, -74.0060, nowMs, nil)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	s := res.Sample

	// 0.01 degrees of latitude in 60s: ~1111m, ~66.7 km/h, due north.
	if math.Abs(s.DistanceDelta-1111) > 10 {
		t.Errorf("DistanceDelta = %v, want ~1111", s.DistanceDelta)
	}
	if math.Abs(s.SpeedKmh-66.7) > 1 {
		t.Errorf("SpeedKmh = %v, want ~66.7", s.SpeedKmh)
	}
	if s.Heading == nil || math.Abs(*s.Heading) > 0.5 {
		t.Errorf("Heading = %v, want ~0 (north)", s.Heading)
	}
	if res.Previous == nil || res.Previous.Timestamp != nowMs-60000 {
		t.Errorf("Previous = %+v", res.Previous)
	}
}

func TestTrackSuppressesHeadingForJitter(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.Track(ctx, "a", 40.7128, -74.0060, nowMs-10000, nil); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// A fraction of a metre of drift: no heading.
	res, err := e.Track(ctx, "a", 40.712800001, -74.0060, nowMs, nil)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if res.Sample.Heading != nil {
		t.Errorf("Heading = %v for sub-metre drift, want nil", *res.Sample.Heading)
	}
}

func TestTrackSubstitutesBadTimestamps(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
	}{
		{"zero", 0},
		{"negative", -100},
		{"too far in the future", nowMs + 61_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newEngine(t)
			res, err := e.Track(context.Background(), "a", 40.7, -74.0, tt.ts, nil)
			if err != nil {
				t.Fatalf("Track: %v", err)
			}
			if res.Sample.Timestamp != nowMs {
				t.Errorf("Timestamp = %d, want substituted now (%d)", res.Sample.Timestamp, nowMs)
			}
		})
	}
}

func TestTrackAcceptsAbnormalJump(t *testing.T) {
	e, store, rec := newEngine(t)
	ctx := context.Background()

	if _, err := e.Track(ctx, "a", 40.7128, -74.0060, nowMs-10000, nil); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// ~5.5 km in 10 s: flagged, but still accepted.
	res, err := e.Track(ctx, "a", 40.7628, -74.0060, nowMs, nil)
	if err != nil {
		t.Fatalf("Track rejected an anomalous sample: %v", err)
	}
	if res.Sample.DistanceDelta < 5000 {
		t.Errorf("DistanceDelta = %v, want > 5000", res.Sample.DistanceDelta)
	}

	persisted, err := store.LastLocation(ctx, "a")
	if err != nil || persisted.Timestamp != nowMs {
		t.Error("anomalous sample was not persisted")
	}
	if rec.count() != 2 {
		t.Errorf("events = %d, want 2", rec.count())
	}
}

func TestTrackAccumulatesStats(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	_, _ = e.Track(ctx, "a", 40.7128, -74.0060, nowMs-120000, nil)
	_, _ = e.Track(ctx, "a", 40.7228, -74.0060, nowMs-60000, nil)
	_, _ = e.Track(ctx, "a", 40.7328, -74.0060, nowMs, nil)

	stats, err := store.AgentStats(ctx, "a")
	if err != nil {
		t.Fatalf("AgentStats: %v", err)
	}
	if stats.TotalLocations != 3 {
		t.Errorf("TotalLocations = %d, want 3", stats.TotalLocations)
	}
	// Two segments of ~1111m each.
	if math.Abs(stats.TotalDistance-2223) > 20 {
		t.Errorf("TotalDistance = %v, want ~2223", stats.TotalDistance)
	}
}

func TestCurrentLocationAndDistanceBetweenAgents(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.CurrentLocation(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CurrentLocation(ghost): %v, want ErrNotFound", err)
	}
	if _, err := e.DistanceBetweenAgents(ctx, "ghost", "ghost2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DistanceBetweenAgents with no samples: %v, want ErrNotFound", err)
	}

	_, _ = e.Track(ctx, "a", 40.7128, -74.0060, nowMs, nil)
	_, _ = e.Track(ctx, "b", 40.7228, -74.0060, nowMs, nil)

	d, err := e.DistanceBetweenAgents(ctx, "a", "b")
	if err != nil {
		t.Fatalf("DistanceBetweenAgents: %v", err)
	}
	if math.Abs(d-1111) > 10 {
		t.Errorf("distance = %v, want ~1111", d)
	}
}
