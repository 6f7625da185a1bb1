// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package track implements the location-processing pipeline: validate the
// raw observation, derive movement metrics against the previous sample,
// persist, and publish location.received.
package track

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/geo"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/timeutil"
)

// ErrInvalidInput rejects empty agent ids and out-of-range coordinates.
// Nothing is persisted when a call fails with this error.
var ErrInvalidInput = errors.New("track: invalid input")

// Config holds the location-engine thresholds.
type Config struct {
	// MaxJumpDistanceM flags displacements above this (across >= 1s) as
	// anomalous. Advisory: flagged samples are accepted.
	MaxJumpDistanceM float64
}

// Engine is the location-processing pipeline.
type Engine struct {
	store storage.Driver
	clock timeutil.Clock
	cfg   Config
	log   zerolog.Logger
}

// Result carries the accepted sample together with the previous one, so the
// status engine can classify the transition without re-reading storage.
type Result struct {
	Sample   *model.LocationSample
	Previous *model.LocationSample
}

// New creates a location engine.
func New(store storage.Driver, clock timeutil.Clock, cfg Config) *Engine {
	return &Engine{
		store: store,
		clock: clock,
		cfg:   cfg,
		log:   logging.With().Str("component", "track").Logger(),
	}
}

// Track runs the ingest pipeline for one observation.
//
// The timestamp is ms since epoch; zero, negative, or far-future values are
// replaced with the current time. An abnormal jump is logged and counted but
// never rejects the sample.
func (e *Engine) Track(ctx context.Context, agentID string, lat, lon float64, tsMs int64, meta map[string]any) (*Result, error) {
	if agentID == "" {
		metrics.SamplesRejected.WithLabelValues("empty_agent_id").Inc()
		return nil, fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}
	if !geo.ValidCoordinate(lat, lon) {
		metrics.SamplesRejected.WithLabelValues("invalid_coordinate").Inc()
		return nil, fmt.Errorf("%w: coordinate (%v, %v) out of range", ErrInvalidInput, lat, lon)
	}

	nowMs := timeutil.NowMillis(e.clock)
	if !timeutil.SaneTimestamp(tsMs, nowMs) {
		tsMs = nowMs
	}

	prev, err := e.store.LastLocation(ctx, agentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read last location: %w", err)
	}

	sample := &model.LocationSample{
		AgentID:   agentID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: tsMs,
		Metadata:  meta,
	}

	if prev != nil {
		from := prev.Coordinate()
		to := sample.Coordinate()
		distance := geo.Distance(from, to)
		dt := tsMs - prev.Timestamp

		if geo.AbnormalJump(distance, dt, e.cfg.MaxJumpDistanceM) {
			metrics.AbnormalJumps.Inc()
			e.log.Warn().
				Str("agent_id", agentID).
				Float64("distance_m", distance).
				Int64("dt_ms", dt).
				Float64("max_jump_m", e.cfg.MaxJumpDistanceM).
				Msg("abnormal location jump")
		}

		sample.DistanceDelta = distance
		if dt > 0 {
			sample.SpeedKmh = geo.SpeedKmh(distance, dt)
		}
		if geo.SignificantMove(distance) {
			heading := geo.Bearing(from, to)
			sample.Heading = &heading
		}
	}

	if err := e.store.SaveLocation(ctx, agentID, sample); err != nil {
		return nil, fmt.Errorf("save location: %w", err)
	}
	metrics.SamplesAccepted.Inc()

	env, err := events.New(events.TypeLocationReceived, e.clock.Now(), events.LocationReceived{
		AgentID:       agentID,
		Sample:        *sample,
		DistanceDelta: sample.DistanceDelta,
		SpeedKmh:      sample.SpeedKmh,
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.PublishEvent(ctx, env); err != nil {
		return nil, fmt.Errorf("publish location.received: %w", err)
	}

	return &Result{Sample: sample, Previous: prev}, nil
}

// CurrentLocation returns the agent's last accepted sample.
func (e *Engine) CurrentLocation(ctx context.Context, agentID string) (*model.LocationSample, error) {
	return e.store.LastLocation(ctx, agentID)
}

// DistanceBetweenAgents returns the great-circle distance in metres between
// the last samples of two agents. Fails with storage.ErrNotFound when either
// agent has no sample.
func (e *Engine) DistanceBetweenAgents(ctx context.Context, a, b string) (float64, error) {
	sa, err := e.store.LastLocation(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("agent %s: %w", a, err)
	}
	sb, err := e.store.LastLocation(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("agent %s: %w", b, err)
	}
	return geo.Distance(sa.Coordinate(), sb.Coordinate()), nil
}
