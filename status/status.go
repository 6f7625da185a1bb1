// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package status implements the agent presence state machine. Transitions
// come from two sources: Detect classifies each accepted sample on ingest,
// and CheckByTime re-evaluates an agent against the silence thresholds from
// the watchdog sweep. Set applies a manual override.
//
// Every persisted transition emits status.changed plus at most one
// specialized alert event (agent.unreachable, agent.back-online, agent.idle,
// agent.active).
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/timeutil"
)

// ErrInvalidStatus rejects manual overrides outside the closed status set.
var ErrInvalidStatus = errors.New("status: invalid status")

// Thresholds drive the time-based transitions.
type Thresholds struct {
	// IdleAfter: movement inactivity before ACTIVE/MOVING decays to IDLE.
	IdleAfter time.Duration

	// UnreachableAfter: update silence before an agent is UNREACHABLE, and
	// the silence span after which a fresh sample counts as "back online".
	UnreachableAfter time.Duration

	// OfflineAfter: update silence before an agent is OFFLINE.
	OfflineAfter time.Duration

	// MinSpeedKmh: at or above this a sample classifies as MOVING.
	MinSpeedKmh float64
}

// Engine is the status state machine.
type Engine struct {
	store      storage.Driver
	clock      timeutil.Clock
	thresholds Thresholds
	log        zerolog.Logger
}

// New creates a status engine.
func New(store storage.Driver, clock timeutil.Clock, thresholds Thresholds) *Engine {
	return &Engine{
		store:      store,
		clock:      clock,
		thresholds: thresholds,
		log:        logging.With().Str("component", "status").Logger(),
	}
}

// Detect classifies the agent from a freshly accepted sample and persists the
// transition if the status changed. prev is the sample preceding this one,
// nil for a first observation.
//
// A sample arriving after more than UnreachableAfter of silence classifies as
// ACTIVE ("back online") regardless of its speed.
func (e *Engine) Detect(ctx context.Context, agentID string, sample, prev *model.LocationSample) (model.AgentStatus, error) {
	var next model.AgentStatus
	switch {
	case prev == nil:
		next = model.StatusActive
	case sample.Timestamp-prev.Timestamp > e.thresholds.UnreachableAfter.Milliseconds():
		next = model.StatusActive
	case sample.SpeedKmh >= e.thresholds.MinSpeedKmh:
		next = model.StatusMoving
	default:
		next = model.StatusStopped
	}

	current, err := e.currentStatus(ctx, agentID)
	if err != nil {
		return "", err
	}
	if current == next {
		return next, nil
	}

	if err := e.transition(ctx, agentID, current, next, sample.Timestamp, ""); err != nil {
		return "", err
	}
	return next, nil
}

// CheckByTime re-evaluates the agent against the silence thresholds using
// its snapshot. The checks escalate: movement inactivity yields IDLE, update
// silence beyond UnreachableAfter yields UNREACHABLE, and beyond
// OfflineAfter yields OFFLINE — the strongest applicable outcome wins, so a
// prolonged silence ends OFFLINE, never IDLE.
func (e *Engine) CheckByTime(ctx context.Context, agentID string) (model.AgentStatus, error) {
	nowMs := timeutil.NowMillis(e.clock)

	current, err := e.currentStatus(ctx, agentID)
	if err != nil {
		return "", err
	}

	state, err := e.store.AgentState(ctx, agentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read state: %w", err)
	}

	next := current
	if state == nil || state.LastUpdate == 0 {
		// Unknown agent: nothing has been observed.
		next = model.StatusOffline
	} else {
		if state.LastMovement > 0 &&
			timeutil.OlderThan(state.LastMovement, nowMs, e.thresholds.IdleAfter) &&
			(current == model.StatusActive || current == model.StatusMoving) {
			next = model.StatusIdle
		}
		if timeutil.OlderThan(state.LastUpdate, nowMs, e.thresholds.UnreachableAfter) &&
			current != model.StatusUnreachable && current != model.StatusOffline {
			next = model.StatusUnreachable
		}
		if timeutil.OlderThan(state.LastUpdate, nowMs, e.thresholds.OfflineAfter) &&
			current != model.StatusOffline {
			next = model.StatusOffline
		}
	}

	if next == current {
		return current, nil
	}

	if err := e.transition(ctx, agentID, current, next, nowMs, ""); err != nil {
		return "", err
	}
	return next, nil
}

// Set forces a transition to the given status regardless of thresholds.
func (e *Engine) Set(ctx context.Context, agentID string, next model.AgentStatus, reason string) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}

	current, err := e.currentStatus(ctx, agentID)
	if err != nil {
		return err
	}
	if current == next {
		return nil
	}

	return e.transition(ctx, agentID, current, next, timeutil.NowMillis(e.clock), reason)
}

// currentStatus reads the persisted status, treating an unknown agent as
// OFFLINE so the first observed transition is OFFLINE -> ACTIVE.
func (e *Engine) currentStatus(ctx context.Context, agentID string) (model.AgentStatus, error) {
	current, err := e.store.Status(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return current, nil
}

// transition persists the new status and emits status.changed plus the
// specialized alert event, if any. old != next is the caller's invariant.
func (e *Engine) transition(ctx context.Context, agentID string, old, next model.AgentStatus, tsMs int64, reason string) error {
	if err := e.store.SaveStatus(ctx, agentID, next, tsMs); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	metrics.StatusTransitions.WithLabelValues(string(old), string(next)).Inc()

	e.log.Debug().
		Str("agent_id", agentID).
		Str("old", string(old)).
		Str("new", string(next)).
		Msg("status transition")

	now := e.clock.Now()
	env, err := events.New(events.TypeStatusChanged, now, events.StatusChanged{
		AgentID:   agentID,
		OldStatus: old,
		NewStatus: next,
		Timestamp: tsMs,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	if err := e.store.PublishEvent(ctx, env); err != nil {
		return fmt.Errorf("publish status.changed: %w", err)
	}

	alertType := specializedEvent(old, next)
	if alertType == "" {
		return nil
	}

	state, err := e.store.AgentState(ctx, agentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read state: %w", err)
	}
	if state == nil {
		// Synthesized minimal snapshot for agents observed before their
		// first snapshot write.
		state = &model.AgentState{AgentID: agentID, Status: next, LastUpdate: tsMs}
	}

	alert, err := events.New(alertType, now, events.StatusAlert{
		AgentID: agentID,
		Status:  next,
		State:   state,
	})
	if err != nil {
		return err
	}
	if err := e.store.PublishEvent(ctx, alert); err != nil {
		return fmt.Errorf("publish %s: %w", alertType, err)
	}
	return nil
}

// specializedEvent maps a transition to its alert event type, or empty when
// the transition has none.
func specializedEvent(old, next model.AgentStatus) string {
	switch {
	case next == model.StatusUnreachable && old != model.StatusUnreachable:
		return events.TypeAgentUnreachable
	case !old.Reachable() && (next == model.StatusActive || next == model.StatusMoving):
		return events.TypeAgentBackOnline
	case next == model.StatusIdle && old != model.StatusIdle:
		return events.TypeAgentIdle
	case next == model.StatusActive && (old == model.StatusIdle || old == model.StatusStopped):
		return events.TypeAgentActive
	default:
		return ""
	}
}
