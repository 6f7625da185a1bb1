// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package model defines the core domain types shared by every fleettrace
// engine and storage driver: location samples, agent statuses, agent state
// snapshots, per-agent statistics, and the geofence sum type.
package model

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is a single accepted location observation for an agent.
// Samples are immutable once constructed by the location engine.
type LocationSample struct {
	AgentID   string  `json:"agent_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// SpeedKmh is derived from the previous accepted sample. Zero when the
	// agent is stationary or no previous sample exists.
	SpeedKmh float64 `json:"speed_kmh,omitempty"`

	// Heading is the initial bearing from the previous sample in degrees
	// [0, 360). Nil when the agent moved one metre or less (GPS noise).
	Heading *float64 `json:"heading,omitempty"`

	// DistanceDelta is the great-circle distance in metres from the previous
	// accepted sample. Zero for the first sample of an agent.
	DistanceDelta float64 `json:"distance_delta,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Coordinate returns the sample's position as a Coordinate.
func (s *LocationSample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// AgentStatus classifies an agent's presence and motion.
type AgentStatus string

// The closed set of agent statuses.
const (
	StatusActive      AgentStatus = "active"
	StatusIdle        AgentStatus = "idle"
	StatusMoving      AgentStatus = "moving"
	StatusStopped     AgentStatus = "stopped"
	StatusUnreachable AgentStatus = "unreachable"
	StatusOffline     AgentStatus = "offline"
)

// Valid reports whether s is a member of the closed status set.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusMoving, StatusStopped,
		StatusUnreachable, StatusOffline:
		return true
	default:
		return false
	}
}

// Reachable reports whether the status indicates the agent is currently
// observed (neither unreachable nor offline).
func (s AgentStatus) Reachable() bool {
	return s != StatusUnreachable && s != StatusOffline
}

// AgentState is the per-agent snapshot maintained by the service facade.
type AgentState struct {
	AgentID string      `json:"agent_id"`
	Status  AgentStatus `json:"status"`

	// LastLocation is nil until the first accepted sample.
	LastLocation *LocationSample `json:"last_location,omitempty"`

	// LastUpdate is the ms timestamp of the most recent observation or
	// status change.
	LastUpdate int64 `json:"last_update"`

	// LastMovement is the ms timestamp of the most recent sample with
	// speed > 0, or zero if the agent has never moved.
	LastMovement int64 `json:"last_movement,omitempty"`

	// TotalDistanceTraveled accumulates segment distances in metres and is
	// monotonically non-decreasing.
	TotalDistanceTraveled float64 `json:"total_distance_traveled"`

	// ActiveGeofences lists the ids of zones containing the last sample.
	ActiveGeofences []string `json:"active_geofences,omitempty"`
}

// Clone returns a deep copy of the state so callers cannot mutate stored
// snapshots through shared slices or the embedded sample.
func (a *AgentState) Clone() *AgentState {
	if a == nil {
		return nil
	}
	out := *a
	if a.LastLocation != nil {
		loc := *a.LastLocation
		out.LastLocation = &loc
	}
	if a.ActiveGeofences != nil {
		out.ActiveGeofences = append([]string(nil), a.ActiveGeofences...)
	}
	return &out
}

// AgentStats are the per-agent ingest counters kept by the storage driver.
type AgentStats struct {
	AgentID string `json:"agent_id"`

	// TotalLocations counts accepted samples.
	TotalLocations int64 `json:"total_locations"`

	// TotalDistance accumulates inter-sample great-circle distance in metres.
	TotalDistance float64 `json:"total_distance"`

	// LastUpdate is the ms timestamp of the most recent accepted sample.
	LastUpdate int64 `json:"last_update"`
}
