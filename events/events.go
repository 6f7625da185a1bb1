// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package events defines the fleettrace event taxonomy, the wire envelope,
// and the typed payloads carried across the storage contract. The type tags
// are wire-stable: backends must carry them verbatim.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fleettrace/model"
)

// SchemaVersion is the current envelope schema version. Increment on breaking
// changes to the envelope or payload formats.
const SchemaVersion = 1

// The event taxonomy. These strings are the wire-stable kind tags.
const (
	TypeLocationReceived     = "location.received"
	TypeStatusChanged        = "status.changed"
	TypeAgentUnreachable     = "agent.unreachable"
	TypeAgentBackOnline      = "agent.back-online"
	TypeAgentIdle            = "agent.idle"
	TypeAgentActive          = "agent.active"
	TypeAgentEnteredGeofence = "agent.entered-geofence"
	TypeAgentExitedGeofence  = "agent.exited-geofence"
)

// Envelope wraps every published event with its kind tag, a unique id, and
// the emission timestamp in ms since the Unix epoch.
type Envelope struct {
	SchemaVersion int             `json:"schema_version,omitempty"`
	EventID       string          `json:"event_id"`
	Type          string          `json:"type"`
	Timestamp     int64           `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Handler consumes published events. Handlers must not retain the envelope's
// payload slice past the call.
type Handler func(*Envelope)

// New builds an envelope for the given kind tag, marshalling the payload
// immediately so the envelope is safe to fan out across goroutines.
func New(eventType string, ts time.Time, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          eventType,
		Timestamp:     ts.UnixMilli(),
		Payload:       raw,
	}, nil
}

// Marshal encodes the envelope for the wire.
func Marshal(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope missing type tag")
	}
	return &e, nil
}

// DecodePayload unmarshals the envelope payload into T.
func DecodePayload[T any](e *Envelope) (*T, error) {
	var p T
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return &p, nil
}

// LocationReceived is the payload of location.received events.
type LocationReceived struct {
	AgentID string               `json:"agent_id"`
	Sample  model.LocationSample `json:"sample"`

	// DistanceDelta is the metres travelled since the previous sample.
	DistanceDelta float64 `json:"distance_delta"`
	SpeedKmh      float64 `json:"speed_kmh"`
}

// StatusChanged is the payload of status.changed events. OldStatus and
// NewStatus always differ.
type StatusChanged struct {
	AgentID   string            `json:"agent_id"`
	OldStatus model.AgentStatus `json:"old_status"`
	NewStatus model.AgentStatus `json:"new_status"`
	Timestamp int64             `json:"timestamp"`
	Reason    string            `json:"reason,omitempty"`
}

// StatusAlert is the payload of the specialized status events
// (agent.unreachable, agent.back-online, agent.idle, agent.active). State is
// the current snapshot when one exists, otherwise a synthesized minimal
// snapshot carrying just the agent id, the status and the transition
// timestamp as LastUpdate.
type StatusAlert struct {
	AgentID string            `json:"agent_id"`
	Status  model.AgentStatus `json:"status"`
	State   *model.AgentState `json:"state,omitempty"`
}

// Geofence transition directions.
const (
	DirectionEnter = "enter"
	DirectionExit  = "exit"
)

// GeofenceTransition is the payload of agent.entered-geofence and
// agent.exited-geofence events.
type GeofenceTransition struct {
	AgentID   string               `json:"agent_id"`
	ZoneID    string               `json:"zone_id"`
	ZoneName  string               `json:"zone_name"`
	Sample    model.LocationSample `json:"sample"`
	Timestamp int64                `json:"timestamp"`
	Direction string               `json:"direction"`
}
