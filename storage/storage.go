// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package storage defines the driver contract every fleettrace backend must
// satisfy. The contract is the substitutability boundary of the system: the
// engines speak only to this interface, and the choice of adapter (in-memory,
// BadgerDB, NATS JetStream, Kafka, websocket fan-out) decides persistence and
// event-delivery semantics.
package storage

import (
	"context"
	"errors"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/model"
)

// ErrNotFound is returned by read operations when no record exists for the
// requested agent.
var ErrNotFound = errors.New("storage: not found")

// ErrClosed is returned when an operation is attempted on a disconnected
// driver.
var ErrClosed = errors.New("storage: driver closed")

// Driver is the contract every backend implements.
//
// SaveLocation must also advance the agent's stats: increment TotalLocations,
// add the sample's DistanceDelta to TotalDistance, and set LastUpdate to the
// sample timestamp. Read operations return ErrNotFound (possibly wrapped) for
// unknown agents. Event delivery semantics are backend-specific and not
// normalized by this contract.
type Driver interface {
	// Connect prepares the backend for use. Must be called before any other
	// operation.
	Connect(ctx context.Context) error

	// Close releases backend resources. Idempotent.
	Close() error

	// SaveLocation persists the sample as the agent's last location and
	// advances the agent's stats.
	SaveLocation(ctx context.Context, agentID string, sample *model.LocationSample) error

	// LastLocation returns the most recent sample, or ErrNotFound.
	LastLocation(ctx context.Context, agentID string) (*model.LocationSample, error)

	// SaveStatus persists the agent's status with the transition timestamp.
	SaveStatus(ctx context.Context, agentID string, status model.AgentStatus, tsMs int64) error

	// Status returns the agent's status, or ErrNotFound.
	Status(ctx context.Context, agentID string) (model.AgentStatus, error)

	// SaveAgentState persists the full per-agent snapshot.
	SaveAgentState(ctx context.Context, state *model.AgentState) error

	// AgentState returns the snapshot, or ErrNotFound.
	AgentState(ctx context.Context, agentID string) (*model.AgentState, error)

	// Agents enumerates every known agent id, deduplicated across all stored
	// record kinds.
	Agents(ctx context.Context) ([]string, error)

	// PublishEvent delivers the envelope to all subscribers per the backend's
	// semantics.
	PublishEvent(ctx context.Context, env *events.Envelope) error

	// SubscribeEvents registers a handler for every subsequently published
	// event until UnsubscribeEvents.
	SubscribeEvents(handler events.Handler) error

	// UnsubscribeEvents removes all handlers. Idempotent.
	UnsubscribeEvents() error

	// AgentStats returns the agent's ingest counters, or ErrNotFound.
	AgentStats(ctx context.Context, agentID string) (*model.AgentStats, error)

	// ClearAgentData removes the agent's location, status, snapshot, and
	// stats records.
	ClearAgentData(ctx context.Context, agentID string) error
}
