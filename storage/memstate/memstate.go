// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package memstate provides the process-local state mirror shared by the
// storage adapters. Pub/sub-oriented backends (NATS, Kafka, websocket
// fan-out) have no native read model for last-location/status/state/stats, so
// they populate a Store on every write to satisfy the read side of the
// driver contract. The in-memory driver is built on the same Store.
package memstate

import (
	"sort"
	"sync"

	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
)

// Store is a thread-safe mirror of per-agent records. The zero value is not
// usable; create with New.
type Store struct {
	mu        sync.RWMutex
	locations map[string]*model.LocationSample
	statuses  map[string]model.AgentStatus
	states    map[string]*model.AgentState
	stats     map[string]*model.AgentStats
}

// New creates an empty store.
func New() *Store {
	return &Store{
		locations: make(map[string]*model.LocationSample),
		statuses:  make(map[string]model.AgentStatus),
		states:    make(map[string]*model.AgentState),
		stats:     make(map[string]*model.AgentStats),
	}
}

// SaveLocation records the sample as the agent's last location and advances
// the agent's stats counters.
func (s *Store) SaveLocation(agentID string, sample *model.LocationSample) {
	cp := *sample

	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations[agentID] = &cp

	st, ok := s.stats[agentID]
	if !ok {
		st = &model.AgentStats{AgentID: agentID}
		s.stats[agentID] = st
	}
	st.TotalLocations++
	st.TotalDistance += sample.DistanceDelta
	st.LastUpdate = sample.Timestamp
}

// LastLocation returns a copy of the agent's last sample.
func (s *Store) LastLocation(agentID string) (*model.LocationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.locations[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sample
	return &cp, nil
}

// SaveStatus records the agent's status.
func (s *Store) SaveStatus(agentID string, status model.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[agentID] = status
}

// Status returns the agent's status.
func (s *Store) Status(agentID string) (model.AgentStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[agentID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return status, nil
}

// SaveState records the agent's snapshot.
func (s *Store) SaveState(state *model.AgentState) {
	cp := state.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[cp.AgentID] = cp
}

// State returns a copy of the agent's snapshot.
func (s *Store) State(agentID string) (*model.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

// Stats returns a copy of the agent's ingest counters.
func (s *Store) Stats(agentID string) (*model.AgentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// Agents enumerates agent ids across every record kind, deduplicated and
// sorted for deterministic iteration.
func (s *Store) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range s.locations {
		seen[id] = struct{}{}
	}
	for id := range s.statuses {
		seen[id] = struct{}{}
	}
	for id := range s.states {
		seen[id] = struct{}{}
	}
	for id := range s.stats {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes every record for the agent.
func (s *Store) Clear(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locations, agentID)
	delete(s.statuses, agentID)
	delete(s.states, agentID)
	delete(s.stats, agentID)
}
