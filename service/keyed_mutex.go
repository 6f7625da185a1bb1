// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package service

import (
	"hash/fnv"
	"sync"
)

// lockShards is the fixed shard count of the per-agent lock. Collisions only
// cost unnecessary serialization of two unrelated agents, never a
// correctness problem.
const lockShards = 64

// keyedMutex serializes writes per agent while letting different agents
// proceed in parallel.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (m *keyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%lockShards]
}

// Lock acquires the shard for key and returns its unlock function.
func (m *keyedMutex) Lock(key string) func() {
	mu := m.shard(key)
	mu.Lock()
	return mu.Unlock
}
