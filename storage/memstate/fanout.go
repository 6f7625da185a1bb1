// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package memstate

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/metrics"
)

// Fanout dispatches events to local subscribers. Delivery is synchronous and
// best-effort: a panicking handler is recovered and logged without stopping
// delivery to the remaining handlers. Subscribe and Unsubscribe may run
// concurrently with Dispatch.
type Fanout struct {
	mu       sync.RWMutex
	handlers []events.Handler
	log      zerolog.Logger
}

// NewFanout creates a dispatcher logging handler failures to the given
// logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewFanout(log zerolog.Logger) *Fanout {
	return &Fanout{log: log}
}

// Subscribe registers a handler for subsequent dispatches.
func (f *Fanout) Subscribe(h events.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Unsubscribe removes all handlers. Idempotent.
func (f *Fanout) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = nil
}

// HasSubscribers reports whether any handler is registered.
func (f *Fanout) HasSubscribers() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers) > 0
}

// Dispatch invokes every registered handler with the envelope.
func (f *Fanout) Dispatch(env *events.Envelope) {
	f.mu.RLock()
	handlers := make([]events.Handler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.RUnlock()

	for _, h := range handlers {
		f.dispatchOne(h, env)
	}
}

func (f *Fanout) dispatchOne(h events.Handler, env *events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			f.log.Error().
				Str("event_type", env.Type).
				Str("event_id", env.EventID).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	h(env)
}
