// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package wsfanout

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/metrics"
)

// Hub maintains the set of active websocket clients and broadcasts event
// envelopes to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.Envelope
	register   chan *Client
	unregister chan *Client

	// done is closed when Run exits so client pumps never block on the
	// register/unregister channels of a stopped hub.
	done chan struct{}

	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub creates a hub.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registration and broadcast traffic until ctx is canceled,
// then closes every client send channel.
//
// Client lifecycle events take priority over broadcasts so the client set is
// consistent before a message fans out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
			continue
		case client := <-h.unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case env := <-h.broadcast:
			h.broadcastEnvelope(env)
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		}
	}
}

// Broadcast queues an envelope for delivery to every connected client. The
// envelope is dropped when the hub's buffer is full; websocket delivery is
// best-effort by design of the fan-out backend.
func (h *Hub) Broadcast(env *events.Envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.log.Warn().Str("event_type", env.Type).Msg("hub broadcast buffer full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
	h.log.Debug().Uint64("client_id", c.ID()).Int("clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
	h.log.Debug().Uint64("client_id", c.ID()).Int("clients", n).Msg("websocket client disconnected")
}

// broadcastEnvelope fans out to clients in id order; a client with a full
// send buffer is disconnected rather than allowed to stall the loop.
func (h *Hub) broadcastEnvelope(env *events.Envelope) {
	h.mu.RLock()
	ordered := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		ordered = append(ordered, c)
	}
	h.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })

	for _, c := range ordered {
		select {
		case c.send <- env:
		default:
			h.removeClient(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WebsocketClients.Set(0)
}
