// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package memstate

import (
	"bytes"
	"testing"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
)

func TestFanoutDispatchesToAllHandlers(t *testing.T) {
	f := NewFanout(logging.NewTestLogger(&bytes.Buffer{}))

	var first, second int
	f.Subscribe(func(*events.Envelope) { first++ })
	f.Subscribe(func(*events.Envelope) { second++ })

	f.Dispatch(&events.Envelope{Type: events.TypeLocationReceived, EventID: "e1"})

	if first != 1 || second != 1 {
		t.Errorf("handlers invoked (%d, %d), want (1, 1)", first, second)
	}
}

func TestFanoutRecoversPanicAndContinues(t *testing.T) {
	var buf bytes.Buffer
	f := NewFanout(logging.NewTestLogger(&buf))

	var reached bool
	f.Subscribe(func(*events.Envelope) { panic("subscriber bug") })
	f.Subscribe(func(*events.Envelope) { reached = true })

	f.Dispatch(&events.Envelope{Type: events.TypeAgentIdle, EventID: "e2"})

	if !reached {
		t.Error("handler after panicking handler was not invoked")
	}
	if !bytes.Contains(buf.Bytes(), []byte("subscriber panicked")) {
		t.Error("panic was not logged")
	}
}

func TestFanoutUnsubscribeIsIdempotent(t *testing.T) {
	f := NewFanout(logging.NewTestLogger(&bytes.Buffer{}))

	var calls int
	f.Subscribe(func(*events.Envelope) { calls++ })

	f.Unsubscribe()
	f.Unsubscribe()

	f.Dispatch(&events.Envelope{Type: events.TypeAgentIdle, EventID: "e3"})
	if calls != 0 {
		t.Errorf("handler invoked %d times after Unsubscribe", calls)
	}
	if f.HasSubscribers() {
		t.Error("HasSubscribers true after Unsubscribe")
	}
}
