// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

package model

import "testing"

func TestAgentStatusValid(t *testing.T) {
	valid := []AgentStatus{
		StatusActive, StatusIdle, StatusMoving,
		StatusStopped, StatusUnreachable, StatusOffline,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q reported invalid", s)
		}
	}

	for _, s := range []AgentStatus{"", "ACTIVE", "teleporting"} {
		if s.Valid() {
			t.Errorf("%q reported valid", s)
		}
	}
}

func TestAgentStatusReachable(t *testing.T) {
	if StatusUnreachable.Reachable() || StatusOffline.Reachable() {
		t.Error("unreachable/offline reported reachable")
	}
	if !StatusActive.Reachable() || !StatusStopped.Reachable() {
		t.Error("active/stopped reported unreachable")
	}
}

func TestAgentStateClone(t *testing.T) {
	heading := 42.0
	original := &AgentState{
		AgentID: "a",
		Status:  StatusMoving,
		LastLocation: &LocationSample{
			AgentID: "a", Latitude: 40.7, Longitude: -74.0,
			Timestamp: 1000, Heading: &heading,
		},
		ActiveGeofences: []string{"z1", "z2"},
	}

	clone := original.Clone()
	clone.LastLocation.Latitude = 0
	clone.ActiveGeofences[0] = "mutated"
	clone.Status = StatusOffline

	if original.LastLocation.Latitude != 40.7 {
		t.Error("clone shares the location sample")
	}
	if original.ActiveGeofences[0] != "z1" {
		t.Error("clone shares the geofence slice")
	}
	if original.Status != StatusMoving {
		t.Error("clone shares the status")
	}
}

func TestAgentStateCloneNil(t *testing.T) {
	var state *AgentState
	if state.Clone() != nil {
		t.Error("Clone of nil state is not nil")
	}
}

func TestGeofenceKindDispatch(t *testing.T) {
	var zones []Geofence = []Geofence{
		&CircularGeofence{ZoneID: "c", ZoneName: "Circle", RadiusM: 10},
		&PolygonGeofence{ZoneID: "p", ZoneName: "Poly"},
	}

	if zones[0].Kind() != GeofenceCircular || zones[1].Kind() != GeofencePolygon {
		t.Error("geofence kinds mismatched")
	}
	if zones[0].ID() != "c" || zones[1].Name() != "Poly" {
		t.Error("geofence accessors mismatched")
	}
}
