// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package timeutil provides the injectable time source used by every engine,
// plus millisecond-timestamp helpers. All time comparisons in fleettrace go
// through a Clock so tests can advance time deterministically.
package timeutil

import (
	"fmt"
	"time"
)

// MaxFutureSkew is how far ahead of "now" a client-supplied timestamp may be
// before it is treated as missing.
const MaxFutureSkew = 60 * time.Second

// Clock is the time source injected into engines.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// NowMillis returns the clock's current time as ms since the Unix epoch.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// SaneTimestamp reports whether a client-supplied ms timestamp is usable:
// positive and no more than MaxFutureSkew ahead of nowMs.
func SaneTimestamp(tsMs, nowMs int64) bool {
	return tsMs > 0 && tsMs <= nowMs+MaxFutureSkew.Milliseconds()
}

// OlderThan reports whether tsMs lies more than maxAge before nowMs.
// A zero timestamp is never considered older (it means "never observed").
func OlderThan(tsMs, nowMs int64, maxAge time.Duration) bool {
	if tsMs <= 0 {
		return false
	}
	return nowMs-tsMs > maxAge.Milliseconds()
}

// Age returns the duration elapsed between tsMs and nowMs, clamped at zero
// for timestamps in the future.
func Age(tsMs, nowMs int64) time.Duration {
	if tsMs >= nowMs {
		return 0
	}
	return time.Duration(nowMs-tsMs) * time.Millisecond
}

// FormatDuration renders d compactly for logs: "421ms", "3.2s", "5m12s",
// "2h03m".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// ParseDuration parses either a Go duration string ("90s", "5m") or a bare
// integer interpreted as milliseconds. Configuration files written against
// the wire contract use raw millisecond values.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
