// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package wmlog bridges Watermill's LoggerAdapter to zerolog so the pub/sub
// adapters log through the fleettrace sink.
package wmlog

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// Logger implements watermill.LoggerAdapter on top of zerolog.
type Logger struct {
	log zerolog.Logger
}

var _ watermill.LoggerAdapter = (*Logger)(nil)

// New wraps a zerolog logger for Watermill.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(l.log.Error().Err(err), msg, fields)
}

func (l *Logger) Info(msg string, fields watermill.LogFields) {
	l.emit(l.log.Info(), msg, fields)
}

func (l *Logger) Debug(msg string, fields watermill.LogFields) {
	l.emit(l.log.Debug(), msg, fields)
}

func (l *Logger) Trace(msg string, fields watermill.LogFields) {
	l.emit(l.log.Trace(), msg, fields)
}

func (l *Logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{log: ctx.Logger()}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
