// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package dtlog defines the scheduler's logging-sink interface and a
// zerolog-backed implementation: a thin wrapper adding structured fields
// around an operation name. zerolog is used because it has a native Trace
// level, matching the scheduler's {trace, debug, info, warn, error} level
// set exactly.
package dtlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is a single structured key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F is a convenience constructor for Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the external collaborator the core calls to emit diagnostics. It
// must be safe for concurrent use, must never block on I/O for long, and
// must never panic.
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type zerologLogger struct {
	l zerolog.Logger
}

// New returns a Logger backed by zerolog, writing to w.
func New(w io.Writer) Logger {
	return &zerologLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Default returns a Logger writing to stderr at the package's default level.
func Default() Logger {
	return New(os.Stderr)
}

func (z *zerologLogger) Trace(msg string, fields ...Field) { z.emit(z.l.Trace(), msg, fields) }
func (z *zerologLogger) Debug(msg string, fields ...Field) { z.emit(z.l.Debug(), msg, fields) }
func (z *zerologLogger) Info(msg string, fields ...Field)  { z.emit(z.l.Info(), msg, fields) }
func (z *zerologLogger) Warn(msg string, fields ...Field)  { z.emit(z.l.Warn(), msg, fields) }
func (z *zerologLogger) Error(msg string, fields ...Field) { z.emit(z.l.Error(), msg, fields) }

func (z *zerologLogger) emit(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// Nop is a Logger that discards everything, useful for tests.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Trace(string, ...Field) {}
func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}
