// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package elog is a small tagged, leveled logger in the shape of the
// Fuchsia platform's syslog client (WarnTf, VLogTf, ...), reimplemented
// on top of the standard log package since that client is not available
// outside a Fuchsia build.
package elog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level is a logging verbosity threshold, lowest is most severe.
type Level int32

const (
	ErrorLevel Level = iota
	WarnLevel
	InfoLevel
	TraceLevel
)

func (l Level) String() string {
	switch l {
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARN"
	case InfoLevel:
		return "INFO"
	case TraceLevel:
		return "TRACE"
	default:
		return fmt.Sprintf("LEVEL(%d)", l)
	}
}

// Logger is a tagged logger; each call site supplies its own tag so a
// single process-wide instance can serve every subsystem.
type Logger struct {
	level  int32
	out    *log.Logger
}

// New creates a Logger that writes to os.Stderr at level.
func New(level Level) *Logger {
	return &Logger{level: int32(level), out: log.New(os.Stderr, "", log.Lmicroseconds)}
}

// SetLevel adjusts the verbosity threshold at runtime.
func (l *Logger) SetLevel(level Level) { atomic.StoreInt32(&l.level, int32(level)) }

func (l *Logger) enabled(level Level) bool { return level <= Level(atomic.LoadInt32(&l.level)) }

func (l *Logger) logf(level Level, tag, format string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}
	l.out.Printf("[%s] %s: %s", level, tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(tag, format string, args ...interface{}) { l.logf(ErrorLevel, tag, format, args...) }
func (l *Logger) Warnf(tag, format string, args ...interface{})  { l.logf(WarnLevel, tag, format, args...) }
func (l *Logger) Infof(tag, format string, args ...interface{})  { l.logf(InfoLevel, tag, format, args...) }
func (l *Logger) VLogf(tag, format string, args ...interface{})  { l.logf(TraceLevel, tag, format, args...) }

var def = New(InfoLevel)

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) { def = l }

func Errorf(tag, format string, args ...interface{}) { def.Errorf(tag, format, args...) }
func Warnf(tag, format string, args ...interface{})  { def.Warnf(tag, format, args...) }
func Infof(tag, format string, args ...interface{})  { def.Infof(tag, format, args...) }
func VLogf(tag, format string, args ...interface{})  { def.VLogf(tag, format, args...) }
