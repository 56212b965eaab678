// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging implements the MCP protocol logging-level ladder:
// debug < info < notice < warning < error < critical < alert <
// emergency. This governs whether a server's send_log call emits
// a notifications/message to a particular session — it is entirely
// separate from this repository's operator-facing structured logs (see
// pkg/logging), which use slog and are never sent over the wire.
package logging

import "strings"

// Level is one rung of the MCP logging-level ladder.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
	LevelAlert
	LevelEmergency
)

// DefaultLevel is the filter a session starts with before any
// logging/setLevel request.
const DefaultLevel = LevelInfo

var names = [...]string{
	LevelDebug:     "debug",
	LevelInfo:      "info",
	LevelNotice:    "notice",
	LevelWarning:   "warning",
	LevelError:     "error",
	LevelCritical:  "critical",
	LevelAlert:     "alert",
	LevelEmergency: "emergency",
}

// String renders the wire-format level name.
func (l Level) String() string {
	if l < LevelDebug || l > LevelEmergency {
		return "unknown"
	}
	return names[l]
}

// ParseLevel maps a wire-format level name to a Level. Unknown names
// return DefaultLevel and false.
func ParseLevel(name string) (Level, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for level, known := range names {
		if known == lower {
			return Level(level), true
		}
	}
	return DefaultLevel, false
}

// ShouldEmit reports whether a message logged at `level` passes a
// session's `filter`: a notifications/message goes out iff
// level >= filter.
func ShouldEmit(level, filter Level) bool {
	return level >= filter
}
