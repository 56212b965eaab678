// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layer

import (
	"log/slog"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// NewTraceLayer builds an observer layer that logs each payload passing
// through, in both directions, without modifying it — useful for wiring
// into a Chain during development or tests without needing a real
// transport underneath.
func NewTraceLayer(logger *slog.Logger) Layer {
	log := func(direction Direction) TransformFunc {
		return func(payload *schema.Payload) (Result, error) {
			size := 0
			if payload != nil && payload.Data != nil {
				size = len(*payload.Data)
			}
			logger.Debug("layer trace",
				slog.String("direction", direction.String()),
				slog.Int("bytes", size),
			)
			return Result{Direction: direction, Data: payload}, nil
		}
	}
	return Layer{
		Name:     "trace",
		Inbound:  log(DirectionInbound),
		Outbound: log(DirectionOutbound),
	}
}
