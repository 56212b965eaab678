// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// EventKind tags a TaskEvent's variant.
type EventKind int

const (
	EventData EventKind = iota
	EventDone
	EventCancelled
)

// TaskEvent is one message a running tool handler emits on its sender
// channel. Err is set only on the terminal EventDone event when the
// handler returned a failure.
type TaskEvent struct {
	Kind EventKind
	Load schema.LoadType
	Text string
	Err  error
}

// ToolHandler is the signature every registered tool implements. The
// handler streams zero or more Data events on sender, then returns;
// returning a non-nil error produces a single tool-execution-failed
// error response.
//
// ctx is cancelled when the job is evicted (either by
// notifications/cancelled or by the manager shutting down); handlers
// should select on ctx.Done() between emitting events.
type ToolHandler func(ctx context.Context, paramsJSON []byte, sender chan<- TaskEvent) error
