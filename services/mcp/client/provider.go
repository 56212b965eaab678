// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"context"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// Provider is the host-supplied capability object that answers
// server-initiated requests and receives log notifications.
type Provider interface {
	// Ping answers a server-initiated ping.
	Ping(ctx context.Context) error

	// ListRoots answers a server-initiated roots/list.
	ListRoots(ctx context.Context) (schema.ListRootsResult, error)

	// CreateMessage answers a server-initiated sampling/createMessage.
	CreateMessage(ctx context.Context, params schema.CreateMessageParams) (schema.CreateMessageResult, error)

	// LogMessage receives a notifications/message the server pushed.
	LogMessage(params schema.LogMessageParams)
}

// NoopProvider is a Provider that declines every server-initiated request
// and discards log messages — a minimal default for hosts that expose no
// roots, no sampling, and don't care about server logs.
type NoopProvider struct{}

func (NoopProvider) Ping(context.Context) error { return nil }

func (NoopProvider) ListRoots(context.Context) (schema.ListRootsResult, error) {
	return schema.ListRootsResult{Roots: nil}, nil
}

func (NoopProvider) CreateMessage(context.Context, schema.CreateMessageParams) (schema.CreateMessageResult, error) {
	return schema.CreateMessageResult{}, errSamplingUnsupported
}

func (NoopProvider) LogMessage(schema.LogMessageParams) {}

var errSamplingUnsupported = clientErr("client: host does not support sampling/createMessage")

type clientErr string

func (e clientErr) Error() string { return string(e) }
