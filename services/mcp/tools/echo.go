// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds demo tool handlers. server.New registers none of
// them; cmd/mcpserver and this runtime's tests register them on a
// Dispatcher, and they serve as the worked example for anyone adding a
// new tool.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/AleutianAI/AleutianMCP/services/mcp/jobs"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// echoParams is the tools/call arguments shape Echo expects.
type echoParams struct {
	Text string `json:"text"`
}

// EchoTool is the schema advertised for Echo in tools/list.
var EchoTool = schema.Tool{
	Name:        "echo",
	Description: "Splits the given text on whitespace and streams each word back as a separate result fragment.",
	InputSchema: schema.ToolInputSchema{
		Type: "object",
		Properties: map[string]json.RawMessage{
			"text": json.RawMessage(`{"type":"string"}`),
		},
		Required: []string{"text"},
	},
}

// Echo streams the words of params.Text back one at a time — the
// multi-fragment streaming case, one Response per word.
func Echo(ctx context.Context, paramsJSON []byte, sender chan<- jobs.TaskEvent) error {
	var params echoParams
	if err := json.Unmarshal(paramsJSON, &params); err != nil {
		return err
	}

	words := strings.Fields(params.Text)
	for _, w := range words {
		select {
		case <-ctx.Done():
			return nil
		case sender <- jobs.TaskEvent{Kind: jobs.EventData, Load: schema.LoadText, Text: w}:
		}
	}
	return nil
}
