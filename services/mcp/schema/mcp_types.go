// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import "encoding/json"

// Payload is the transport's atomic delivery unit: an optional UTF-8
// JSON text body plus a transport-level context map. Both inbound and
// outbound traversal of the layer chain operate on Payload values,
// never on raw bytes.
type Payload struct {
	Data *string           `json:"data,omitempty"`
	Ctx  map[string]string `json:"ctx,omitempty"`
}

// SessionIDKey is the sole Context key the runtime reads. Unknown keys
// are preserved round-trip.
const SessionIDKey = "sessionId"

// SessionID returns the sessionId carried in a Payload's context, and
// whether one was present.
func (p Payload) SessionID() (string, bool) {
	if p.Ctx == nil {
		return "", false
	}
	id, ok := p.Ctx[SessionIDKey]
	return id, ok
}

// Implementation identifies a peer (clientInfo / serverInfo) during the
// initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RootsCapability advertises whether the client's root list can change.
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ClientCapabilities is the capability set a client offers at initialize.
type ClientCapabilities struct {
	Roots    *RootsCapability `json:"roots,omitempty"`
	Sampling *struct{}        `json:"sampling,omitempty"`
}

// ToolsCapability advertises whether the server's tool list can change.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities is the capability set a server offers at initialize.
type ServerCapabilities struct {
	Tools   *ToolsCapability `json:"tools,omitempty"`
	Logging bool             `json:"logging"`
}

// InitializeParams is the client's initialize request payload.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      Implementation     `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities"`
}

// InitializeResult is the server's initialize reply payload.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ToolInputSchema is a minimal JSON-Schema object describing a tool's
// arguments: object type, optional properties and required list. No
// deeper schema validation happens anywhere in the runtime.
type ToolInputSchema struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// Tool describes one invocable tool exposed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ListToolsParams is the tools/list request payload. Cursor continues a
// paginated listing.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is the tools/list reply payload. This runtime's tool
// tables are small and fully enumerated in one page; NextCursor is
// always empty.
type ListToolsResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// CallToolParams is the tools/call request payload.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// LoadType tags how a single streamed fragment is packaged into a
// CallToolResult content entry.
type LoadType int

const (
	LoadText LoadType = iota
	LoadAudio
	LoadImage
	LoadEmbedded
)

// MimeType returns the content mime type a LoadType maps to.
func (l LoadType) MimeType() string {
	switch l {
	case LoadAudio:
		return "audio/mpeg"
	case LoadImage:
		return "image/png"
	default:
		return ""
	}
}

// ResourceContents is the JSON shape an Embedded fragment's text must
// decode to.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ContentEntry is one element of a CallToolResult's content array. Exactly
// the fields relevant to Type are populated.
type ContentEntry struct {
	Type     string            `json:"type"` // "text" | "audio" | "image" | "resource"
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// NewContentEntry builds the ContentEntry a single (LoadType, text)
// event packages into. An Embedded event's text must be a JSON-encoded
// ResourceContents.
func NewContentEntry(kind LoadType, text string) (ContentEntry, error) {
	switch kind {
	case LoadText:
		return ContentEntry{Type: "text", Text: text}, nil
	case LoadAudio:
		return ContentEntry{Type: "audio", Data: text, MimeType: kind.MimeType()}, nil
	case LoadImage:
		return ContentEntry{Type: "image", Data: text, MimeType: kind.MimeType()}, nil
	case LoadEmbedded:
		var resource ResourceContents
		if err := json.Unmarshal([]byte(text), &resource); err != nil {
			return ContentEntry{}, err
		}
		return ContentEntry{Type: "resource", Resource: &resource}, nil
	default:
		return ContentEntry{}, errUnknownLoadType
	}
}

var errUnknownLoadType = jsonErr("schema: unknown LoadType")

type jsonErr string

func (e jsonErr) Error() string { return string(e) }

// CallToolResult is the payload for each Response message a tools/call
// invocation emits — a streaming tool produces several, one per
// fragment, all sharing the originating request id.
type CallToolResult struct {
	Content []ContentEntry `json:"content"`
	IsError bool           `json:"isError"`
}

// Root is a filesystem or URI root the client exposes.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the client's reply to a server-initiated roots/list.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

// ModelPreferences carries priority hints for a sampling request.
type ModelPreferences struct {
	CostPriority         float64 `json:"costPriority,omitempty"`
	SpeedPriority        float64 `json:"speedPriority,omitempty"`
	IntelligencePriority float64 `json:"intelligencePriority,omitempty"`
}

// SamplingMessage is one turn of the conversation offered to
// sampling/createMessage.
type SamplingMessage struct {
	Role    string       `json:"role"`
	Content ContentEntry `json:"content"`
}

// CreateMessageParams is the server-initiated sampling/createMessage
// request payload.
type CreateMessageParams struct {
	Messages        []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens"`
}

// CreateMessageResult is the client's reply to sampling/createMessage.
type CreateMessageResult struct {
	Role       string       `json:"role"`
	Content    ContentEntry `json:"content"`
	Model      string       `json:"model"`
	StopReason string       `json:"stopReason,omitempty"`
}

// CancelParams is the notifications/cancelled payload.
type CancelParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// SetLevelParams is the logging/setLevel request payload.
type SetLevelParams struct {
	Level string `json:"level"`
}

// LogMessageParams is the notifications/message payload (server -> client).
type LogMessageParams struct {
	Level  string          `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data"`
}
