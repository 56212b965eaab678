// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the JSON-RPC 2.0 envelope and MCP payload types
// carried over the protocol pipeline.
//
// # Description
//
// The envelope types mirror the four JSON-RPC message shapes (Request,
// Notification, Response, Error) plus the MCP-specific Payload/Context
// transport units. Decoding is structural: the presence or absence of
// "id", "method", "result", and "error" fields determines the variant.
package schema

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP wire protocol version this runtime speaks.
const ProtocolVersion = "2025-03-26"

// JSONRPCVersion is the literal value the "jsonrpc" field must carry.
const JSONRPCVersion = "2.0"

// Kind identifies which of the four JSON-RPC envelope shapes a Message holds.
type Kind int

const (
	// KindRequest is a method call expecting a Response or Error.
	KindRequest Kind = iota
	// KindNotification is a method call with no id and no reply.
	KindNotification
	// KindResponse is a successful reply to a Request.
	KindResponse
	// KindError is a failed reply to a Request.
	KindError
	// KindBatch is an array of the above. Recognized on decode, never
	// dispatched: the dispatcher rejects batches with InvalidRequest.
	KindBatch
)

// String renders the Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ID is a JSON-RPC request identifier: either a string or a signed 64-bit
// integer. Equality is by variant and value.
type ID struct {
	str   string
	num   int64
	isStr bool
	isNum bool // false when the ID is absent (notifications)
}

// NewStringID builds a string-valued ID.
func NewStringID(s string) ID { return ID{str: s, isStr: true} }

// NewIntID builds an integer-valued ID.
func NewIntID(n int64) ID { return ID{num: n, isNum: true} }

// IsZero reports whether this ID carries no value (i.e. a notification).
func (i ID) IsZero() bool { return !i.isStr && !i.isNum }

// IsString reports whether the ID is string-valued.
func (i ID) IsString() bool { return i.isStr }

// String returns the string value (only meaningful if IsString).
func (i ID) String() string { return i.str }

// Int returns the integer value (only meaningful if !IsString && !IsZero).
func (i ID) Int() int64 { return i.num }

// Equal reports whether two IDs carry the same variant and value.
func (i ID) Equal(other ID) bool {
	if i.isStr != other.isStr || i.isNum != other.isNum {
		return false
	}
	if i.isStr {
		return i.str == other.str
	}
	if i.isNum {
		return i.num == other.num
	}
	return true // both zero
}

// MarshalJSON preserves the original String vs Number representation.
func (i ID) MarshalJSON() ([]byte, error) {
	switch {
	case i.isStr:
		return json.Marshal(i.str)
	case i.isNum:
		return json.Marshal(i.num)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (i *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = ID{}
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		*i = ID{str: asStr, isStr: true}
		return nil
	}
	var asNum int64
	if err := json.Unmarshal(data, &asNum); err == nil {
		*i = ID{num: asNum, isNum: true}
		return nil
	}
	return fmt.Errorf("schema: id must be a string or integer, got %s", data)
}

// RPCError is the JSON-RPC error object carried by a KindError message.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard and application JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeToolExecutionFailed is the application-range code used by the
	// job manager when a tool handler returns an error.
	CodeToolExecutionFailed = -32000
)

// Message is a decoded JSON-RPC envelope of any Kind. Exactly one of the
// payload fields is populated, selected by Kind; the rest stay at their
// zero value. Unknown fields that appeared on the wire are preserved in
// Extra so the MCP `_meta` extension point round-trips.
type Message struct {
	Kind   Kind
	ID     ID
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
	Batch  []Message
	Extra  map[string]json.RawMessage
}
