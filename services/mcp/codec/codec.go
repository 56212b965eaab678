// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec encodes and decodes JSON-RPC envelopes carried by the MCP
// pipeline.
//
// Description:
//
//	Decode matches structurally — which fields are present determines
//	the envelope variant — across all four JSON-RPC shapes plus the
//	batch array. Encode is the inverse, omitting absent fields and
//	preserving the original string/number shape of ids.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// ErrNotJSON names input that is not a JSON value at all. Decode does
// not return it: it reports such input as a *schema.RPCError with
// CodeParseError.
var ErrNotJSON = fmt.Errorf("codec: input is not valid JSON")

// Decode parses a single UTF-8 JSON-encoded message (or batch array) into
// a schema.Message. Structural rules:
//
//   - jsonrpc missing or != "2.0" -> parse error
//   - id present, result present  -> Response
//   - id present, error present   -> Error
//   - method present, id present  -> Request
//   - method present, id absent   -> Notification
//
// Unknown object fields are preserved in Message.Extra.
func Decode(raw []byte) (schema.Message, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rawBatch []json.RawMessage
		if err := json.Unmarshal(raw, &rawBatch); err != nil {
			return schema.Message{}, &schema.RPCError{Code: schema.CodeParseError, Message: err.Error()}
		}
		batch := make([]schema.Message, 0, len(rawBatch))
		for _, item := range rawBatch {
			msg, err := Decode(item)
			if err != nil {
				return schema.Message{}, err
			}
			batch = append(batch, msg)
		}
		return schema.Message{Kind: schema.KindBatch, Batch: batch}, nil
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return schema.Message{}, &schema.RPCError{Code: schema.CodeParseError, Message: err.Error()}
	}

	var version string
	if rawVersion, ok := generic["jsonrpc"]; ok {
		_ = json.Unmarshal(rawVersion, &version)
	}
	if version != schema.JSONRPCVersion {
		return schema.Message{}, &schema.RPCError{
			Code:    schema.CodeParseError,
			Message: fmt.Sprintf("missing or unsupported jsonrpc version %q", version),
		}
	}

	_, hasID := generic["id"]
	_, hasMethod := generic["method"]
	_, hasResult := generic["result"]
	_, hasError := generic["error"]

	msg := schema.Message{}
	if hasID {
		var id schema.ID
		if err := json.Unmarshal(generic["id"], &id); err != nil {
			return schema.Message{}, &schema.RPCError{Code: schema.CodeParseError, Message: err.Error()}
		}
		msg.ID = id
	}

	switch {
	case hasID && hasResult:
		msg.Kind = schema.KindResponse
		msg.Result = generic["result"]
	case hasID && hasError:
		msg.Kind = schema.KindError
		var rpcErr schema.RPCError
		if err := json.Unmarshal(generic["error"], &rpcErr); err != nil {
			return schema.Message{}, &schema.RPCError{Code: schema.CodeParseError, Message: err.Error()}
		}
		msg.Error = &rpcErr
	case hasMethod && hasID:
		msg.Kind = schema.KindRequest
		_ = json.Unmarshal(generic["method"], &msg.Method)
		msg.Params = generic["params"]
	case hasMethod && !hasID:
		msg.Kind = schema.KindNotification
		_ = json.Unmarshal(generic["method"], &msg.Method)
		msg.Params = generic["params"]
	default:
		return schema.Message{}, &schema.RPCError{
			Code:    schema.CodeInvalidRequest,
			Message: "message has neither a recognizable request, notification, response, nor error shape",
		}
	}

	for key, value := range generic {
		switch key {
		case "jsonrpc", "id", "method", "params", "result", "error":
			continue
		default:
			if msg.Extra == nil {
				msg.Extra = make(map[string]json.RawMessage)
			}
			msg.Extra[key] = value
		}
	}

	return msg, nil
}

// Encode serializes a schema.Message back to canonical JSON-RPC wire form,
// omitting fields the Kind does not use and never emitting bare "null"
// for an absent field.
func Encode(msg schema.Message) ([]byte, error) {
	if msg.Kind == schema.KindBatch {
		out := make([]json.RawMessage, 0, len(msg.Batch))
		for _, item := range msg.Batch {
			encoded, err := Encode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, encoded)
		}
		return json.Marshal(out)
	}

	fields := map[string]json.RawMessage{}
	jsonrpcLiteral, _ := json.Marshal(schema.JSONRPCVersion)
	fields["jsonrpc"] = jsonrpcLiteral

	if !msg.ID.IsZero() || msg.Kind == schema.KindRequest || msg.Kind == schema.KindResponse || msg.Kind == schema.KindError {
		idBytes, err := msg.ID.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fields["id"] = idBytes
	}

	switch msg.Kind {
	case schema.KindRequest, schema.KindNotification:
		methodBytes, _ := json.Marshal(msg.Method)
		fields["method"] = methodBytes
		if len(msg.Params) > 0 {
			fields["params"] = msg.Params
		}
	case schema.KindResponse:
		if len(msg.Result) == 0 {
			fields["result"] = json.RawMessage("{}")
		} else {
			fields["result"] = msg.Result
		}
	case schema.KindError:
		if msg.Error == nil {
			return nil, fmt.Errorf("codec: error message missing RPCError payload")
		}
		errBytes, err := json.Marshal(msg.Error)
		if err != nil {
			return nil, err
		}
		fields["error"] = errBytes
	default:
		return nil, fmt.Errorf("codec: unknown message kind %v", msg.Kind)
	}

	for key, value := range msg.Extra {
		fields[key] = value
	}

	return marshalOrdered(fields, orderFor(msg.Kind))
}

// orderFor returns the canonical field order for a Kind so Encode output is
// deterministic (useful for tests and for byte-stable logging).
func orderFor(kind schema.Kind) []string {
	switch kind {
	case schema.KindRequest, schema.KindNotification:
		return []string{"jsonrpc", "id", "method", "params"}
	case schema.KindResponse:
		return []string{"jsonrpc", "id", "result"}
	case schema.KindError:
		return []string{"jsonrpc", "id", "error"}
	default:
		return []string{"jsonrpc"}
	}
}

// marshalOrdered writes a JSON object with keys in the given preferred
// order first, followed by any remaining (Extra) keys in map order.
func marshalOrdered(fields map[string]json.RawMessage, order []string) ([]byte, error) {
	written := make(map[string]struct{}, len(fields))
	buf := []byte{'{'}
	first := true

	writeField := func(key string) error {
		value, ok := fields[key]
		if !ok {
			return nil
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		buf = append(buf, value...)
		written[key] = struct{}{}
		return nil
	}

	for _, key := range order {
		if err := writeField(key); err != nil {
			return nil, err
		}
	}
	for key := range fields {
		if _, ok := written[key]; ok {
			continue
		}
		if err := writeField(key); err != nil {
			return nil, err
		}
	}

	buf = append(buf, '}')
	return buf, nil
}

func trimLeadingSpace(raw []byte) []byte {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return raw[i:]
}
