// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

func TestDecode_StructuralMatching(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind schema.Kind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, schema.KindRequest},
		{"request with string id", `{"jsonrpc":"2.0","id":"abc","method":"tools/list","params":{}}`, schema.KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized","params":{}}`, schema.KindNotification},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, schema.KindResponse},
		{"error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, schema.KindError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"}]`, schema.KindBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestDecode_RejectsBadVersionAndBadJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code int
	}{
		{"not json", `{{{`, schema.CodeParseError},
		{"missing jsonrpc", `{"id":1,"method":"ping"}`, schema.CodeParseError},
		{"wrong jsonrpc", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, schema.CodeParseError},
		{"no recognizable shape", `{"jsonrpc":"2.0","foo":"bar"}`, schema.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			var rpcErr *schema.RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
		})
	}
}

// Round-trip: decode(encode(m)) preserves kind, id, method, and payload
// for every envelope shape, including unknown-field preservation.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	messages := []schema.Message{
		{Kind: schema.KindRequest, ID: schema.NewIntID(7), Method: "tools/call", Params: json.RawMessage(`{"name":"echo"}`)},
		{Kind: schema.KindRequest, ID: schema.NewStringID("server-3"), Method: "roots/list", Params: json.RawMessage(`{}`)},
		{Kind: schema.KindNotification, Method: "notifications/cancelled", Params: json.RawMessage(`{"requestId":7}`)},
		{Kind: schema.KindResponse, ID: schema.NewIntID(7), Result: json.RawMessage(`{"content":[]}`)},
		{Kind: schema.KindError, ID: schema.NewIntID(9), Error: &schema.RPCError{Code: schema.CodeMethodNotFound, Message: "unknown"}},
		{
			Kind:   schema.KindResponse,
			ID:     schema.NewIntID(1),
			Result: json.RawMessage(`{}`),
			Extra:  map[string]json.RawMessage{"_meta": json.RawMessage(`{"trace":"on"}`)},
		},
	}

	for _, original := range messages {
		encoded, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		assert.Equal(t, original.Kind, decoded.Kind)
		assert.True(t, original.ID.Equal(decoded.ID))
		assert.Equal(t, original.Method, decoded.Method)
		if original.Error != nil {
			require.NotNil(t, decoded.Error)
			assert.Equal(t, original.Error.Code, decoded.Error.Code)
		}
		for key, value := range original.Extra {
			assert.JSONEq(t, string(value), string(decoded.Extra[key]), "extra key %s", key)
		}
	}
}

func TestEncode_PreservesIDType(t *testing.T) {
	strMsg := schema.Message{Kind: schema.KindResponse, ID: schema.NewStringID("abc"), Result: json.RawMessage(`{}`)}
	encoded, err := Encode(strMsg)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"id":"abc"`)

	numMsg := schema.Message{Kind: schema.KindResponse, ID: schema.NewIntID(42), Result: json.RawMessage(`{}`)}
	encoded, err = Encode(numMsg)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"id":42`)
}

func TestEncode_OmitsAbsentFields(t *testing.T) {
	msg := schema.Message{Kind: schema.KindNotification, Method: "notifications/initialized"}
	encoded, err := Encode(msg)
	require.NoError(t, err)

	assert.NotContains(t, string(encoded), `"id"`)
	assert.NotContains(t, string(encoded), `"params"`)
	assert.NotContains(t, string(encoded), "null")
}

func TestEncodeDecode_BatchRoundTrips(t *testing.T) {
	batch := schema.Message{Kind: schema.KindBatch, Batch: []schema.Message{
		{Kind: schema.KindRequest, ID: schema.NewIntID(1), Method: "ping"},
		{Kind: schema.KindNotification, Method: "notifications/initialized"},
	}}

	encoded, err := Encode(batch)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, schema.KindBatch, decoded.Kind)
	require.Len(t, decoded.Batch, 2)
	assert.Equal(t, schema.KindRequest, decoded.Batch[0].Kind)
	assert.Equal(t, schema.KindNotification, decoded.Batch[1].Kind)
}
