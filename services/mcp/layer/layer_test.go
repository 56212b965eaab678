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
	"fmt"
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

func strPtr(s string) *string { return &s }

func TestChain_OutboundOrderIsFrontToBack(t *testing.T) {
	chain := NewChain()
	var order []string

	record := func(name string) TransformFunc {
		return func(p *schema.Payload) (Result, error) {
			order = append(order, name)
			return Result{Data: p}, nil
		}
	}

	chain.Append(Layer{Name: "app", Inbound: passthrough, Outbound: record("app")})
	chain.Append(Layer{Name: "protocol", Inbound: passthrough, Outbound: record("protocol")})
	chain.Append(Layer{Name: "transport", Inbound: passthrough, Outbound: record("transport")})

	_, err := chain.Outbound(&schema.Payload{Data: strPtr("x")})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "protocol", "transport"}, order)
}

func TestChain_InboundOrderIsBackToFront(t *testing.T) {
	chain := NewChain()
	var order []string

	record := func(name string) TransformFunc {
		return func(p *schema.Payload) (Result, error) {
			order = append(order, name)
			return Result{Data: p}, nil
		}
	}

	chain.Append(Layer{Name: "app", Inbound: record("app"), Outbound: passthrough})
	chain.Append(Layer{Name: "protocol", Inbound: record("protocol"), Outbound: passthrough})
	chain.Append(Layer{Name: "transport", Inbound: record("transport"), Outbound: passthrough})

	_, err := chain.Inbound(&schema.Payload{Data: strPtr("x")})
	require.NoError(t, err)
	assert.Equal(t, []string{"transport", "protocol", "app"}, order)
}

func TestChain_NilDataShortCircuits(t *testing.T) {
	chain := NewChain()
	called := false

	chain.Append(Layer{
		Name:     "filter",
		Inbound:  passthrough,
		Outbound: func(p *schema.Payload) (Result, error) { return Result{Data: nil}, nil },
	})
	chain.Append(Layer{
		Name:     "never",
		Inbound:  passthrough,
		Outbound: func(p *schema.Payload) (Result, error) { called = true; return Result{Data: p}, nil },
	})

	out, err := chain.Outbound(&schema.Payload{Data: strPtr("x")})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.False(t, called)
}

func TestChain_ErrorAbortsTraversal(t *testing.T) {
	chain := NewChain()
	chain.Append(Layer{
		Name:     "boom",
		Inbound:  passthrough,
		Outbound: func(p *schema.Payload) (Result, error) { return Result{}, fmt.Errorf("boom") },
	})

	_, err := chain.Outbound(&schema.Payload{Data: strPtr("x")})
	assert.Error(t, err)
}

func TestTraceLayer_PassesPayloadThroughUnmodified(t *testing.T) {
	chain := NewChain()
	chain.Append(NewTraceLayer(slog.New(slog.NewTextHandler(io.Discard, nil))))

	in := &schema.Payload{Data: strPtr("hello")}
	out, err := chain.Outbound(in)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "hello", *out.Data)
}
