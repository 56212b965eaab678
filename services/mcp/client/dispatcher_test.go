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
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMCP/services/mcp/jobs"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/server"
	"github.com/AleutianAI/AleutianMCP/services/mcp/session"
	"github.com/AleutianAI/AleutianMCP/services/mcp/tools"
)

// wiredPair connects a server.Dispatcher and a Client through in-memory
// channels, standing in for the shared-memory transport + layer chain so
// these tests exercise dispatch logic and id correlation directly.
type wiredPair struct {
	serverToClient chan schema.Message
	clientToServer chan schema.Message
	srv            *server.Dispatcher
	cli            *Client
}

func newWiredPair(t *testing.T, provider Provider) *wiredPair {
	t.Helper()
	p := &wiredPair{
		serverToClient: make(chan schema.Message, 64),
		clientToServer: make(chan schema.Message, 64),
	}

	cfg := server.Config{
		ServerInfo: schema.Implementation{Name: "wired-server", Version: "0.0.0"},
		Sessions:   session.NewStore(nil),
		Metrics:    jobs.NewMetricsWithRegisterer(prometheus.NewRegistry()),
	}
	p.srv = server.New(cfg, func(msg schema.Message) error {
		p.serverToClient <- msg
		return nil
	})
	p.srv.RegisterToolHandler(tools.EchoTool, tools.Echo)

	go func() {
		for msg := range p.clientToServer {
			_ = p.srv.Dispatch(context.Background(), msg)
		}
	}()

	receive := func() (schema.Message, error) {
		msg, ok := <-p.serverToClient
		if !ok {
			return schema.Message{}, errClosed
		}
		return msg, nil
	}
	p.cli = New(func(msg schema.Message) error {
		p.clientToServer <- msg
		return nil
	}, receive, provider, nil)

	t.Cleanup(func() {
		close(p.clientToServer)
		close(p.serverToClient)
		p.cli.Close()
		p.srv.Stop()
		cfg.Sessions.Close()
	})
	return p
}

var errClosed = clientErr("client: transport closed")

func TestClient_InitializeHandshake(t *testing.T) {
	p := newWiredPair(t, nil)
	result, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "test-client", Version: "1.0"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, schema.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "wired-server", result.ServerInfo.Name)
}

func TestClient_PingRoundTrips(t *testing.T) {
	p := newWiredPair(t, nil)
	err := p.cli.Ping(context.Background(), 2*time.Second)
	assert.NoError(t, err)
}

func TestClient_ListToolsAfterHandshake(t *testing.T) {
	p := newWiredPair(t, nil)
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	result, err := p.cli.ListTools(context.Background(), "", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestClient_CallToolReturnsFirstFragment(t *testing.T) {
	p := newWiredPair(t, nil)
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	result, err := p.cli.CallTool(context.Background(), schema.CallToolParams{Name: "echo", Arguments: []byte(`{"text":"one two three"}`)}, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "one", result.Content[0].Text)
}

func TestClient_CallToolUnknownToolReturnsError(t *testing.T) {
	p := newWiredPair(t, nil)
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	_, err = p.cli.CallTool(context.Background(), schema.CallToolParams{Name: "nope"}, 2*time.Second)
	require.Error(t, err)
	var rpcErr *schema.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, schema.CodeMethodNotFound, rpcErr.Code)
}

func TestClient_TimeoutWhenNoResponseArrives(t *testing.T) {
	// A client with no wired server peer: every call times out instead of
	// blocking forever.
	never := make(chan schema.Message)
	cli := New(func(schema.Message) error { return nil }, func() (schema.Message, error) {
		msg, ok := <-never
		if !ok {
			return schema.Message{}, errClosed
		}
		return msg, nil
	}, nil, nil)
	t.Cleanup(func() {
		close(never)
		cli.Close()
	})

	_, err := cli.ListTools(context.Background(), "", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_UnclaimedFragmentsRetainedInCache(t *testing.T) {
	p := newWiredPair(t, nil)
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	// tools/call on a multi-word input leaves extra fragments in the
	// cache after CallTool claims the first one.
	_, err = p.cli.CallTool(context.Background(), schema.CallToolParams{Name: "echo", Arguments: []byte(`{"text":"one two three"}`)}, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.cli.cache.len() >= 1 }, time.Second, time.Millisecond)
}

// rootsProvider answers server-initiated roots/list with a fixed root.
type rootsProvider struct {
	NoopProvider
}

func (rootsProvider) ListRoots(context.Context) (schema.ListRootsResult, error) {
	return schema.ListRootsResult{Roots: []schema.Root{{URI: "file:///workspace", Name: "workspace"}}}, nil
}

func TestClient_AnswersServerInitiatedListRoots(t *testing.T) {
	p := newWiredPair(t, rootsProvider{})
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := p.srv.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, result.Roots, 1)
	assert.Equal(t, "file:///workspace", result.Roots[0].URI)
}

func TestClient_DrainsLaterFragmentsByRequestID(t *testing.T) {
	p := newWiredPair(t, nil)
	_, err := p.cli.Initialize(context.Background(), schema.Implementation{Name: "c", Version: "1"}, 2*time.Second)
	require.NoError(t, err)

	first, err := p.cli.CallTool(context.Background(), schema.CallToolParams{Name: "echo", Arguments: []byte(`{"text":"one two three"}`)}, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, first.Content, 1)
	assert.Equal(t, "one", first.Content[0].Text)

	id := p.cli.LastRequestID()
	got := []string{"one"}
	for len(got) < 3 {
		msg, err := p.cli.ReceiveWithTimeout(context.Background(), id, 2*time.Second)
		require.NoError(t, err)
		var fragment schema.CallToolResult
		require.NoError(t, json.Unmarshal(msg.Result, &fragment))
		require.Len(t, fragment.Content, 1)
		got = append(got, fragment.Content[0].Text)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)

	_, ok := p.cli.TryReceive(id)
	assert.False(t, ok)
}
