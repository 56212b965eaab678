// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMCP/services/mcp/jobs"
	"github.com/AleutianAI/AleutianMCP/services/mcp/logging"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/session"
	"github.com/AleutianAI/AleutianMCP/services/mcp/tools"
)

// collectingSink records every outbound message a Dispatcher sends, in order.
type collectingSink struct {
	mu       sync.Mutex
	messages []schema.Message
}

func (s *collectingSink) send(msg schema.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *collectingSink) snapshot() []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *collectingSink) {
	t.Helper()
	sink := &collectingSink{}
	cfg := Config{
		ServerInfo: schema.Implementation{Name: "test-server", Version: "0.0.0"},
		Sessions:   session.NewStore(nil),
		Metrics:    jobs.NewMetricsWithRegisterer(prometheus.NewRegistry()),
	}
	d := New(cfg, sink.send)
	d.RegisterToolHandler(tools.EchoTool, tools.Echo)
	t.Cleanup(func() {
		d.Stop()
		cfg.Sessions.Close()
	})
	return d, sink
}

func initializeAndRun(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx := session.WithSessionID(context.Background(), "test-session")
	params, _ := json.Marshal(schema.InitializeParams{ProtocolVersion: schema.ProtocolVersion})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(0), Method: MethodInitialize, Params: params}))
	require.Equal(t, StateInitialized, d.State())
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindNotification, Method: MethodNotificationsInit}))
	require.Equal(t, StateRunning, d.State())
}

// S1: happy tool call — tools/call for a registered tool streams fragments
// and never replies synchronously.
func TestDispatcher_S1_ToolsCallStreamsFragments(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := session.WithSessionID(context.Background(), "s1")
	initializeAndRun(t, d)

	params, _ := json.Marshal(schema.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"alpha beta gamma"}`)})
	id := schema.NewIntID(42)
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: id, Method: MethodToolsCall, Params: params}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 4 }, 2*time.Second, time.Millisecond)

	msgs := sink.snapshot()
	fragmentCount := 0
	for _, m := range msgs {
		if m.Kind == schema.KindResponse && m.ID.Equal(id) {
			fragmentCount++
			var result schema.CallToolResult
			require.NoError(t, json.Unmarshal(m.Result, &result))
			require.Len(t, result.Content, 1)
			assert.Equal(t, "text", result.Content[0].Type)
		}
	}
	assert.Equal(t, 3, fragmentCount)
}

// S3: wrong state — tools/call before notifications/initialized gets
// InvalidRequest, not a silent hang.
func TestDispatcher_S3_ToolsCallBeforeRunningRejected(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := context.Background()
	params, _ := json.Marshal(schema.InitializeParams{})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(1), Method: MethodInitialize, Params: params}))

	callParams, _ := json.Marshal(schema.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"x"}`)})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(2), Method: MethodToolsCall, Params: callParams}))

	msgs := sink.snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.KindError, msgs[1].Kind)
	assert.Equal(t, schema.CodeInvalidRequest, msgs[1].Error.Code)
}

// S6: unknown method — a request gets MethodNotFound, a notification is
// silently ignored.
func TestDispatcher_S6_UnknownMethod(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := context.Background()
	initializeAndRun(t, d)

	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(7), Method: "totally/bogus"}))
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindNotification, Method: "also/bogus"}))

	msgs := sink.snapshot()
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.KindError, last.Kind)
	assert.Equal(t, schema.CodeMethodNotFound, last.Error.Code)
}

func TestDispatcher_ToolsCallUnknownToolRejected(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := context.Background()
	initializeAndRun(t, d)

	params, _ := json.Marshal(schema.CallToolParams{Name: "nonexistent"})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(9), Method: MethodToolsCall, Params: params}))

	msgs := sink.snapshot()
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.KindError, last.Kind)
	assert.Equal(t, schema.CodeMethodNotFound, last.Error.Code)
}

func TestDispatcher_PingRepliesWithTimestampExtra(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(5), Method: MethodPing}))

	msgs := sink.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.KindResponse, msgs[0].Kind)
	_, hasExtra := msgs[0].Extra["extra"]
	assert.True(t, hasExtra)
}

func TestDispatcher_SetLevelPersistsToSession(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := session.WithSessionID(context.Background(), "level-session")
	initializeAndRun(t, d)

	params, _ := json.Marshal(schema.SetLevelParams{Level: "warning"})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(11), Method: MethodLoggingSetLevel, Params: params}))

	msgs := sink.snapshot()
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.KindResponse, last.Kind)

	item := d.cfg.Sessions.GetOrCreate("level-session")
	v, ok := item.Get("debug_level")
	require.True(t, ok)
	assert.Equal(t, "warning", v)
}

func TestDispatcher_ShutdownRepliesThenMovesToShutdownState(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := context.Background()
	initializeAndRun(t, d)

	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(13), Method: MethodShutdown}))

	msgs := sink.snapshot()
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.KindResponse, last.Kind)
	assert.Equal(t, StateShutdown, d.State())
}

// S4: log filter — send_log(L,_) emits notifications/message iff L >=
// session.debug_level.
func TestDispatcher_S4_SendLogRespectsSessionFilter(t *testing.T) {
	d, sink := newTestDispatcher(t)
	ctx := session.WithSessionID(context.Background(), "log-session")
	initializeAndRun(t, d)

	setParams, _ := json.Marshal(schema.SetLevelParams{Level: "warning"})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(30), Method: MethodLoggingSetLevel, Params: setParams}))

	before := len(sink.snapshot())
	require.NoError(t, d.SendLog(ctx, logging.LevelInfo, "test", "below filter"))
	assert.Len(t, sink.snapshot(), before, "info is below the warning filter and must not emit")

	require.NoError(t, d.SendLog(ctx, logging.LevelError, "test", "above filter"))
	msgs := sink.snapshot()
	require.Len(t, msgs, before+1)
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.KindNotification, last.Kind)
	assert.Equal(t, "notifications/message", last.Method)
}

func TestDispatcher_CancelledStopsFurtherFragments(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	initializeAndRun(t, d)

	slowText := ""
	for i := 0; i < 200; i++ {
		slowText += "word "
	}
	params, _ := json.Marshal(schema.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"` + slowText + `"}`)})
	id := schema.NewIntID(21)
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: id, Method: MethodToolsCall, Params: params}))

	cancelParams, _ := json.Marshal(schema.CancelParams{RequestID: id})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindNotification, Method: MethodNotificationsCancelled, Params: cancelParams}))

	assert.False(t, d.jobManager.Active(id))
}

func TestDispatcher_InitializeCreatesSessionWithConfiguredTTL(t *testing.T) {
	sink := &collectingSink{}
	cfg := Config{
		Sessions:   session.NewStore(nil),
		Metrics:    jobs.NewMetricsWithRegisterer(prometheus.NewRegistry()),
		SessionTTL: 2 * time.Hour,
	}
	d := New(cfg, sink.send)
	t.Cleanup(func() {
		d.Stop()
		cfg.Sessions.Close()
	})

	ctx := session.WithSessionID(context.Background(), "ttl-session")
	params, _ := json.Marshal(schema.InitializeParams{ProtocolVersion: schema.ProtocolVersion})
	require.NoError(t, d.Dispatch(ctx, schema.Message{Kind: schema.KindRequest, ID: schema.NewIntID(1), Method: MethodInitialize, Params: params}))

	item, ok := cfg.Sessions.Get("ttl-session")
	require.True(t, ok)
	assert.Greater(t, item.ExpiresAt().Sub(time.Now()), time.Hour)
}
