// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server implements the MCP server-side protocol dispatcher: the
// lifecycle state machine and method table a provider process runs
// against an incoming stream of decoded JSON-RPC messages.
//
// # Description
//
// Config/New follows the defaulted-Config-struct convention used across
// this repository: a configuration struct whose zero values are filled
// in by the constructor, which validates and wires the dependencies
// (job manager, session store, control bus). Dispatch is invoked once
// per inbound message rather than owning a blocking loop — the blocking
// read lives in the executor, not the dispatcher.
//
// The dispatcher can also originate its own requests to the client
// (roots/list, sampling/createMessage). Replies to those are routed
// through a dedicated awaiting-response table keyed by the request id
// the server issued, kept separate from inbound request dispatch so a
// client request can never be mistaken for a reply the server is
// waiting on.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianMCP/services/mcp/control"
	"github.com/AleutianAI/AleutianMCP/services/mcp/jobs"
	"github.com/AleutianAI/AleutianMCP/services/mcp/logging"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/session"
)

var tracer = otel.Tracer("aleutian.mcp.server")

// Send delivers one outbound schema.Message to the peer, normally by
// running it through the outbound layer chain and onto the transport.
type Send func(schema.Message) error

// toolEntry pairs a tool's advertised schema with its handler.
type toolEntry struct {
	tool    schema.Tool
	handler jobs.ToolHandler
}

// Config configures a Dispatcher.
type Config struct {
	ServerInfo schema.Implementation
	Logger     *slog.Logger
	Sessions   *session.Store
	ControlBus *control.Bus
	Metrics    *jobs.Metrics

	// SessionTTL is the lifetime granted to the session created by a
	// successful initialize handshake. Zero means session.DefaultTTL.
	SessionTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sessions == nil {
		c.Sessions = session.NewStore(c.Logger)
	}
	if c.ControlBus == nil {
		c.ControlBus = control.NewBus()
	}
	if c.ServerInfo.Name == "" {
		c.ServerInfo.Name = "mcp-server"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
}

// Dispatcher runs the server-side method table.
type Dispatcher struct {
	mu    sync.Mutex
	state State

	cfg    Config
	tools  map[string]toolEntry
	logger *slog.Logger
	send   Send

	jobManager *jobs.Manager

	// Server-initiated request correlation. nextServerID mints ids for
	// requests this server sends to the client; awaiting maps each such
	// id to the channel its reply is delivered on.
	nextServerID atomic.Int64
	awaitingMu   sync.Mutex
	awaiting     map[schema.ID]chan schema.Message
}

// New constructs a Dispatcher. send is called for every outbound message
// the dispatcher (or its Job Manager) produces.
func New(cfg Config, send Send) *Dispatcher {
	cfg.setDefaults()
	d := &Dispatcher{
		cfg:      cfg,
		tools:    make(map[string]toolEntry),
		logger:   cfg.Logger.With(slog.String("subsystem", "server_dispatcher")),
		send:     send,
		state:    StateUninitialized,
		awaiting: make(map[schema.ID]chan schema.Message),
	}
	d.jobManager = jobs.NewManager(cfg.Logger, cfg.Metrics, d.emitJobEvent)
	return d
}

// RegisterToolHandler adds tool to the table served by tools/list and
// invoked by tools/call.
func (d *Dispatcher) RegisterToolHandler(tool schema.Tool, handler jobs.ToolHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[tool.Name] = toolEntry{tool: tool, handler: handler}
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop closes the job manager and broadcasts SignalStop.
func (d *Dispatcher) Stop() {
	d.cfg.ControlBus.Publish(control.SignalStop)
	d.jobManager.Close()
}

// SendLog emits a notifications/message to the client, but only if level
// clears the calling session's debug_level filter: a message logged at
// level L goes out iff L >= the session's configured level.
func (d *Dispatcher) SendLog(ctx context.Context, level logging.Level, loggerName string, data any) error {
	sessionID := session.SessionIDFromContext(ctx)
	filter := logging.DefaultLevel
	if item, ok := d.cfg.Sessions.Get(sessionID); ok {
		if raw, ok := item.Get("debug_level"); ok {
			if parsed, ok := logging.ParseLevel(raw); ok {
				filter = parsed
			}
		}
	}
	if !logging.ShouldEmit(level, filter) {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("server: marshaling log data: %w", err)
	}
	params, err := json.Marshal(schema.LogMessageParams{Level: level.String(), Logger: loggerName, Data: raw})
	if err != nil {
		return err
	}
	return d.send(schema.Message{Kind: schema.KindNotification, Method: "notifications/message", Params: params})
}

// Dispatch handles one inbound message. ctx carries the session id set
// by the executor for this peer.
func (d *Dispatcher) Dispatch(ctx context.Context, msg schema.Message) error {
	switch msg.Kind {
	case schema.KindRequest:
		return d.dispatchRequest(ctx, msg)
	case schema.KindNotification:
		return d.dispatchNotification(ctx, msg)
	case schema.KindResponse, schema.KindError:
		d.deliverAwaited(msg)
		return nil
	case schema.KindBatch:
		return d.replyError(schema.ID{}, schema.CodeInvalidRequest, "batch requests are not supported")
	default:
		d.logger.Warn("server dispatcher received an undispatchable message, ignoring", slog.String("kind", msg.Kind.String()))
		return nil
	}
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, msg schema.Message) error {
	ctx, span := tracer.Start(ctx, "mcp.dispatch",
		trace.WithAttributes(
			attribute.String("mcp.method", msg.Method),
			attribute.String("mcp.session_id", session.SessionIDFromContext(ctx)),
		),
	)
	defer span.End()

	if requiresRunning(msg.Method) && d.State() != StateRunning {
		return d.replyError(msg.ID, schema.CodeInvalidRequest, fmt.Sprintf("method %q requires state running, current state is %s", msg.Method, d.State()))
	}

	switch msg.Method {
	case MethodInitialize:
		return d.handleInitialize(ctx, msg)
	case MethodPing:
		return d.handlePing(msg)
	case MethodToolsList:
		return d.handleToolsList(msg)
	case MethodToolsCall:
		return d.handleToolsCall(ctx, msg)
	case MethodLoggingSetLevel:
		return d.handleSetLevel(ctx, msg)
	case MethodShutdown:
		return d.handleShutdown(msg)
	default:
		return d.replyError(msg.ID, schema.CodeMethodNotFound, fmt.Sprintf("unknown method %q", msg.Method))
	}
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, msg schema.Message) error {
	switch msg.Method {
	case MethodNotificationsInit:
		return d.handleInitialized()
	case MethodNotificationsCancelled:
		return d.handleCancelled(msg)
	case MethodNotificationsProgress, MethodNotificationsRootsChange:
		return nil // observer hooks only.
	default:
		d.logger.Debug("ignoring unknown notification", slog.String("method", msg.Method))
		return nil
	}
}

func (d *Dispatcher) handleInitialize(ctx context.Context, msg schema.Message) error {
	if d.State() != StateUninitialized {
		return d.replyError(msg.ID, schema.CodeInvalidRequest, "initialize may only be called once, from state uninitialized")
	}

	var params schema.InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return d.replyError(msg.ID, schema.CodeInvalidParams, err.Error())
		}
	}

	sessionID := session.SessionIDFromContext(ctx)
	d.cfg.Sessions.Create(sessionID, d.cfg.SessionTTL)

	d.mu.Lock()
	hasTools := len(d.tools) > 0
	d.state = StateInitialized
	d.mu.Unlock()

	var toolsCap *schema.ToolsCapability
	if hasTools {
		toolsCap = &schema.ToolsCapability{ListChanged: false}
	}

	result := schema.InitializeResult{
		ProtocolVersion: schema.ProtocolVersion,
		ServerInfo:      d.cfg.ServerInfo,
		Capabilities:    schema.ServerCapabilities{Tools: toolsCap, Logging: false},
	}
	return d.replyResult(msg.ID, result)
}

func (d *Dispatcher) handleInitialized() error {
	d.mu.Lock()
	if d.state == StateInitialized {
		d.state = StateRunning
	}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handlePing(msg schema.Message) error {
	extra := map[string]json.RawMessage{}
	ts, _ := json.Marshal(time.Now().UTC().Format(time.RFC3339))
	extra["timestamp"] = ts
	return d.send(schema.Message{Kind: schema.KindResponse, ID: msg.ID, Result: json.RawMessage("{}"), Extra: wrapExtra("extra", extra)})
}

// wrapExtra nests the given fields under a single top-level key, so ping
// replies carry their timestamp at extra.timestamp.
func wrapExtra(key string, fields map[string]json.RawMessage) map[string]json.RawMessage {
	inner, _ := json.Marshal(fields)
	return map[string]json.RawMessage{key: inner}
}

func (d *Dispatcher) handleToolsList(msg schema.Message) error {
	d.mu.Lock()
	tools := make([]schema.Tool, 0, len(d.tools))
	for _, entry := range d.tools {
		tools = append(tools, entry.tool)
	}
	d.mu.Unlock()

	return d.replyResult(msg.ID, schema.ListToolsResult{Tools: tools})
}

// handleToolsCall enqueues the invocation as a job and returns without
// replying — every response for this request id is emitted
// asynchronously by the job manager as the handler streams fragments.
func (d *Dispatcher) handleToolsCall(ctx context.Context, msg schema.Message) error {
	var params schema.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return d.replyError(msg.ID, schema.CodeInvalidParams, err.Error())
	}

	d.mu.Lock()
	entry, ok := d.tools[params.Name]
	d.mu.Unlock()
	if !ok {
		return d.replyError(msg.ID, schema.CodeMethodNotFound, fmt.Sprintf("unknown tool %q", params.Name))
	}

	sessionID := session.SessionIDFromContext(ctx)
	if err := d.jobManager.Start(msg.ID, sessionID, params.Name, entry.handler, params.Arguments); err != nil {
		return d.replyError(msg.ID, schema.CodeInternalError, err.Error())
	}
	return nil
}

func (d *Dispatcher) handleSetLevel(ctx context.Context, msg schema.Message) error {
	var params schema.SetLevelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return d.replyError(msg.ID, schema.CodeInvalidParams, err.Error())
	}
	if _, ok := logging.ParseLevel(params.Level); !ok {
		return d.replyError(msg.ID, schema.CodeInvalidParams, fmt.Sprintf("unknown log level %q", params.Level))
	}

	sessionID := session.SessionIDFromContext(ctx)
	item := d.cfg.Sessions.GetOrCreate(sessionID)
	item.SetItem("debug_level", params.Level)

	return d.replyResult(msg.ID, struct{}{})
}

func (d *Dispatcher) handleShutdown(msg schema.Message) error {
	if err := d.replyResult(msg.ID, struct{}{}); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = StateShutdown
	d.mu.Unlock()
	d.cfg.ControlBus.Publish(control.SignalStop)
	return nil
}

func (d *Dispatcher) handleCancelled(msg schema.Message) error {
	var params schema.CancelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		d.logger.Warn("malformed notifications/cancelled payload", slog.String("error", err.Error()))
		return nil
	}
	d.jobManager.Cancel(params.RequestID)
	return nil
}

// ListRoots issues a roots/list request to the client and blocks until
// its reply arrives or ctx is done.
func (d *Dispatcher) ListRoots(ctx context.Context) (schema.ListRootsResult, error) {
	msg, err := d.request(ctx, "roots/list", struct{}{})
	if err != nil {
		return schema.ListRootsResult{}, err
	}
	var result schema.ListRootsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return schema.ListRootsResult{}, fmt.Errorf("server: decoding roots/list result: %w", err)
	}
	return result, nil
}

// CreateMessage issues a sampling/createMessage request to the client
// and blocks until its reply arrives or ctx is done.
func (d *Dispatcher) CreateMessage(ctx context.Context, params schema.CreateMessageParams) (schema.CreateMessageResult, error) {
	msg, err := d.request(ctx, "sampling/createMessage", params)
	if err != nil {
		return schema.CreateMessageResult{}, err
	}
	var result schema.CreateMessageResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return schema.CreateMessageResult{}, fmt.Errorf("server: decoding sampling result: %w", err)
	}
	return result, nil
}

// NotifyToolsListChanged pushes a notifications/tools/list_changed to the
// client after the tool table is mutated at runtime.
func (d *Dispatcher) NotifyToolsListChanged() error {
	return d.send(schema.Message{Kind: schema.KindNotification, Method: "notifications/tools/list_changed"})
}

// request sends one server-initiated request and waits for its reply on
// a channel registered in the awaiting table. Server-issued ids use a
// distinct string form so they can never collide with the integer ids a
// client issues for its own requests.
func (d *Dispatcher) request(ctx context.Context, method string, params any) (schema.Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return schema.Message{}, fmt.Errorf("server: marshaling %s params: %w", method, err)
	}

	id := schema.NewStringID(fmt.Sprintf("server-%d", d.nextServerID.Add(1)))
	replyCh := make(chan schema.Message, 1)
	d.awaitingMu.Lock()
	d.awaiting[id] = replyCh
	d.awaitingMu.Unlock()
	defer func() {
		d.awaitingMu.Lock()
		delete(d.awaiting, id)
		d.awaitingMu.Unlock()
	}()

	if err := d.send(schema.Message{Kind: schema.KindRequest, ID: id, Method: method, Params: raw}); err != nil {
		return schema.Message{}, fmt.Errorf("server: sending %s: %w", method, err)
	}

	select {
	case msg := <-replyCh:
		if msg.Kind == schema.KindError {
			return schema.Message{}, msg.Error
		}
		return msg, nil
	case <-ctx.Done():
		return schema.Message{}, ctx.Err()
	}
}

// deliverAwaited routes an inbound Response/Error to whichever
// server-initiated request is waiting on its id, if any.
func (d *Dispatcher) deliverAwaited(msg schema.Message) {
	d.awaitingMu.Lock()
	replyCh, ok := d.awaiting[msg.ID]
	d.awaitingMu.Unlock()
	if !ok {
		d.logger.Warn("response does not match any awaited server request, dropping",
			slog.String("kind", msg.Kind.String()))
		return
	}
	select {
	case replyCh <- msg:
	default:
	}
}

// emitJobEvent converts one jobs.TaskEvent into a Response or Error
// message and sends it. It is the Job Manager's Emitter callback,
// invoked from the manager's own poll-loop goroutine; a single
// tools/call may emit several Responses sharing the request id, one per
// streamed fragment.
func (d *Dispatcher) emitJobEvent(requestID schema.ID, event jobs.TaskEvent, done bool, err error) {
	if done {
		if err != nil {
			d.sendErrorFor(requestID, jobs.ToolExecutionError(err))
		}
		return
	}

	entry, convErr := schema.NewContentEntry(event.Load, event.Text)
	if convErr != nil {
		d.sendErrorFor(requestID, &schema.RPCError{Code: schema.CodeInternalError, Message: convErr.Error()})
		return
	}
	result := schema.CallToolResult{Content: []schema.ContentEntry{entry}}
	if sendErr := d.replyResult(requestID, result); sendErr != nil {
		d.logger.Error("failed to emit tool call fragment", slog.String("error", sendErr.Error()))
	}
}

func (d *Dispatcher) sendErrorFor(id schema.ID, rpcErr *schema.RPCError) {
	if sendErr := d.send(schema.Message{Kind: schema.KindError, ID: id, Error: rpcErr}); sendErr != nil {
		d.logger.Error("failed to emit job error", slog.String("error", sendErr.Error()))
	}
}

func (d *Dispatcher) replyResult(id schema.ID, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("server: marshaling result: %w", err)
	}
	return d.send(schema.Message{Kind: schema.KindResponse, ID: id, Result: raw})
}

func (d *Dispatcher) replyError(id schema.ID, code int, message string) error {
	return d.send(schema.Message{Kind: schema.KindError, ID: id, Error: &schema.RPCError{Code: code, Message: message}})
}
