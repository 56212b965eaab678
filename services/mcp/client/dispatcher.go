// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client implements the MCP client-side protocol dispatcher: the
// host-side half of the handshake, issuing requests with monotonic ids
// and polling a pending-response cache for their replies, while routing
// server-initiated requests to a Provider.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// ErrTimeout is returned when a call's response does not appear in the
// pending cache before its deadline.
var ErrTimeout = clientErr("client: timed out waiting for response")

// Polling granularity for the pending-response cache: finer-grained when
// waiting without a deadline, coarser when a deadline bounds the wait.
const (
	pollIntervalNoTimeout = 100 * time.Millisecond
	pollIntervalBounded   = 300 * time.Millisecond
)

// Send delivers one outbound schema.Message to the peer.
type Send func(schema.Message) error

// Receive blocks until the next decoded inbound message is available.
type Receive func() (schema.Message, error)

// Client is the host-side MCP dispatcher.
type Client struct {
	send     Send
	provider Provider
	logger   *slog.Logger

	nextID atomic.Int64
	cache  *pendingCache

	mu          sync.Mutex
	initialized bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Client and starts its inbound routing loop, which
// calls receive repeatedly until Close.
func New(send Send, receive Receive, provider Provider, logger *slog.Logger) *Client {
	if provider == nil {
		provider = NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		send:     send,
		provider: provider,
		logger:   logger.With(slog.String("subsystem", "client_dispatcher")),
		cache:    newPendingCache(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go c.inboundLoop(receive)
	return c
}

// Close stops the inbound routing loop.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Client) inboundLoop(receive Receive) {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		msg, err := receive()
		if err != nil {
			c.logger.Debug("inbound receive ended", slog.String("error", err.Error()))
			return
		}
		c.routeInbound(msg)
	}
}

// routeInbound demuxes one inbound message: responses and errors feed
// the pending cache; server-initiated requests go to the provider;
// notifications/message goes to the provider's log sink.
func (c *Client) routeInbound(msg schema.Message) {
	switch msg.Kind {
	case schema.KindResponse, schema.KindError:
		c.cache.push(msg)
	case schema.KindRequest:
		c.handleServerRequest(msg)
	case schema.KindNotification:
		if msg.Method == "notifications/message" {
			var params schema.LogMessageParams
			if err := json.Unmarshal(msg.Params, &params); err == nil {
				c.provider.LogMessage(params)
			}
		}
	}
}

func (c *Client) handleServerRequest(msg schema.Message) {
	ctx := context.Background()
	switch msg.Method {
	case "ping":
		err := c.provider.Ping(ctx)
		c.replyToServer(msg.ID, struct{}{}, err)
	case "roots/list":
		result, err := c.provider.ListRoots(ctx)
		c.replyToServer(msg.ID, result, err)
	case "sampling/createMessage":
		var params schema.CreateMessageParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.replyToServer(msg.ID, nil, err)
			return
		}
		result, err := c.provider.CreateMessage(ctx, params)
		c.replyToServer(msg.ID, result, err)
	default:
		_ = c.send(schema.Message{Kind: schema.KindError, ID: msg.ID, Error: &schema.RPCError{Code: schema.CodeMethodNotFound, Message: fmt.Sprintf("client does not implement %q", msg.Method)}})
	}
}

func (c *Client) replyToServer(id schema.ID, result any, err error) {
	if err != nil {
		_ = c.send(schema.Message{Kind: schema.KindError, ID: id, Error: &schema.RPCError{Code: schema.CodeInternalError, Message: err.Error()}})
		return
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		_ = c.send(schema.Message{Kind: schema.KindError, ID: id, Error: &schema.RPCError{Code: schema.CodeInternalError, Message: merr.Error()}})
		return
	}
	_ = c.send(schema.Message{Kind: schema.KindResponse, ID: id, Result: raw})
}

// nextRequestID assigns the next monotonically increasing 64-bit id.
func (c *Client) nextRequestID() schema.ID {
	return schema.NewIntID(c.nextID.Add(1))
}

// call sends a request and polls the pending cache for its reply.
// timeout <= 0 polls forever at the 100 ms granularity; timeout > 0 polls
// at 300 ms and returns ErrTimeout once the deadline passes.
func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (schema.Message, error) {
	id := c.nextRequestID()
	raw, err := json.Marshal(params)
	if err != nil {
		return schema.Message{}, fmt.Errorf("client: marshaling params for %s: %w", method, err)
	}
	if err := c.send(schema.Message{Kind: schema.KindRequest, ID: id, Method: method, Params: raw}); err != nil {
		return schema.Message{}, fmt.Errorf("client: sending %s: %w", method, err)
	}
	return c.await(ctx, id, timeout)
}

func (c *Client) await(ctx context.Context, id schema.ID, timeout time.Duration) (schema.Message, error) {
	interval := pollIntervalNoTimeout
	var deadline time.Time
	if timeout > 0 {
		interval = pollIntervalBounded
		deadline = time.Now().Add(timeout)
	}
	for {
		if msg, ok := c.cache.takeFirstMatch(id); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return schema.Message{}, ctx.Err()
		default:
		}
		if timeout > 0 && time.Now().After(deadline) {
			return schema.Message{}, ErrTimeout
		}
		time.Sleep(interval)
	}
}

// TryReceive removes and returns the oldest cached Response/Error whose
// id equals id, without blocking. Tool calls that stream more than one
// fragment leave their later fragments in the cache; this is how a host
// drains them.
func (c *Client) TryReceive(id schema.ID) (schema.Message, bool) {
	return c.cache.takeFirstMatch(id)
}

// ReceiveWithTimeout blocks until a cached Response/Error with the given
// id is available, polling the cache until the timeout elapses (timeout
// <= 0 waits indefinitely).
func (c *Client) ReceiveWithTimeout(ctx context.Context, id schema.ID, timeout time.Duration) (schema.Message, error) {
	return c.await(ctx, id, timeout)
}

// Initialize performs the handshake: send initialize, wait for the
// server's reply, then immediately send notifications/initialized. Other
// methods may only be invoked after Initialize returns — a host-level
// contract this client does not police.
func (c *Client) Initialize(ctx context.Context, clientInfo schema.Implementation, timeout time.Duration) (schema.InitializeResult, error) {
	params := schema.InitializeParams{ProtocolVersion: schema.ProtocolVersion, ClientInfo: clientInfo}
	msg, err := c.call(ctx, "initialize", params, timeout)
	if err != nil {
		return schema.InitializeResult{}, err
	}
	if msg.Kind == schema.KindError {
		return schema.InitializeResult{}, msg.Error
	}
	var result schema.InitializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return schema.InitializeResult{}, err
	}

	if err := c.send(schema.Message{Kind: schema.KindNotification, Method: "notifications/initialized"}); err != nil {
		return result, err
	}
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return result, nil
}

// ListTools sends tools/list and returns the server's advertised tools.
// cursor continues a paginated listing; pass "" for the first page.
func (c *Client) ListTools(ctx context.Context, cursor string, timeout time.Duration) (schema.ListToolsResult, error) {
	msg, err := c.call(ctx, "tools/list", schema.ListToolsParams{Cursor: cursor}, timeout)
	if err != nil {
		return schema.ListToolsResult{}, err
	}
	if msg.Kind == schema.KindError {
		return schema.ListToolsResult{}, msg.Error
	}
	var result schema.ListToolsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return schema.ListToolsResult{}, err
	}
	return result, nil
}

// CallTool sends tools/call and returns the first result fragment the
// server streams back. Tools that stream more than one fragment have
// their later fragments retained in the pending cache; drain them with
// TryReceive/ReceiveWithTimeout using the id returned via LastRequestID.
func (c *Client) CallTool(ctx context.Context, params schema.CallToolParams, timeout time.Duration) (schema.CallToolResult, error) {
	msg, err := c.call(ctx, "tools/call", params, timeout)
	if err != nil {
		return schema.CallToolResult{}, err
	}
	if msg.Kind == schema.KindError {
		return schema.CallToolResult{}, msg.Error
	}
	var result schema.CallToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return schema.CallToolResult{}, err
	}
	return result, nil
}

// LastRequestID returns the most recently issued request id, so a host
// can drain later fragments of a streaming tool call.
func (c *Client) LastRequestID() schema.ID {
	return schema.NewIntID(c.nextID.Load())
}

// Ping sends a ping request and waits for the reply.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	msg, err := c.call(ctx, "ping", struct{}{}, timeout)
	if err != nil {
		return err
	}
	if msg.Kind == schema.KindError {
		return msg.Error
	}
	return nil
}

// Cancel sends notifications/cancelled for requestID; best-effort, no
// reply is expected.
func (c *Client) Cancel(requestID schema.ID, reason string) error {
	params, err := json.Marshal(schema.CancelParams{RequestID: requestID, Reason: reason})
	if err != nil {
		return err
	}
	return c.send(schema.Message{Kind: schema.KindNotification, Method: "notifications/cancelled", Params: params})
}

// Shutdown sends the shutdown request and waits for its empty reply.
func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) error {
	msg, err := c.call(ctx, "shutdown", struct{}{}, timeout)
	if err != nil {
		return err
	}
	if msg.Kind == schema.KindError {
		return msg.Error
	}
	return nil
}

// SetLogLevel sends logging/setLevel and waits for its empty reply.
func (c *Client) SetLogLevel(ctx context.Context, level string, timeout time.Duration) error {
	msg, err := c.call(ctx, "logging/setLevel", schema.SetLevelParams{Level: level}, timeout)
	if err != nil {
		return err
	}
	if msg.Kind == schema.KindError {
		return msg.Error
	}
	return nil
}
