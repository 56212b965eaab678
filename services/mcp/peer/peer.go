// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package peer wires the runtime's pieces — shared-memory duplex,
// framing, layer chain, codec, ingress ring, session, dispatcher — into
// one running side of an MCP conversation.
//
// # Description
//
// A TransportIO turns a shm.Duplex plus a layer.Chain into the plain
// Send/Receive function values server.Dispatcher and client.Client
// already expect, so neither dispatcher package needs to know its bytes
// come from shared memory. ServerPeer additionally implements
// executor.Peer: a dedicated reader goroutine drives the transport's
// inbound traversal and pushes each decoded message onto an ingress
// ring; each Serve call pops at most one message off the ring and
// dispatches it. The ring decouples transport wakeups from protocol
// logic and is the back-pressure point — a stalled dispatcher blocks
// the reader, never drops a message.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/AleutianAI/AleutianMCP/services/mcp/codec"
	"github.com/AleutianAI/AleutianMCP/services/mcp/framing"
	"github.com/AleutianAI/AleutianMCP/services/mcp/layer"
	"github.com/AleutianAI/AleutianMCP/services/mcp/ring"
	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
	"github.com/AleutianAI/AleutianMCP/services/mcp/server"
	"github.com/AleutianAI/AleutianMCP/services/mcp/session"
	"github.com/AleutianAI/AleutianMCP/services/mcp/shm"
)

// ErrSwallowedFrame is returned by TransportIO.Receive when a layer in the
// chain intentionally dropped an inbound frame (nil Data), so callers can
// tell "nothing to dispatch" apart from a real transport failure.
var ErrSwallowedFrame = errors.New("peer: frame swallowed by layer chain")

// TransportIO adapts a shm.Duplex + layer.Chain pair into the Send/Receive
// closures the protocol dispatchers expect.
type TransportIO struct {
	duplex *shm.Duplex
	chain  *layer.Chain
}

// NewTransportIO builds a TransportIO over duplex. chain may be nil, in
// which case payloads pass through unmodified (no trace layer, etc).
func NewTransportIO(duplex *shm.Duplex, chain *layer.Chain) *TransportIO {
	if chain == nil {
		chain = layer.NewChain()
	}
	return &TransportIO{duplex: duplex, chain: chain}
}

// Send runs msg through codec.Encode, the chain's outbound traversal, and
// framing.WriteFrame onto the duplex's writer ring.
func (t *TransportIO) Send(msg schema.Message) error {
	raw, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("peer: encoding outbound message: %w", err)
	}
	text := string(raw)
	payload, err := t.chain.Outbound(&schema.Payload{Data: &text})
	if err != nil {
		return fmt.Errorf("peer: outbound layer chain: %w", err)
	}
	if payload == nil || payload.Data == nil {
		return nil // a layer swallowed the message; nothing to send.
	}
	return framing.WriteFrame(t.duplex.Writer, []byte(*payload.Data))
}

// Receive blocks for the next frame, decoding it through the chain's
// inbound traversal and the JSON-RPC codec. It attempts shm.Ring.Recover
// once on a corrupted-ring error before giving up; a peer whose ring
// stays corrupted after that shuts down.
func (t *TransportIO) Receive() (schema.Message, error) {
	raw, err := framing.ReadFrame(t.duplex.Reader)
	if err != nil {
		if errors.Is(err, shm.ErrCorrupted) {
			if recErr := t.duplex.Reader.Recover(); recErr == nil {
				raw, err = framing.ReadFrame(t.duplex.Reader)
			}
		}
		if err != nil {
			return schema.Message{}, fmt.Errorf("peer: reading frame: %w", err)
		}
	}

	text := string(raw)
	payload, err := t.chain.Inbound(&schema.Payload{Data: &text})
	if err != nil {
		return schema.Message{}, fmt.Errorf("peer: inbound layer chain: %w", err)
	}
	if payload == nil || payload.Data == nil {
		return schema.Message{}, ErrSwallowedFrame
	}

	msg, err := codec.Decode([]byte(*payload.Data))
	if err != nil {
		return schema.Message{}, fmt.Errorf("peer: decoding frame: %w", err)
	}
	return msg, nil
}

// ServerPeer drives one server.Dispatcher's inbound traffic from a single
// shm.Duplex, implementing executor.Peer. One ServerPeer corresponds to
// one session: the session id is minted once (via session.NewID) unless
// the caller supplies one, and every message this peer decodes is
// dispatched under that session id in context.
type ServerPeer struct {
	io         *TransportIO
	dispatcher *server.Dispatcher
	sessionID  string
	logger     *slog.Logger

	ingress    *ring.Ring[schema.Message]
	readerOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// NewServerPeer constructs a ServerPeer around duplex/chain. If sessionID
// is empty, one is minted with session.NewID(). The dispatcher is wired
// in separately via AttachDispatcher, since server.New itself needs this
// peer's Send method before a Dispatcher value exists to attach.
func NewServerPeer(duplex *shm.Duplex, chain *layer.Chain, sessionID string, logger *slog.Logger) *ServerPeer {
	if sessionID == "" {
		sessionID = session.NewID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerPeer{
		io:        NewTransportIO(duplex, chain),
		sessionID: sessionID,
		logger:    logger.With(slog.String("subsystem", "server_peer"), slog.String("session", sessionID)),
		ingress:   ring.New[schema.Message](),
	}
}

// AttachDispatcher wires the Dispatcher this peer feeds. Must be called
// before Serve is ever invoked.
func (p *ServerPeer) AttachDispatcher(dispatcher *server.Dispatcher) {
	p.dispatcher = dispatcher
}

// SessionID returns the session id this peer dispatches every message
// under.
func (p *ServerPeer) SessionID() string { return p.sessionID }

// Send implements server.Send, so callers wire p.Send directly into
// server.New.
func (p *ServerPeer) Send(msg schema.Message) error {
	return p.io.Send(msg)
}

// readLoop is the single producer feeding the ingress ring: it blocks on
// the transport, decodes one message, and pushes it. Ring.Push blocks
// when the dispatcher falls a full ring behind, so inbound order is
// preserved end to end and nothing is dropped.
func (p *ServerPeer) readLoop() {
	for {
		msg, err := p.io.Receive()
		if errors.Is(err, ErrSwallowedFrame) {
			continue
		}
		if err != nil {
			p.errMu.Lock()
			p.readErr = err
			p.errMu.Unlock()
			return
		}
		p.ingress.Push(msg)
	}
}

func (p *ServerPeer) readError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.readErr
}

// Serve implements executor.Peer: pop at most one decoded message off the
// ingress ring and dispatch it. The first call starts the reader
// goroutine. An empty ring yields instead of blocking so the executor
// loop keeps observing its control-bus receiver between messages; a
// transport failure surfaces here once the ring has drained.
func (p *ServerPeer) Serve() error {
	p.readerOnce.Do(func() { go p.readLoop() })

	msg, ok := p.ingress.TryPop()
	if !ok {
		if err := p.readError(); err != nil {
			p.logger.Error("server peer transport failed, stopping", slog.String("error", err.Error()))
			return err
		}
		runtime.Gosched()
		return nil
	}

	ctx := session.WithSessionID(context.Background(), p.sessionID)
	return p.dispatcher.Dispatch(ctx, msg)
}
