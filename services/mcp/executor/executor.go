// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs one worker goroutine per peer: each iteration
// checks the control bus for a stop signal, then drives one pass of
// that peer's serve loop, with no intrinsic sleep — backpressure comes
// entirely from the transport's blocking reader.
package executor

import (
	"log/slog"

	"github.com/AleutianAI/AleutianMCP/services/mcp/control"
)

// Peer is one transport-bound serve loop iteration: drive one inbound
// pass of the layer chain (read bytes, decode, dispatch).
type Peer interface {
	Serve() error
}

// Executor spawns and owns one worker goroutine per Peer.
type Executor struct {
	logger *slog.Logger
}

// New constructs an Executor.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger.With(slog.String("subsystem", "executor"))}
}

// Run drives peer.Serve() in a loop on the calling goroutine until
// receiver observes control.SignalStop or peer.Serve returns an error.
// Use Spawn to get the one-goroutine-per-peer arrangement.
func (e *Executor) Run(peer Peer, receiver *control.Receiver) error {
	for {
		if signal, ok := receiver.TryRecv(); ok && signal == control.SignalStop {
			e.logger.Info("executor received stop signal, exiting serve loop")
			return nil
		}

		if err := peer.Serve(); err != nil {
			e.logger.Error("peer serve failed, exiting serve loop", slog.String("error", err.Error()))
			return err
		}
	}
}

// Spawn starts Run on a new goroutine and returns immediately.
func (e *Executor) Spawn(peer Peer, receiver *control.Receiver) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(peer, receiver)
	}()
	return done
}
