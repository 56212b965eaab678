// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMCP/services/mcp/control"
)

type countingPeer struct {
	calls atomic.Int64
}

func (p *countingPeer) Serve() error {
	p.calls.Add(1)
	time.Sleep(time.Millisecond)
	return nil
}

func TestExecutor_StopsOnSignalStop(t *testing.T) {
	bus := control.NewBus()
	recv := bus.Subscribe()
	defer bus.Unsubscribe(recv)

	peer := &countingPeer{}
	e := New(nil)
	done := e.Spawn(peer, recv)

	time.Sleep(10 * time.Millisecond)
	bus.Publish(control.SignalStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after SignalStop")
	}

	assert.Greater(t, peer.calls.Load(), int64(0))
}

type failingPeer struct{}

func (failingPeer) Serve() error { return errors.New("transport gone") }

func TestExecutor_ExitsOnServeError(t *testing.T) {
	bus := control.NewBus()
	recv := bus.Subscribe()
	defer bus.Unsubscribe(recv)

	e := New(nil)
	err := e.Run(failingPeer{}, recv)
	assert.Error(t, err)
}
