// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control implements the control bus: a broadcast channel
// fanning lifecycle Signals out to N independently cloned receivers,
// used for stop signalling, never for data.
//
// # Description
//
// Signals are a small enum, not raw integers. Each subscriber gets its
// own bounded channel; a slow subscriber that can't keep up has
// signals dropped and counted rather than blocking the publisher.
package control

import "sync"

// Signal is a lifecycle event broadcast on the control bus.
type Signal int

const (
	// SignalNone is never published; zero value guard.
	SignalNone Signal = iota
	// SignalStop requests the receiving executor to stop its serve loop.
	SignalStop
)

// Bus is the single-producer, multi-consumer broadcast channel.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Receiver]struct{}
	dropped     int64
}

// NewBus constructs an empty control bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Receiver]struct{})}
}

// Receiver is one cloned subscription to a Bus.
type Receiver struct {
	ch chan Signal
}

// subscriberCapacity bounds each receiver's buffer.
const subscriberCapacity = 10

// Subscribe creates a new independently-buffered receiver.
func (b *Bus) Subscribe() *Receiver {
	r := &Receiver{ch: make(chan Signal, subscriberCapacity)}
	b.mu.Lock()
	b.subscribers[r] = struct{}{}
	b.mu.Unlock()
	return r
}

// Unsubscribe removes a receiver from the fan-out set.
func (b *Bus) Unsubscribe(r *Receiver) {
	b.mu.Lock()
	delete(b.subscribers, r)
	b.mu.Unlock()
}

// Publish fans signal out to every current subscriber. A subscriber whose
// buffer is full has the signal dropped for it; Bus.DroppedCount tracks
// the total across all subscribers.
func (b *Bus) Publish(signal Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for r := range b.subscribers {
		select {
		case r.ch <- signal:
		default:
			b.dropped++
		}
	}
}

// DroppedCount returns the total number of signals dropped due to a full
// subscriber buffer since the bus was created.
func (b *Bus) DroppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Recv returns the receiver's channel for use in a select statement.
func (r *Receiver) Recv() <-chan Signal { return r.ch }

// TryRecv polls without blocking.
func (r *Receiver) TryRecv() (Signal, bool) {
	select {
	case s := <-r.ch:
		return s, true
	default:
		return SignalNone, false
	}
}
