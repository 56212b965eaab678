// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ring implements the ingress ring: a single-producer/
// single-consumer lock-free ring of fixed capacity 64 that carries
// decoded messages from the transport's inbound traversal to the
// protocol dispatcher.
//
// # Description
//
// The ring blocks the producer on a full buffer (busy-spin, trading CPU
// for latency) and never drops data — it is the system's back-pressure
// point, not a best-effort log sink.
//
// # Thread Safety
//
// Safe for exactly one producer goroutine and one consumer goroutine.
// Using more than one of either defeats the lock-free slot protocol.
package ring

import (
	"runtime"
	"sync/atomic"
)

// Capacity is the fixed ingress ring size.
const Capacity = 64

// slot states, stored alongside each buffer cell to hand off ownership
// between producer and consumer without a lock.
const (
	slotEmpty uint32 = iota
	slotFull
)

// Ring is a lock-free SPSC ring buffer of capacity Capacity.
type Ring[T any] struct {
	buf   [Capacity]T
	state [Capacity]atomic.Uint32
	head  atomic.Uint64 // next slot the consumer will read
	tail  atomic.Uint64 // next slot the producer will write
}

// New constructs an empty ring.
func New[T any]() *Ring[T] {
	return &Ring[T]{}
}

// Push blocks (busy-spinning) until there is room, then stores item and
// returns. Push must only ever be called from the single producer
// goroutine.
func (r *Ring[T]) Push(item T) {
	idx := r.tail.Load() % Capacity
	for r.state[idx].Load() != slotEmpty {
		// Consumer hasn't drained this slot yet: back off.
		spinWait()
	}
	r.buf[idx] = item
	r.tail.Add(1)
	r.state[idx].Store(slotFull)
}

// TryPush stores item without blocking. Returns false if the ring is
// currently full.
func (r *Ring[T]) TryPush(item T) bool {
	idx := r.tail.Load() % Capacity
	if r.state[idx].Load() != slotEmpty {
		return false
	}
	r.buf[idx] = item
	r.tail.Add(1)
	r.state[idx].Store(slotFull)
	return true
}

// Pop blocks (busy-spinning) until an item is available, then removes and
// returns it. Pop must only ever be called from the single consumer
// goroutine.
func (r *Ring[T]) Pop() T {
	idx := r.head.Load() % Capacity
	for r.state[idx].Load() != slotFull {
		spinWait()
	}
	item := r.buf[idx]
	var zero T
	r.buf[idx] = zero
	r.state[idx].Store(slotEmpty)
	r.head.Add(1)
	return item
}

// TryPop removes and returns an item without blocking. Returns false if
// the ring is currently empty.
func (r *Ring[T]) TryPop() (T, bool) {
	idx := r.head.Load() % Capacity
	if r.state[idx].Load() != slotFull {
		var zero T
		return zero, false
	}
	item := r.buf[idx]
	var zero T
	r.buf[idx] = zero
	r.state[idx].Store(slotEmpty)
	r.head.Add(1)
	return item, true
}

// Len returns a point-in-time count of queued items. May be stale the
// instant it returns, as with any concurrent structure.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// IsEmpty reports whether the ring currently holds no items.
func (r *Ring[T]) IsEmpty() bool { return r.Len() == 0 }

// IsFull reports whether the ring is currently at Capacity.
func (r *Ring[T]) IsFull() bool { return r.Len() == Capacity }

// spinWait is a single busy-spin tick: it yields the processor with
// runtime.Gosched so the other side of the ring can make progress.
func spinWait() {
	runtime.Gosched()
}
