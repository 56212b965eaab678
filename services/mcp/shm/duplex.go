// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shm implements the shared-memory duplex transport: two
// POSIX-mapped-file ring buffers, one per direction, with a
// cache-aligned header and acquire/release position counters.
//
// # Thread Safety
//
// A Ring is single-producer/single-consumer: one goroutine calls Write,
// a different goroutine calls Read/ReadTimeout. Concurrent writers (or
// concurrent readers) are not supported.
package shm

import (
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Magic identifies a valid ring header.
const Magic uint32 = 0xDEADBEEF

// Alignment is the cache line size the header and capacity are aligned to.
const Alignment = 64

// headerSize is the fixed, cache-aligned header region preceding the ring
// bytes in the mapped file.
const headerSize = 64

// pageSize is the granularity file size is rounded up to:
// align_up(header+capacity, 4096).
const pageSize = 4096

// Header field byte offsets within the mapped file:
// { magic, ready, read_pos, write_pos, capacity }.
const (
	offMagic    = 0
	offReady    = 4
	offReadPos  = 8
	offWritePos = 16
	offCapacity = 24
)

// Backoff bounds for the blocking read's exponential sleep.
const (
	minBackoff = 100 * time.Microsecond
	maxBackoff = 10 * time.Millisecond
)

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

// Ring is one direction of the duplex: a byte ring buffer backed by a
// memory-mapped file.
type Ring struct {
	file     *os.File
	path     string
	owner    bool   // the creating side removes the file on Close
	data     []byte // the full mapping: header followed by ring bytes
	ring     []byte // data[headerSize:headerSize+capacity]
	capacity uint64

	// closed/active coordinate Close with a concurrently blocked reader:
	// Close sets closed, then waits for in-flight mapped-memory
	// operations to drain before unmapping.
	closed atomic.Bool
	active atomic.Int64
}

// CreateRing creates (or truncates) the file at path, sized to hold a
// ring of the given capacity, and initializes its header. capacity must
// be a positive multiple of Alignment.
func CreateRing(path string, capacity uint64) (*Ring, error) {
	if capacity == 0 || capacity%Alignment != 0 {
		return nil, ErrAlignment
	}

	size := alignUp(headerSize+capacity, pageSize)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Ring{file: f, path: path, owner: true, data: data, ring: data[headerSize : headerSize+capacity], capacity: capacity}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.data[offMagic])), Magic)
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.data[offReady])), 0)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.data[offReadPos])), 0)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.data[offWritePos])), 0)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.data[offCapacity])), capacity)
	return r, nil
}

// OpenRing opens an existing ring file and validates its header;
// non-matching magic or invalid capacity is rejected.
func OpenRing(path string) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size <= headerSize {
		f.Close()
		return nil, ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	capacity := atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[offCapacity])))
	r := &Ring{file: f, path: path, data: data, capacity: capacity}
	if err := r.validate(); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	r.ring = data[headerSize : headerSize+capacity]
	return r, nil
}

// validate checks the header's magic and capacity.
func (r *Ring) validate() error {
	magic := atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[offMagic])))
	if magic != Magic {
		return ErrCorrupted
	}
	if r.capacity == 0 || r.capacity%Alignment != 0 {
		return ErrAlignment
	}
	if uint64(len(r.data)) < headerSize+r.capacity {
		return ErrCorrupted
	}
	return nil
}

func (r *Ring) readPos() uint64  { return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.data[offReadPos]))) }
func (r *Ring) writePos() uint64 { return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.data[offWritePos]))) }

func (r *Ring) setReady(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.data[offReady])), v)
}

// IsReady reports the header's ready flag.
func (r *Ring) IsReady() bool {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[offReady]))) != 0
}

// Capacity returns the ring's byte capacity.
func (r *Ring) Capacity() uint64 { return r.capacity }

// available returns the number of unread bytes currently in the ring.
func (r *Ring) available() uint64 {
	return r.writePos() - r.readPos()
}

// enter brackets one mapped-memory operation. It returns false if the
// ring is closed; otherwise the caller must invoke the returned leave
// function once it stops touching the mapping.
func (r *Ring) enter() (func(), bool) {
	r.active.Add(1)
	if r.closed.Load() {
		r.active.Add(-1)
		return nil, false
	}
	return func() { r.active.Add(-1) }, true
}

// Write appends data to the ring whole, or not at all: precondition
// len(data) <= capacity, and when there isn't enough free space the
// write fails with ErrBufferOverflow rather than writing partially.
func (r *Ring) Write(data []byte) (int, error) {
	leave, ok := r.enter()
	if !ok {
		return 0, ErrClosed
	}
	defer leave()

	if uint64(len(data)) > r.capacity {
		return 0, ErrDataTooLarge
	}
	free := r.capacity - r.available()
	if uint64(len(data)) > free {
		return 0, ErrBufferOverflow
	}
	if len(data) == 0 {
		return 0, nil
	}

	offset := r.writePos() % r.capacity
	first := r.capacity - offset
	if first > uint64(len(data)) {
		first = uint64(len(data))
	}
	copy(r.ring[offset:offset+first], data[:first])
	if first < uint64(len(data)) {
		copy(r.ring[0:uint64(len(data))-first], data[first:])
	}

	atomic.AddUint64((*uint64)(unsafe.Pointer(&r.data[offWritePos])), uint64(len(data)))
	r.setReady(true)
	r.flush()
	return len(data), nil
}

// flush asks the kernel to propagate the mapping, best-effort. MAP_SHARED
// between processes on the same Linux machine is coherent without it,
// but an explicit Msync keeps the on-disk image current for a peer that
// opens the file later.
func (r *Ring) flush() {
	_ = unix.Msync(r.data, unix.MS_ASYNC)
}

// Read implements io.Reader, blocking indefinitely (with exponential
// backoff) until at least one byte is available.
func (r *Ring) Read(p []byte) (int, error) {
	return r.ReadTimeout(p, 0)
}

// ReadTimeout blocks until write_pos > read_pos or timeout elapses
// (timeout <= 0 means block forever). It reads min(available, len(p))
// bytes — callers needing an exact count must loop, as
// services/mcp/framing does.
func (r *Ring) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	backoff := minBackoff
	for {
		leave, ok := r.enter()
		if !ok {
			return 0, ErrClosed
		}
		if r.available() > 0 {
			n, err := r.readAvailable(p)
			leave()
			return n, err
		}
		leave()

		if timeout > 0 && time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// TryRead is the non-blocking read: it returns ErrNoDataAvailable
// immediately instead of waiting.
func (r *Ring) TryRead(p []byte) (int, error) {
	leave, ok := r.enter()
	if !ok {
		return 0, ErrClosed
	}
	defer leave()

	if r.available() == 0 {
		return 0, ErrNoDataAvailable
	}
	return r.readAvailable(p)
}

func (r *Ring) readAvailable(p []byte) (int, error) {
	avail := r.available()
	n := avail
	if uint64(len(p)) < n {
		n = uint64(len(p))
	}
	if n == 0 {
		return 0, nil
	}

	offset := r.readPos() % r.capacity
	first := r.capacity - offset
	if first > n {
		first = n
	}
	copy(p[:first], r.ring[offset:offset+first])
	if first < n {
		copy(p[first:n], r.ring[0:n-first])
	}

	newReadPos := r.readPos() + n
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.data[offReadPos])), newReadPos)
	if r.writePos() == newReadPos {
		r.setReady(false)
	}
	return int(n), nil
}

// Recover rechecks the header's invariants and clears the ready flag.
// Positions are not rewound, so a reader surviving a recover must
// tolerate whatever it already consumed.
func (r *Ring) Recover() error {
	if err := r.validate(); err != nil {
		return err
	}
	r.setReady(false)
	return nil
}

// Close unmaps the ring and closes its backing file descriptor. A
// reader blocked in ReadTimeout observes ErrClosed on its next backoff
// wakeup; Close waits for any in-flight operation to drain before
// unmapping so that wakeup never touches freed memory. The side that
// created the ring also removes the file; a peer that merely opened it
// leaves the file for the creator to clean up.
func (r *Ring) Close() error {
	r.closed.Store(true)
	for r.active.Load() != 0 {
		time.Sleep(minBackoff)
	}

	err := unix.Munmap(r.data)
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if r.owner {
		if rerr := os.Remove(r.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}
