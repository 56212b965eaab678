// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package framing implements the wire framing: each message is a 4-byte
// big-endian length prefix followed by exactly that many bytes of
// payload. Exactly one message per frame; no batching.
//
// # Description
//
// Framing is generic over any io.Reader/io.Writer so it composes with
// shm.Ring (the real transport) and, in tests, with an in-memory
// io.Pipe or bytes.Buffer.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength bounds a single frame's payload to guard against a
// corrupted length prefix causing an unbounded allocation.
const MaxFrameLength = 64 * 1024 * 1024

// lengthPrefixSize is the width of the frame's length field.
const lengthPrefixSize = 4

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("framing: payload of %d bytes exceeds max frame length %d", len(payload), MaxFrameLength)
	}
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if err := writeFull(w, lenBuf[:]); err != nil {
		return fmt.Errorf("framing: writing length prefix: %w", err)
	}
	if err := writeFull(w, payload); err != nil {
		return fmt.Errorf("framing: writing payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, blocking as r does.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if err := readFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("framing: reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLength {
		return nil, fmt.Errorf("framing: frame length %d exceeds max %d", n, MaxFrameLength)
	}
	payload := make([]byte, n)
	if err := readFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: reading payload: %w", err)
	}
	return payload, nil
}

// writeFull writes all of buf, looping over partial writes from w.Write,
// since shm.Ring.Write writes fully-or-errors but an io.Writer in general
// may not.
func writeFull(w io.Writer, buf []byte) error {
	for written := 0; written < len(buf); {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

// readFull reads exactly len(buf) bytes, looping over partial reads —
// shm.Ring.Read returns min(available, len(buf)) bytes, so a single
// Read call is not guaranteed to fill buf.
func readFull(r io.Reader, buf []byte) error {
	for read := 0; read < len(buf); {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return err
		}
	}
	return nil
}
