// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader dribbles out data a few bytes at a time, so tests exercise
// readFull's loop instead of always getting a whole frame in one Read.
type chunkedReader struct {
	data []byte
	pos  int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := 3
	if n > len(p) {
		n = len(p)
	}
	if c.pos+n > len(c.data) {
		n = len(c.data) - c.pos
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func TestWriteFrameThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_HandlesChunkedReads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a payload split across several small reads")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&chunkedReader{data: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // absurd length prefix
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestWriteFrame_EmptyPayloadRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}
