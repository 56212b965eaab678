// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shm

import "errors"

// Transport failure modes.
var (
	ErrDataTooLarge    = errors.New("shm: data larger than ring capacity")
	ErrNoDataAvailable = errors.New("shm: no data available (non-blocking)")
	ErrTimeout         = errors.New("shm: read timed out")
	ErrCorrupted       = errors.New("shm: ring header failed validation")
	ErrBufferOverflow  = errors.New("shm: write would overflow the ring")
	ErrAlignment       = errors.New("shm: capacity is not a multiple of the cache-line alignment")
	ErrClosed          = errors.New("shm: ring is closed")
)
