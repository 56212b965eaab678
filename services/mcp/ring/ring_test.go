// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushPopOrder(t *testing.T) {
	r := New[int]()
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, r.Pop())
	}
	assert.True(t, r.IsEmpty())
}

func TestRing_TryPushFullReturnsFalse(t *testing.T) {
	r := New[int]()
	for i := 0; i < Capacity; i++ {
		require.True(t, r.TryPush(i))
	}
	assert.False(t, r.TryPush(999))
	assert.True(t, r.IsFull())
}

func TestRing_TryPopEmptyReturnsFalse(t *testing.T) {
	r := New[int]()
	_, ok := r.TryPop()
	assert.False(t, ok)
}

func TestRing_ConcurrentProducerConsumerPreservesOrder(t *testing.T) {
	r := New[int]()
	const n = 5000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			r.Push(i)
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			received = append(received, r.Pop())
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for producer/consumer to drain")
	}

	require.Len(t, received, n)
	for i, v := range received {
		assert.Equal(t, i, v)
	}
}

func TestRing_WrapAroundPastCapacity(t *testing.T) {
	r := New[int]()
	total := Capacity*3 + 7
	for i := 0; i < total; i++ {
		r.Push(i)
		assert.Equal(t, i, r.Pop())
	}
}
