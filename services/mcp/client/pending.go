// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"sync"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// pendingCache is the mutex-guarded FIFO cache of Response/Error
// messages awaiting a caller to drain them. It is a drainable shared
// cache rather than a channel-per-id map because a streaming tools/call
// produces more than one Response sharing an id, and each must stay
// retrievable until explicitly drained.
type pendingCache struct {
	mu    sync.Mutex
	items []schema.Message
}

func newPendingCache() *pendingCache {
	return &pendingCache{}
}

// push appends a Response or Error message to the cache.
func (c *pendingCache) push(msg schema.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, msg)
}

// takeFirstMatch removes and returns the first cached message whose id
// equals id, if any. Non-matching ids are left untouched in the cache.
func (c *pendingCache) takeFirstMatch(id schema.ID) (schema.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, msg := range c.items {
		if msg.ID.Equal(id) {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return msg, true
		}
	}
	return schema.Message{}, false
}

// len reports how many messages are currently cached, for tests.
func (c *pendingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
