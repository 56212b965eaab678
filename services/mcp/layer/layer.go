// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layer implements the ordered transform pipeline: a Chain of
// Layer values, each exposing paired inbound/outbound transforms over a
// schema.Payload.
//
// # Description
//
// A Layer is a struct holding two closures, not an interface hierarchy.
// Mutation (Chain.Append) is serialized with a mutex; traversal
// (Inbound/Outbound) reads a snapshot slice so many callers can
// traverse concurrently without contending on a lock.
package layer

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// Direction records which way a traversal is moving, useful for layers
// that behave differently inbound vs outbound (e.g. a trace layer that
// logs both but labels them).
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// Result is what a single layer's transform returns. A nil Data
// short-circuits further traversal in that direction.
type Result struct {
	Direction Direction
	Data      *schema.Payload
}

// TransformFunc is one half (inbound or outbound) of a Layer.
type TransformFunc func(payload *schema.Payload) (Result, error)

// Layer is one pipeline stage: a name (for logging/errors) plus paired
// inbound/outbound transforms.
type Layer struct {
	Name     string
	Inbound  TransformFunc
	Outbound TransformFunc
}

// passthrough is used for a Layer that only cares about one direction;
// the other direction forwards the payload unchanged.
func passthrough(payload *schema.Payload) (Result, error) {
	return Result{Data: payload}, nil
}

// NewInboundOnly builds a Layer whose Outbound is a no-op passthrough.
func NewInboundOnly(name string, inbound TransformFunc) Layer {
	return Layer{Name: name, Inbound: inbound, Outbound: passthrough}
}

// NewOutboundOnly builds a Layer whose Inbound is a no-op passthrough.
func NewOutboundOnly(name string, outbound TransformFunc) Layer {
	return Layer{Name: name, Inbound: passthrough, Outbound: outbound}
}

// Chain is an ordered list of Layers. Outbound traversal runs
// front-to-back (application layers push data outward); inbound
// traversal runs back-to-front (the transport layer, appended last,
// reads bytes first).
type Chain struct {
	mu     sync.RWMutex
	layers []Layer
}

// NewChain builds an empty chain. Layers are added with Append:
// application layers first, transport layer last.
func NewChain() *Chain {
	return &Chain{}
}

// Append registers a layer at the end of the chain. Safe for concurrent
// use; mutation is serialized, and in-flight traversals see either the
// pre- or post-append snapshot, never a torn one.
func (c *Chain) Append(l Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = append(c.layers, l)
}

// Len reports how many layers are registered.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layers)
}

// snapshot copies the current layer slice under the read lock so
// traversal never observes a mutation mid-flight.
func (c *Chain) snapshot() []Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

// Outbound drives payload through every layer front-to-back, stopping
// early if any layer returns nil Data. An error from any layer aborts
// the remaining traversal.
func (c *Chain) Outbound(payload *schema.Payload) (*schema.Payload, error) {
	layers := c.snapshot()
	current := payload
	for _, l := range layers {
		result, err := l.Outbound(current)
		if err != nil {
			return nil, fmt.Errorf("layer %q outbound: %w", l.Name, err)
		}
		if result.Data == nil {
			return nil, nil
		}
		current = result.Data
	}
	return current, nil
}

// Inbound drives payload through every layer back-to-front, stopping
// early if any layer returns nil Data.
func (c *Chain) Inbound(payload *schema.Payload) (*schema.Payload, error) {
	layers := c.snapshot()
	current := payload
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		result, err := l.Inbound(current)
		if err != nil {
			return nil, fmt.Errorf("layer %q inbound: %w", l.Name, err)
		}
		if result.Data == nil {
			return nil, nil
		}
		current = result.Data
	}
	return current, nil
}
