// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements the process-wide session store: an
// expiring key/value store keyed by session id, with a background
// reaper. Sessions are in-memory only — create with a deadline, sweep
// expired entries on a timer, read-then-remove on access.
//
// # Thread Safety
//
// Store is safe for concurrent use. Per-session item mutation is
// serialized by a per-item mutex; the top-level map is guarded by an
// RWMutex so reads of distinct sessions don't contend with each other.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalSessionID is the default session id used when a Payload's
// context carries none.
const LocalSessionID = "local"

// NewID mints a fresh session id for a connection that carries no
// caller-supplied sessionId.
func NewID() string {
	return uuid.New().String()
}

// DefaultTTL is the session lifetime granted by a successful
// initialize handshake.
const DefaultTTL = 1800 * time.Second

// ReapInterval is how often the background reaper sweeps expired
// sessions.
const ReapInterval = 60 * time.Second

// Item is one session's expiring key/value state.
type Item struct {
	mu        sync.Mutex
	items     map[string]string
	expiresAt time.Time
}

// Get returns a copy of a key's value and whether it is set.
func (it *Item) Get(key string) (string, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	v, ok := it.items[key]
	return v, ok
}

// SetItem mutates one key in the session's item map.
func (it *Item) SetItem(key, value string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.items == nil {
		it.items = make(map[string]string)
	}
	it.items[key] = value
}

// ExpiresAt returns the absolute expiry timestamp.
func (it *Item) ExpiresAt() time.Time {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.expiresAt
}

// Store is the process-wide session table.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Item
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewStore builds an empty session store and starts its background
// reaper goroutine. Call Close to stop the reaper.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*Item),
		logger:   logger.With(slog.String("subsystem", "session_store")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Create inserts a new session with the given TTL, overwriting any
// existing session at the same id.
func (s *Store) Create(id string, ttl time.Duration) *Item {
	item := &Item{items: make(map[string]string), expiresAt: time.Now().Add(ttl)}
	s.mu.Lock()
	s.sessions[id] = item
	s.mu.Unlock()
	return item
}

// Get returns the live session for id, evicting it first if expired. A
// returned session always has an expiry in the future.
func (s *Store) Get(id string) (*Item, bool) {
	s.mu.RLock()
	item, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(item.ExpiresAt()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, false
	}
	return item, true
}

// GetOrCreate returns the live session for id, creating one with
// DefaultTTL if absent or expired.
func (s *Store) GetOrCreate(id string) *Item {
	if item, ok := s.Get(id); ok {
		return item
	}
	return s.Create(id, DefaultTTL)
}

// reapLoop sweeps expired sessions every ReapInterval until Close.
func (s *Store) reapLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	var expired []string

	s.mu.RLock()
	for id, item := range s.sessions {
		if now.After(item.ExpiresAt()) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.logger.Info("reaped expired sessions", slog.Int("count", len(expired)))
}

// Close stops the background reaper and waits for it to exit.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// sessionContextKey is an unexported type so the context value this
// package stores can never collide with a key from another package.
type sessionContextKey struct{}

// WithSessionID returns a derived context carrying sessionID, set once
// at dispatch entry. Handlers recover their session through
// SessionIDFromContext rather than any global slot.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext recovers the session id set by WithSessionID,
// defaulting to LocalSessionID.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionContextKey{}).(string); ok && v != "" {
		return v
	}
	return LocalSessionID
}
