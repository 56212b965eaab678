// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs implements the job manager: long-running tool
// invocations modelled as cancellable tasks that stream typed result
// fragments back as separate response messages, with a logged,
// Prometheus-instrumented lifecycle keyed by request id.
//
// # Thread Safety
//
// Manager is safe for concurrent use. The job map is guarded by a mutex;
// each job's own event channel has exactly one writer (the handler
// goroutine) and one reader (the manager's poll loop).
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMCP/services/mcp/schema"
)

// ErrDuplicateRequestID is returned by Start when a job is already
// running for the given request id.
var ErrDuplicateRequestID = errors.New("jobs: a job is already running for this request id")

// pollIdleBackoff is how long the poll loop sleeps after a pass that
// found no progress on any job, to avoid pegging a CPU core while idle.
const pollIdleBackoff = time.Millisecond

// eventBufferSize bounds each job's event channel so a fast-streaming
// handler never blocks waiting for the poll loop, within reason.
const eventBufferSize = 64

// job is the manager's internal record for one running tool invocation.
type job struct {
	requestID schema.ID
	sessionID string
	toolName  string
	cancel    context.CancelFunc
	events    chan TaskEvent
}

// Emitter receives one job's events as the manager's poll loop drains
// them, in the order the handler produced them. err is non-nil only
// for the terminal event when the handler returned a failure; done is
// true for that terminal event (success or failure). A cancelled job
// gets no terminal call: its events simply stop.
type Emitter func(requestID schema.ID, event TaskEvent, done bool, err error)

// Manager owns every in-flight job, keyed by request id.
type Manager struct {
	mu      sync.Mutex
	jobs    map[schema.ID]*job
	logger  *slog.Logger
	metrics *Metrics
	emit    Emitter

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager constructs a Manager and starts its dedicated polling
// loop. emit is invoked from the poll loop goroutine for every event
// any job produces.
func NewManager(logger *slog.Logger, metrics *Metrics, emit Emitter) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	m := &Manager{
		jobs:    make(map[schema.ID]*job),
		logger:  logger.With(slog.String("subsystem", "job_manager")),
		metrics: metrics,
		emit:    emit,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go m.pollLoop()
	return m
}

// Start launches handler as a new job for requestID. The handler streams
// TaskEvents on the channel it is given; the manager's poll loop relays
// each one to Emitter in order and evicts the job once the handler
// returns (or is cancelled).
func (m *Manager) Start(requestID schema.ID, sessionID, toolName string, handler ToolHandler, paramsJSON []byte) error {
	m.mu.Lock()
	if _, exists := m.jobs[requestID]; exists {
		m.mu.Unlock()
		return ErrDuplicateRequestID
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		requestID: requestID,
		sessionID: sessionID,
		toolName:  toolName,
		cancel:    cancel,
		events:    make(chan TaskEvent, eventBufferSize),
	}
	m.jobs[requestID] = j
	m.mu.Unlock()

	m.metrics.JobsStartedTotal.WithLabelValues(toolName).Inc()
	m.metrics.ActiveJobs.Inc()
	m.logger.Info("job started", slog.String("tool", toolName), slog.String("session", sessionID))

	go m.run(ctx, j, handler, paramsJSON)
	return nil
}

// run drives one job's handler to completion and pushes its terminal
// event onto the job's own channel for the poll loop to relay.
func (m *Manager) run(ctx context.Context, j *job, handler ToolHandler, paramsJSON []byte) {
	err := handler(ctx, paramsJSON, j.events)

	select {
	case <-ctx.Done():
		// Cancelled: notifications/cancelled already evicted the job;
		// the response stream terminates silently.
		return
	default:
	}

	if err != nil {
		j.events <- TaskEvent{Kind: EventDone, Err: err}
		return
	}
	j.events <- TaskEvent{Kind: EventDone}
}

// Cancel removes requestID's job (if any) and cancels its context. The
// handler observes ctx.Done() and is expected to return promptly; no
// further output for this id is emitted.
func (m *Manager) Cancel(requestID schema.ID) bool {
	m.mu.Lock()
	j, ok := m.jobs[requestID]
	if ok {
		delete(m.jobs, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	m.metrics.ActiveJobs.Dec()
	m.metrics.JobsCompletedTotal.WithLabelValues(j.toolName, "cancelled").Inc()
	m.logger.Info("job cancelled", slog.String("tool", j.toolName))
	return true
}

// Active reports whether a job is currently tracked for requestID.
func (m *Manager) Active(requestID schema.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[requestID]
	return ok
}

// pollLoop is the manager's dedicated polling goroutine: for each
// active job, one non-blocking receive per pass; Data events are
// relayed immediately, Done evicts the job.
func (m *Manager) pollLoop() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if !m.pollOnce() {
			time.Sleep(pollIdleBackoff)
		}
	}
}

// pollOnce does one non-blocking pass over every active job. It returns
// true if any job produced an event, so the caller can skip its idle
// backoff.
func (m *Manager) pollOnce() bool {
	m.mu.Lock()
	active := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		active = append(active, j)
	}
	m.mu.Unlock()

	progressed := false
	for _, j := range active {
		select {
		case ev, ok := <-j.events:
			if !ok {
				continue
			}
			progressed = true
			m.handleEvent(j, ev)
		default:
		}
	}
	return progressed
}

func (m *Manager) handleEvent(j *job, ev TaskEvent) {
	switch ev.Kind {
	case EventData:
		m.metrics.EventsEmittedTotal.WithLabelValues(loadTypeLabel(ev.Load)).Inc()
		if m.emit != nil {
			m.emit(j.requestID, ev, false, nil)
		}
	case EventDone:
		m.mu.Lock()
		delete(m.jobs, j.requestID)
		m.mu.Unlock()

		outcome := "ok"
		if ev.Err != nil {
			outcome = "error"
		}
		m.metrics.ActiveJobs.Dec()
		m.metrics.JobsCompletedTotal.WithLabelValues(j.toolName, outcome).Inc()
		m.logger.Info("job completed", slog.String("tool", j.toolName), slog.String("outcome", outcome))

		if m.emit != nil {
			m.emit(j.requestID, ev, true, ev.Err)
		}
	}
}

func loadTypeLabel(l schema.LoadType) string {
	switch l {
	case schema.LoadAudio:
		return "audio"
	case schema.LoadImage:
		return "image"
	case schema.LoadEmbedded:
		return "embedded"
	default:
		return "text"
	}
}

// Close stops the poll loop, cancels every remaining job, and waits
// for the poll goroutine to exit: tearing down the manager tears down
// every task it owns.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for id, j := range m.jobs {
			j.cancel()
			delete(m.jobs, id)
		}
		m.mu.Unlock()
	})
	<-m.doneCh
}

// ToolExecutionError renders the -32000 application error reported for
// a failed handler.
func ToolExecutionError(err error) *schema.RPCError {
	return &schema.RPCError{
		Code:    schema.CodeToolExecutionFailed,
		Message: fmt.Sprintf("Tool execution failed: %v", err),
	}
}
