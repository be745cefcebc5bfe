//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. A run moves from created to streaming and ends in exactly
// one of the other four.
const (
	StatusCreated     Status = "created"
	StatusStreaming   Status = "streaming"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusCancelled   Status = "cancelled"
	StatusErrored     Status = "errored"
)

// Run is one execution of a graph on a thread.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	CreatedAt   time.Time

	mu     sync.RWMutex
	status Status
}

// Status returns the current run status.
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Done reports whether the run has ended.
func (r *Run) Done() bool {
	switch r.Status() {
	case StatusCreated, StatusStreaming:
		return false
	}
	return true
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}
