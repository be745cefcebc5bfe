//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package thread tracks conversation threads and their run status. The
// registry is plain in-memory state with an explicit lifecycle: New at
// startup, Start to begin expiring threads, Stop at shutdown.
package thread

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
)

// Status is the run status of a thread.
type Status string

// Thread statuses.
const (
	StatusIdle        Status = "idle"
	StatusBusy        Status = "busy"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

// Collision policies of Create.
const (
	IfExistsRaise     = "raise"
	IfExistsReplace   = "replace"
	IfExistsDoNothing = "do_nothing"
)

// TTLStrategyDelete removes an expired thread together with its checkpoints.
const TTLStrategyDelete = "delete"

// Sentinels matched by the typed errors below.
var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadExists   = errors.New("thread already exists")
	ErrThreadBusy     = errors.New("thread is busy")
)

// Thread is a conversation and its lifecycle state.
type Thread struct {
	ThreadID  string         `json:"thread_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata"`
	Status    Status         `json:"status"`
	Config    map[string]any `json:"config"`
	// Values is the last state snapshot of the thread, if any.
	Values any `json:"values"`
	// Interrupts holds the pending interrupts keyed by task id while the
	// thread is interrupted.
	Interrupts map[string][]Interrupt `json:"interrupts,omitempty"`
	TTL        *TTL                   `json:"ttl,omitempty"`
}

// Interrupt is one pending human decision.
type Interrupt struct {
	Value any    `json:"value"`
	ID    string `json:"id"`
}

// TTL expires a thread after a period without activity.
type TTL struct {
	Strategy string `json:"strategy"`
	// Minutes of inactivity before the thread expires.
	Minutes float64 `json:"ttl"`
}

func (t *TTL) duration() time.Duration {
	return time.Duration(t.Minutes * float64(time.Minute))
}

func (t *Thread) clone() *Thread {
	out := *t
	out.Metadata = maps.Clone(t.Metadata)
	out.Config = maps.Clone(t.Config)
	out.Interrupts = maps.Clone(t.Interrupts)
	if t.TTL != nil {
		ttl := *t.TTL
		out.TTL = &ttl
	}
	return &out
}

// ThreadNotFoundError reports an unknown thread id.
type ThreadNotFoundError struct {
	ID string
}

func (e *ThreadNotFoundError) Error() string { return fmt.Sprintf("thread %s not found", e.ID) }

// Is matches ErrThreadNotFound and errs.ErrNotFound.
func (e *ThreadNotFoundError) Is(target error) bool {
	return target == ErrThreadNotFound || target == errs.ErrNotFound
}

// ThreadExistsError reports an id collision on Create.
type ThreadExistsError struct {
	ID string
}

func (e *ThreadExistsError) Error() string { return fmt.Sprintf("thread %s already exists", e.ID) }

// Is matches ErrThreadExists and errs.ErrConflict.
func (e *ThreadExistsError) Is(target error) bool {
	return target == ErrThreadExists || target == errs.ErrConflict
}

// ThreadBusyError reports a thread that already has a run in flight.
type ThreadBusyError struct {
	ID string
}

func (e *ThreadBusyError) Error() string { return fmt.Sprintf("thread %s is busy", e.ID) }

// Is matches ErrThreadBusy and errs.ErrConflict.
func (e *ThreadBusyError) Is(target error) bool {
	return target == ErrThreadBusy || target == errs.ErrConflict
}

// InvalidTransitionError reports a status move the state machine forbids.
type InvalidTransitionError struct {
	ID       string
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("thread %s cannot move from %s to %s", e.ID, e.From, e.To)
}

// Is matches errs.ErrConflict.
func (e *InvalidTransitionError) Is(target error) bool { return target == errs.ErrConflict }

// transitions lists the allowed status moves.
var transitions = map[Status][]Status{
	StatusIdle:        {StatusBusy},
	StatusError:       {StatusBusy},
	StatusInterrupted: {StatusBusy},
	StatusBusy:        {StatusIdle, StatusInterrupted, StatusError},
}
