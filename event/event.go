//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package event defines the internal events a graph run produces. The
// stream package turns them into wire frames.
package event

import (
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-studio/model"
)

// Kind classifies an event.
type Kind string

// Event kinds.
const (
	// KindMessage carries one message, or one chunk of a streamed message.
	KindMessage Kind = "message"
	// KindValues carries a full state snapshot after a checkpoint.
	KindValues Kind = "values"
	// KindInterrupt reports that the run suspended for a human decision.
	KindInterrupt Kind = "interrupt"
	// KindError reports that the run failed.
	KindError Kind = "error"
	// KindCustom carries a free-form payload written by a node.
	KindCustom Kind = "custom"
)

// Event is one item of a run's internal event sequence.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Author is the graph node that produced the event.
	Author string `json:"author,omitempty"`
	// Namespace is the checkpoint namespace of the producing graph. It is
	// empty for the top-level graph.
	Namespace string `json:"namespace,omitempty"`

	Message   *model.Message  `json:"message,omitempty"`
	IsPartial bool            `json:"is_partial,omitempty"`
	Values    []model.Message `json:"values,omitempty"`
	Interrupt *Interrupt      `json:"interrupt,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Custom    any             `json:"custom,omitempty"`
}

// Interrupt describes a pending human decision.
type Interrupt struct {
	// ID keys the resume value, usually the tool call id.
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Value  any    `json:"value"`
}

// Error describes a run failure.
type Error struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

// Option configures an Event.
type Option func(*Event)

// WithAuthor sets the producing node.
func WithAuthor(author string) Option {
	return func(e *Event) { e.Author = author }
}

// WithNamespace sets the producing graph namespace.
func WithNamespace(ns string) Option {
	return func(e *Event) { e.Namespace = ns }
}

// New creates an event of the given kind with a fresh id.
func New(kind Kind, opts ...Option) *Event {
	e := &Event{ID: uuid.NewString(), Kind: kind, Timestamp: time.Now()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewMessageEvent wraps a complete message, or a chunk when partial is set.
func NewMessageEvent(msg model.Message, partial bool, opts ...Option) *Event {
	e := New(KindMessage, opts...)
	e.Message = &msg
	e.IsPartial = partial
	return e
}

// NewValuesEvent wraps a state snapshot. The slice is copied.
func NewValuesEvent(messages []model.Message, opts ...Option) *Event {
	e := New(KindValues, opts...)
	e.Values = append(make([]model.Message, 0, len(messages)), messages...)
	return e
}

// NewInterruptEvent reports a suspension keyed by id.
func NewInterruptEvent(id, nodeID string, value any, opts ...Option) *Event {
	e := New(KindInterrupt, opts...)
	e.Interrupt = &Interrupt{ID: id, NodeID: nodeID, Value: value}
	return e
}

// NewErrorEvent reports a failure of the given kind.
func NewErrorEvent(kind, message string, opts ...Option) *Event {
	e := New(KindError, opts...)
	e.Error = &Error{Kind: kind, Message: message}
	return e
}

// NewCustomEvent wraps a free-form payload.
func NewCustomEvent(payload any, opts ...Option) *Event {
	e := New(KindCustom, opts...)
	e.Custom = payload
	return e
}

// IsTerminal reports whether the event ends a run.
func (e *Event) IsTerminal() bool {
	return e != nil && (e.Kind == KindInterrupt || e.Kind == KindError)
}

// Clone returns a copy that shares no slices with e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Message != nil {
		msg := *e.Message
		msg.ToolCalls = append([]model.ToolCall(nil), e.Message.ToolCalls...)
		clone.Message = &msg
	}
	if e.Values != nil {
		clone.Values = append([]model.Message(nil), e.Values...)
	}
	if e.Interrupt != nil {
		in := *e.Interrupt
		clone.Interrupt = &in
	}
	if e.Error != nil {
		er := *e.Error
		clone.Error = &er
	}
	return &clone
}
