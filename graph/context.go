//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/model"
)

// ExecutionContext is the per-run state a node can reach through its
// context. It is never shared between runs.
type ExecutionContext struct {
	LineageID string
	Namespace string

	saver CheckpointSaver
	emit  func(*event.Event) error

	mu sync.Mutex
	// resume holds decisions keyed by interrupt id. Nested graphs share it.
	resume map[string]any
	// resumeNode is the node re-executed first after a resume.
	resumeNode string
	resuming   bool
	// subgraphs holds the interrupted checkpoints of nested graphs.
	subgraphs map[string]string
	completed map[string]model.Message
	writes    []PendingWrite
	streamed  map[string]bool
}

type executionContextKey struct{}

func withExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// ExecutionContextFrom returns the execution context of the running graph.
func ExecutionContextFrom(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ec, ok && ec != nil
}

// Resuming reports whether the current node is being re-executed after an
// interrupt.
func (ec *ExecutionContext) Resuming() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.resuming
}

// subgraphCheckpoint returns the interrupted checkpoint of the nested graph
// in namespace ns, or "" when none was recorded.
func (ec *ExecutionContext) subgraphCheckpoint(ns string) string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.subgraphs[ns]
}

func (ec *ExecutionContext) takeResume(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.resume[key]
	if ok {
		delete(ec.resume, key)
	}
	return v, ok
}

// EmitEvent forwards e on the run's event stream. A message event, partial
// or complete, marks its message id as delivered so the executor does not
// repeat the message when the node returns it.
func EmitEvent(ctx context.Context, e *event.Event) error {
	ec, ok := ExecutionContextFrom(ctx)
	if !ok || ec.emit == nil {
		return nil
	}
	if e.Namespace == "" {
		e.Namespace = ec.Namespace
	}
	if e.Kind == event.KindMessage {
		ec.markStreamed(e)
	}
	return ec.emit(e)
}

func (ec *ExecutionContext) markStreamed(e *event.Event) {
	if e.Message == nil || e.Message.ID == "" {
		return
	}
	ec.mu.Lock()
	ec.streamed[e.Message.ID] = true
	ec.mu.Unlock()
}

// CompletedWrite returns the result recorded for taskID before the run
// was suspended.
func CompletedWrite(ctx context.Context, taskID string) (model.Message, bool) {
	ec, ok := ExecutionContextFrom(ctx)
	if !ok {
		return model.Message{}, false
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	msg, ok := ec.completed[taskID]
	return msg, ok
}

// RecordWrite records the result of taskID. If the step is later
// suspended, the result is stored with the checkpoint and handed back
// through CompletedWrite on resume.
func RecordWrite(ctx context.Context, taskID string, msg model.Message) {
	ec, ok := ExecutionContextFrom(ctx)
	if !ok {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.writes = append(ec.writes, PendingWrite{TaskID: taskID, Channel: ChannelMessages, Value: msg})
}

func (ec *ExecutionContext) takeWrites() []PendingWrite {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	w := ec.writes
	ec.writes = nil
	return w
}

func (ec *ExecutionContext) wasStreamed(id string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.streamed[id]
}

func (ec *ExecutionContext) enterNode(node string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.resuming = ec.resumeNode != "" && ec.resumeNode == node
	ec.writes = nil
}

func (ec *ExecutionContext) leaveNode() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.resuming = false
	ec.resumeNode = ""
	ec.completed = nil
}
