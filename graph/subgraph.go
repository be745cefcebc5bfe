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
	"fmt"

	"trpc.group/trpc-go/trpc-agent-studio/event"
)

// JoinNamespace nests child under parent.
func JoinNamespace(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + NamespaceSeparator + child
}

// RunSubgraph runs sub inline from inside a node, under namespace name
// nested in the caller's namespace. The sub graph shares the caller's
// lineage, event stream and resume values, and uses the caller's saver
// unless it has its own. When the calling node is being re-executed after
// an interrupt raised inside sub, sub resumes from the checkpoint it was
// suspended at; otherwise it starts fresh from input.
func RunSubgraph(ctx context.Context, sub *Executor, name string, input State) (State, error) {
	parent, ok := ExecutionContextFrom(ctx)
	if !ok {
		return State{}, fmt.Errorf("subgraph %s: %w", name, ErrNoExecutionContext)
	}
	saver := sub.saver
	if saver == nil {
		saver = parent.saver
	}
	inv := &Invocation{
		LineageID: parent.LineageID,
		Namespace: JoinNamespace(parent.Namespace, name),
	}
	if parent.Resuming() && saver != nil {
		// Checkpoints written before nested ids were recorded fall back to
		// the latest one of the namespace.
		id := parent.subgraphCheckpoint(inv.Namespace)
		tuple, err := saver.GetTuple(ctx, CreateCheckpointConfig(inv.LineageID, id, inv.Namespace))
		if err != nil {
			return State{}, fmt.Errorf("subgraph %s: load checkpoint: %w", name, err)
		}
		if tuple != nil && tuple.Checkpoint.IsInterrupted() {
			inv.Resume = &ResumeCommand{}
			inv.CheckpointID = tuple.Checkpoint.ID
		}
	}
	if inv.Resume == nil {
		inv.Input = input.Clone().Messages
		inv.Fresh = true
	}
	// Messages the sub graph emits are not repeated when the calling node
	// returns them.
	emit := func(e *event.Event) error {
		if e.Kind == event.KindMessage {
			parent.markStreamed(e)
		}
		if parent.emit == nil {
			return nil
		}
		return parent.emit(e)
	}
	return sub.run(ctx, inv, emit, saver, parent.resume)
}
