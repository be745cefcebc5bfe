//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package history renders a thread's checkpoints as the state views the
// chat UI shows in its timeline.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

// DefaultLimit caps History when the caller gives no limit.
const DefaultLimit = 1000

// Threads looks up threads by id.
type Threads interface {
	Get(ctx context.Context, id string) (*thread.Thread, error)
}

// Ref names one checkpoint.
type Ref struct {
	CheckpointID string `json:"checkpoint_id"`
	ThreadID     string `json:"thread_id"`
	CheckpointNS string `json:"checkpoint_ns"`
}

// Task is a node scheduled to run after a checkpoint.
type Task struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Path       []string           `json:"path"`
	Error      *string            `json:"error"`
	Interrupts []thread.Interrupt `json:"interrupts"`
	State      any                `json:"state"`
	Result     any                `json:"result"`
}

// View is one checkpoint as the UI sees it.
type View struct {
	Values             map[string]any     `json:"values"`
	Next               []string           `json:"next"`
	Tasks              []Task             `json:"tasks"`
	Metadata           map[string]any     `json:"metadata"`
	CreatedAt          string             `json:"created_at"`
	Checkpoint         Ref                `json:"checkpoint"`
	ParentCheckpoint   Ref                `json:"parent_checkpoint"`
	Interrupts         []thread.Interrupt `json:"interrupts"`
	CheckpointID       string             `json:"checkpoint_id"`
	ParentCheckpointID string             `json:"parent_checkpoint_id"`
}

// Reconstructor reads views from a checkpoint saver.
type Reconstructor struct {
	threads Threads
	saver   graph.CheckpointSaver
}

// New returns a Reconstructor.
func New(threads Threads, saver graph.CheckpointSaver) *Reconstructor {
	return &Reconstructor{threads: threads, saver: saver}
}

// History returns up to limit views of the thread's top-level graph, newest
// first. A limit of zero or less means DefaultLimit.
func (r *Reconstructor) History(ctx context.Context, threadID string, limit int) ([]View, error) {
	if _, err := r.threads.Get(ctx, threadID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	tuples, err := r.saver.List(ctx,
		graph.CreateCheckpointConfig(threadID, "", graph.DefaultCheckpointNamespace),
		&graph.CheckpointFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints of %s: %w", threadID, err)
	}
	views := make([]View, 0, len(tuples))
	for _, t := range tuples {
		views = append(views, NewView(threadID, t))
	}
	return views, nil
}

// State returns the latest view of the thread, or an empty view when it
// has no checkpoints.
func (r *Reconstructor) State(ctx context.Context, threadID string) (View, error) {
	if _, err := r.threads.Get(ctx, threadID); err != nil {
		return View{}, err
	}
	t, err := r.saver.GetTuple(ctx, graph.CreateCheckpointConfig(threadID, "", graph.DefaultCheckpointNamespace))
	if err != nil {
		return View{}, fmt.Errorf("load checkpoint of %s: %w", threadID, err)
	}
	if t == nil {
		return emptyView(threadID), nil
	}
	return NewView(threadID, t), nil
}

// NewView renders one checkpoint tuple.
func NewView(threadID string, t *graph.CheckpointTuple) View {
	ckpt := t.Checkpoint
	v := View{
		Values:     stream.SerializeState(ckpt.Values.Messages),
		Next:       append([]string{}, ckpt.NextNodes...),
		Tasks:      []Task{},
		Metadata:   metadata(t.Metadata),
		CreatedAt:  ckpt.Timestamp.UTC().Format(time.RFC3339Nano),
		Interrupts: []thread.Interrupt{},
		Checkpoint: Ref{
			CheckpointID: ckpt.ID,
			ThreadID:     threadID,
			CheckpointNS: graph.GetNamespace(t.Config),
		},
		ParentCheckpoint: Ref{ThreadID: threadID},
		CheckpointID:     ckpt.ID,
	}
	if t.ParentConfig != nil {
		v.ParentCheckpoint.CheckpointID = graph.GetCheckpointID(t.ParentConfig)
		v.ParentCheckpoint.CheckpointNS = graph.GetNamespace(t.ParentConfig)
	} else if ckpt.ParentID != "" {
		v.ParentCheckpoint.CheckpointID = ckpt.ParentID
	}
	v.ParentCheckpointID = v.ParentCheckpoint.CheckpointID

	is := ckpt.InterruptState
	if is != nil && is.Value != nil {
		v.Interrupts = append(v.Interrupts, thread.Interrupt{Value: is.Value, ID: is.TaskID})
	}
	for _, node := range ckpt.NextNodes {
		task := Task{
			ID:         taskID(ckpt.ID, node),
			Name:       node,
			Path:       []string{"__pregel_pull", node},
			Interrupts: []thread.Interrupt{},
		}
		if is != nil && is.NodeID == node && is.Value != nil {
			task.Interrupts = append(task.Interrupts, thread.Interrupt{Value: is.Value, ID: is.TaskID})
		}
		v.Tasks = append(v.Tasks, task)
	}
	return v
}

func emptyView(threadID string) View {
	return View{
		Values:           map[string]any{},
		Next:             []string{},
		Tasks:            []Task{},
		Metadata:         map[string]any{},
		Interrupts:       []thread.Interrupt{},
		Checkpoint:       Ref{ThreadID: threadID},
		ParentCheckpoint: Ref{ThreadID: threadID},
	}
}

func metadata(m *graph.CheckpointMetadata) map[string]any {
	out := map[string]any{}
	if m == nil {
		return out
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	out["source"] = m.Source
	out["step"] = m.Step
	parents := map[string]string{}
	for k, v := range m.Parents {
		parents[k] = v
	}
	out["parents"] = parents
	return out
}

// taskID derives a stable id for the task running node after checkpoint.
func taskID(checkpointID, node string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(checkpointID+":"+node)).String()
}
