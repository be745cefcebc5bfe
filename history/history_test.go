//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package history_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-agent-studio/history"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

func setup(t *testing.T) (*thread.Registry, *inmemory.Saver, *history.Reconstructor) {
	t.Helper()
	threads := thread.New()
	_, err := threads.Create(context.Background(), thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)
	saver := inmemory.NewSaver()
	return threads, saver, history.New(threads, saver)
}

func put(t testing.TB, saver graph.CheckpointSaver, ns string, ckpt *graph.Checkpoint, step int) {
	_, err := saver.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("t1", "", ns),
		Checkpoint: ckpt,
		Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, step),
	})
	require.NoError(t, err)
}

func TestHistoryUnknownThread(t *testing.T) {
	_, _, r := setup(t)
	_, err := r.History(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, thread.ErrThreadNotFound)
	_, err = r.State(context.Background(), "nope")
	assert.ErrorIs(t, err, thread.ErrThreadNotFound)
}

func TestHistoryEmptyThread(t *testing.T) {
	_, _, r := setup(t)
	views, err := r.History(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)

	raw, err := json.Marshal(views)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	state, err := r.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, state.CheckpointID)
	assert.Equal(t, "t1", state.Checkpoint.ThreadID)
}

func TestHistoryViews(t *testing.T) {
	_, saver, r := setup(t)
	user := model.NewUserMessage("2+2?")
	root := graph.NewCheckpoint(graph.State{Messages: []model.Message{user}}, "", []string{"Math_Agent"})
	put(t, saver, "", root, 0)

	payload := []any{map[string]any{"action_request": map[string]any{"action": "add"}}}
	suspended := graph.NewCheckpoint(graph.State{Messages: []model.Message{user}}, root.ID, []string{"tools"})
	suspended.Timestamp = root.Timestamp.Add(time.Second)
	suspended.InterruptState = &graph.InterruptState{NodeID: "tools", TaskID: "call_1", Value: payload, Step: 1}
	put(t, saver, "", suspended, 1)

	// Nested graph checkpoints are not part of the thread timeline.
	put(t, saver, "Math_Agent", graph.NewCheckpoint(graph.State{}, "", nil), 0)

	views, err := r.History(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, views, 2)

	latest := views[0]
	assert.Equal(t, suspended.ID, latest.CheckpointID)
	assert.Equal(t, root.ID, latest.ParentCheckpointID)
	assert.Equal(t, root.ID, latest.ParentCheckpoint.CheckpointID)
	assert.Equal(t, "t1", latest.Checkpoint.ThreadID)
	assert.Equal(t, []string{"tools"}, latest.Next)
	require.Len(t, latest.Interrupts, 1)
	assert.Equal(t, "call_1", latest.Interrupts[0].ID)
	require.Len(t, latest.Tasks, 1)
	assert.Equal(t, "tools", latest.Tasks[0].Name)
	assert.Len(t, latest.Tasks[0].Interrupts, 1)
	assert.Equal(t, 1, latest.Metadata["step"])
	assert.Equal(t, graph.SourceLoop, latest.Metadata["source"])

	first := views[1]
	assert.Equal(t, root.ID, first.CheckpointID)
	assert.Empty(t, first.ParentCheckpointID)
	assert.Empty(t, first.Interrupts)
	msgs := first.Values["messages"].([]map[string]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "human", msgs[0]["type"])

	// Task ids are stable across reads.
	again, err := r.History(context.Background(), "t1", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, latest.Tasks[0].ID, again[0].Tasks[0].ID)

	state, err := r.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, suspended.ID, state.CheckpointID)
}

func TestHistoryOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threads := thread.New()
		if _, err := threads.Create(context.Background(), thread.CreateRequest{ThreadID: "t1"}); err != nil {
			rt.Fatalf("create: %v", err)
		}
		saver := inmemory.NewSaver()
		r := history.New(threads, saver)

		n := rapid.IntRange(0, 30).Draw(rt, "checkpoints")
		ts := time.Unix(1_700_000_000, 0).UTC()
		var ids []string
		for i := 0; i < n; i++ {
			parent := ""
			if i > 0 {
				// Any earlier checkpoint may be the parent, forming a tree.
				parent = ids[rapid.IntRange(0, i-1).Draw(rt, "parent")]
			}
			ts = ts.Add(time.Duration(rapid.IntRange(0, 2).Draw(rt, "gap")) * time.Second)
			c := graph.NewCheckpoint(graph.State{}, parent, nil)
			c.Timestamp = ts
			_, err := saver.Put(context.Background(), graph.PutRequest{
				Config:     graph.CreateCheckpointConfig("t1", "", ""),
				Checkpoint: c,
				Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, i),
			})
			if err != nil {
				rt.Fatalf("put: %v", err)
			}
			ids = append(ids, c.ID)
		}
		limit := rapid.IntRange(0, 40).Draw(rt, "limit")

		views, err := r.History(context.Background(), "t1", limit)
		if err != nil {
			rt.Fatalf("history: %v", err)
		}
		want := n
		if limit > 0 && limit < n {
			want = limit
		}
		if len(views) != want {
			rt.Fatalf("got %d views, want %d", len(views), want)
		}
		pos := make(map[string]int, len(views))
		for i, v := range views {
			pos[v.CheckpointID] = i
			if i == 0 {
				continue
			}
			prev := views[i-1]
			if prev.CreatedAt < v.CreatedAt || (prev.CreatedAt == v.CreatedAt && prev.CheckpointID < v.CheckpointID) {
				rt.Fatalf("views %d and %d out of order", i-1, i)
			}
		}
		for i, v := range views {
			if p, ok := pos[v.ParentCheckpointID]; ok && p <= i {
				rt.Fatalf("parent of view %d appears before it", i)
			}
		}
	})
}
