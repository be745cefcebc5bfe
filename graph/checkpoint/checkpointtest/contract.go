//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package checkpointtest holds the behavior every CheckpointSaver must
// share, as a reusable test suite.
package checkpointtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/model"
)

// Run exercises saver constructors against the shared contract. newSaver is
// called once per subtest.
func Run(t *testing.T, newSaver func(t *testing.T) graph.CheckpointSaver) {
	t.Run("PutAndGetLatest", func(t *testing.T) { testPutAndGetLatest(t, newSaver(t)) })
	t.Run("ParentChain", func(t *testing.T) { testParentChain(t, newSaver(t)) })
	t.Run("Branch", func(t *testing.T) { testBranch(t, newSaver(t)) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, newSaver(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, newSaver(t)) })
	t.Run("DeleteLineage", func(t *testing.T) { testDeleteLineage(t, newSaver(t)) })
	t.Run("UnknownParent", func(t *testing.T) { testUnknownParent(t, newSaver(t)) })
	t.Run("InterruptRoundTrip", func(t *testing.T) { testInterruptRoundTrip(t, newSaver(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newSaver(t)) })
}

// Put stores a checkpoint holding one message and returns it.
func Put(t *testing.T, s graph.CheckpointSaver, lineage, ns, parent, content string) *graph.Checkpoint {
	t.Helper()
	ckpt := graph.NewCheckpoint(graph.State{Messages: []model.Message{
		{ID: content, Role: model.RoleUser, Content: content},
	}}, parent, []string{"agent"})
	meta := graph.NewCheckpointMetadata(graph.SourceLoop, 0)
	meta.Extra["content"] = content
	cfg, err := s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig(lineage, "", ns),
		Checkpoint: ckpt,
		Metadata:   meta,
	})
	require.NoError(t, err)
	require.Equal(t, ckpt.ID, graph.GetCheckpointID(cfg))
	// Keep timestamps strictly increasing on coarse clocks.
	time.Sleep(2 * time.Millisecond)
	return ckpt
}

func latest(t *testing.T, s graph.CheckpointSaver, lineage, ns string) *graph.CheckpointTuple {
	t.Helper()
	tuple, err := s.GetTuple(context.Background(), graph.CreateCheckpointConfig(lineage, "", ns))
	require.NoError(t, err)
	return tuple
}

func testPutAndGetLatest(t *testing.T, s graph.CheckpointSaver) {
	assert.Nil(t, latest(t, s, "l1", ""))

	a := Put(t, s, "l1", "", "", "a")
	b := Put(t, s, "l1", "", a.ID, "b")

	tuple := latest(t, s, "l1", "")
	require.NotNil(t, tuple)
	assert.Equal(t, b.ID, tuple.Checkpoint.ID)
	assert.Equal(t, "b", tuple.Checkpoint.Values.Messages[0].Content)
	assert.Equal(t, []string{"agent"}, tuple.Checkpoint.NextNodes)
	assert.Equal(t, graph.SourceLoop, tuple.Metadata.Source)
	assert.Equal(t, a.ID, graph.GetCheckpointID(tuple.ParentConfig))

	ckpt, err := s.Get(context.Background(), graph.CreateCheckpointConfig("l1", a.ID, ""))
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	assert.Equal(t, "a", ckpt.Values.Messages[0].Content)

	missing, err := s.GetTuple(context.Background(), graph.CreateCheckpointConfig("l1", "nope", ""))
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.GetTuple(context.Background(), graph.CreateCheckpointConfig("", "", ""))
	assert.Error(t, err)
}

func testParentChain(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	b := Put(t, s, "l1", "", a.ID, "b")
	c := Put(t, s, "l1", "", b.ID, "c")

	ids := []string{}
	tuple := latest(t, s, "l1", "")
	for tuple != nil {
		ids = append(ids, tuple.Checkpoint.ID)
		if tuple.ParentConfig == nil {
			break
		}
		var err error
		tuple, err = s.GetTuple(context.Background(), tuple.ParentConfig)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids)
}

func testBranch(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	b := Put(t, s, "l1", "", a.ID, "b")
	fork := Put(t, s, "l1", "", a.ID, "fork")

	tuple := latest(t, s, "l1", "")
	assert.Equal(t, fork.ID, tuple.Checkpoint.ID)
	assert.Equal(t, a.ID, tuple.Checkpoint.ParentID)

	all, err := s.List(context.Background(), graph.CreateCheckpointConfig("l1", "", ""), nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{fork.ID, b.ID, a.ID},
		[]string{all[0].Checkpoint.ID, all[1].Checkpoint.ID, all[2].Checkpoint.ID})
}

func testListFilter(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	b := Put(t, s, "l1", "", a.ID, "b")
	Put(t, s, "l1", "", b.ID, "c")
	cfg := graph.CreateCheckpointConfig("l1", "", "")

	limited, err := s.List(context.Background(), cfg, &graph.CheckpointFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].Checkpoint.Values.Messages[0].Content)

	before, err := s.List(context.Background(), cfg, &graph.CheckpointFilter{Before: b.ID})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, a.ID, before[0].Checkpoint.ID)

	byMeta, err := s.List(context.Background(), cfg, &graph.CheckpointFilter{
		Metadata: map[string]any{"content": "b"},
	})
	require.NoError(t, err)
	require.Len(t, byMeta, 1)
	assert.Equal(t, b.ID, byMeta[0].Checkpoint.ID)
}

func testNamespaces(t *testing.T, s graph.CheckpointSaver) {
	Put(t, s, "l1", "", "", "root")
	sub := Put(t, s, "l1", "math", "", "sub")

	assert.Equal(t, sub.ID, latest(t, s, "l1", "math").Checkpoint.ID)
	assert.Equal(t, "root", latest(t, s, "l1", "").Checkpoint.Values.Messages[0].Content)

	root, err := s.List(context.Background(), graph.CreateCheckpointConfig("l1", "", ""), nil)
	require.NoError(t, err)
	assert.Len(t, root, 1)
}

func testDeleteLineage(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	Put(t, s, "l1", "sub", "", "s")
	Put(t, s, "l2", "", "", "other")

	require.NoError(t, s.DeleteLineage(context.Background(), "l1"))
	assert.Nil(t, latest(t, s, "l1", ""))
	assert.Nil(t, latest(t, s, "l1", "sub"))
	assert.NotNil(t, latest(t, s, "l2", ""))

	list, err := s.List(context.Background(), graph.CreateCheckpointConfig("l1", "", ""), nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The deleted id can no longer serve as a parent.
	_, err = s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l1", "", ""),
		Checkpoint: graph.NewCheckpoint(graph.State{}, a.ID, nil),
		Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, 1),
	})
	assert.True(t, errors.Is(err, graph.ErrParentNotFound))
}

func testUnknownParent(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	for _, tc := range []struct{ lineage, ns, parent string }{
		{"l1", "", "missing"},
		{"l2", "", a.ID},
		{"l1", "sub", a.ID},
	} {
		_, err := s.Put(context.Background(), graph.PutRequest{
			Config:     graph.CreateCheckpointConfig(tc.lineage, "", tc.ns),
			Checkpoint: graph.NewCheckpoint(graph.State{}, tc.parent, nil),
			Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, 1),
		})
		assert.True(t, errors.Is(err, graph.ErrParentNotFound), "%+v: %v", tc, err)
	}
}

func testInterruptRoundTrip(t *testing.T, s graph.CheckpointSaver) {
	ckpt := graph.NewCheckpoint(graph.State{Messages: []model.Message{
		{ID: "ai", Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
			Type: "function", ID: "call_1",
			Function: model.FunctionDefinitionParam{Name: "add", Arguments: `{"a":2,"b":2}`},
		}}},
	}}, "", []string{"tools"})
	ckpt.InterruptState = &graph.InterruptState{
		NodeID:    "tools",
		TaskID:    "call_1",
		Value:     []any{map[string]any{"description": "Please review the tool call"}},
		Step:      2,
		Subgraphs: map[string]string{"math": "sub-1"},
	}
	ckpt.PendingWrites = []graph.PendingWrite{{
		TaskID: "call_0", Channel: graph.ChannelMessages,
		Value: model.NewToolMessage("call_0", "sub", "1"),
	}}
	_, err := s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l1", "", ""),
		Checkpoint: ckpt,
		Metadata:   graph.NewCheckpointMetadata(graph.SourceInterrupt, 2),
	})
	require.NoError(t, err)

	got := latest(t, s, "l1", "")
	require.NotNil(t, got)
	require.True(t, got.Checkpoint.IsInterrupted())
	assert.Equal(t, "call_1", got.Checkpoint.InterruptState.TaskID)
	assert.Equal(t, "tools", got.Checkpoint.InterruptState.NodeID)
	assert.Equal(t, map[string]string{"math": "sub-1"}, got.Checkpoint.InterruptState.Subgraphs)
	assert.Equal(t, 2, got.Metadata.Step)
	assert.Equal(t, graph.SourceInterrupt, got.Metadata.Source)
	require.Len(t, got.Checkpoint.PendingWrites, 1)
	assert.Equal(t, "call_0", got.Checkpoint.PendingWrites[0].Value.ToolID)
	assert.Equal(t, `{"a":2,"b":2}`, got.Checkpoint.Values.Messages[0].ToolCalls[0].Function.Arguments)
}

func testDuplicateID(t *testing.T, s graph.CheckpointSaver) {
	a := Put(t, s, "l1", "", "", "a")
	for _, ns := range []string{"", "sub"} {
		dup := graph.NewCheckpoint(graph.State{}, "", nil)
		dup.ID = a.ID
		_, err := s.Put(context.Background(), graph.PutRequest{
			Config:     graph.CreateCheckpointConfig("l1", "", ns),
			Checkpoint: dup,
			Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, 1),
		})
		assert.True(t, errors.Is(err, graph.ErrCheckpointExists), "namespace %q: %v", ns, err)
	}
	// The stored checkpoint is untouched.
	got := latest(t, s, "l1", "")
	require.NotNil(t, got)
	require.Len(t, got.Checkpoint.Values.Messages, 1)
	assert.Equal(t, "a", got.Checkpoint.Values.Messages[0].Content)

	// Other lineages may reuse the id.
	other := graph.NewCheckpoint(graph.State{}, "", nil)
	other.ID = a.ID
	_, err := s.Put(context.Background(), graph.PutRequest{
		Config:     graph.CreateCheckpointConfig("l2", "", ""),
		Checkpoint: other,
		Metadata:   graph.NewCheckpointMetadata(graph.SourceLoop, 0),
	})
	assert.NoError(t, err)
}
