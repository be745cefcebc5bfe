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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/model"
)

func noop(context.Context, State) (Update, error) { return Update{}, nil }

func TestStateGraphCompile(t *testing.T) {
	g, err := NewStateGraph().
		AddNode("a", noop, WithName("A"), WithDescription("first")).
		AddNode("b", noop).
		AddEdge(Start, "a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		Compile()
	require.NoError(t, err)
	assert.Equal(t, "a", g.EntryPoint())
	assert.Equal(t, 2, g.Nodes())
	n, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, "A", n.Name)
	assert.Equal(t, "first", n.Description)
	require.Len(t, g.Edges("a"), 1)
	assert.Equal(t, "b", g.Edges("a")[0].To)
}

func TestStateGraphErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *StateGraph
		want  string
	}{
		{"no entry", func() *StateGraph { return NewStateGraph().AddNode("a", noop) }, ErrEntryPointNotSet.Error()},
		{"missing entry", func() *StateGraph { return NewStateGraph().SetEntryPoint("x") }, "entry point node x"},
		{"reserved", func() *StateGraph { return NewStateGraph().AddNode(End, noop) }, "reserved"},
		{"duplicate", func() *StateGraph {
			return NewStateGraph().AddNode("a", noop).AddNode("a", noop).SetEntryPoint("a")
		}, "duplicate node a"},
		{"dangling edge", func() *StateGraph {
			return NewStateGraph().AddNode("a", noop).SetEntryPoint("a").AddEdge("a", "zzz")
		}, "unknown node zzz"},
		{"dangling path", func() *StateGraph {
			return NewStateGraph().AddNode("a", noop).SetEntryPoint("a").
				AddConditionalEdges("a", func(context.Context, State) (string, error) { return "x", nil },
					map[string]string{"x": "nowhere"})
		}, "unknown node nowhere"},
		{"nil condition", func() *StateGraph {
			return NewStateGraph().AddNode("a", noop).SetEntryPoint("a").AddConditionalEdges("a", nil, nil)
		}, "no condition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Panics(t, func() { NewStateGraph().MustCompile() })
}

func TestStateApply(t *testing.T) {
	s := State{Messages: []model.Message{
		{ID: "1", Role: model.RoleUser, Content: "hi"},
		{ID: "2", Role: model.RoleAssistant, Content: "draft"},
	}}
	out := s.Apply(Update{Messages: []model.Message{
		{ID: "2", Role: model.RoleAssistant, Content: "final"},
		{ID: "3", Role: model.RoleUser, Content: "next"},
		{Role: model.RoleSystem, Content: "no id"},
	}})
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "final", out.Messages[1].Content)
	assert.Equal(t, "draft", s.Messages[1].Content)
	last, ok := out.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "no id", last.Content)

	_, ok = State{}.LastMessage()
	assert.False(t, ok)
}

func TestJoinNamespace(t *testing.T) {
	assert.Equal(t, "math", JoinNamespace("", "math"))
	assert.Equal(t, "team|math", JoinNamespace("team", "math"))
}

func TestInterruptOutsideGraph(t *testing.T) {
	_, err := Interrupt(context.Background(), "k", 1)
	assert.ErrorIs(t, err, ErrNoExecutionContext)
	assert.NoError(t, EmitEvent(context.Background(), nil))
	_, ok := CompletedWrite(context.Background(), "k")
	assert.False(t, ok)
	RecordWrite(context.Background(), "k", model.Message{})
}
