//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
	"trpc.group/trpc-go/trpc-agent-studio/tool/function"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newAdd(calls *int) tool.CallableTool {
	return function.NewFunctionTool(func(_ context.Context, in addInput) (int, error) {
		*calls++
		return in.A + in.B, nil
	}, function.WithName("add"), function.WithDescription("Add two numbers"))
}

// review runs t once inside a graph, resumes with decision and returns the
// rendered tool result.
func review(t *testing.T, wrapped tool.CallableTool, args string, decision any) (string, error) {
	t.Helper()
	g := graph.NewStateGraph().
		AddNode("tools", func(ctx context.Context, _ graph.State) (graph.Update, error) {
			out, err := wrapped.Call(tool.WithCallID(ctx, "call_1"), []byte(args))
			if err != nil {
				return graph.Update{}, err
			}
			return graph.Update{Messages: []model.Message{model.NewToolMessage("call_1", "add", fmt.Sprint(out))}}, nil
		}).
		SetEntryPoint("tools").
		SetFinishPoint("tools").
		MustCompile()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(inmemory.NewSaver()))
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), &graph.Invocation{LineageID: "t1"}, nil)
	ie, ok := graph.GetInterruptError(err)
	require.True(t, ok, "expected interrupt, got %v", err)
	assert.Equal(t, "call_1", ie.TaskID)
	hi, err := ParseInterrupt(ie.Value)
	require.NoError(t, err)
	assert.Equal(t, "add", hi.ActionRequest.Action)
	assert.Equal(t, DefaultDescription, hi.Description)

	state, err := exec.Run(context.Background(), &graph.Invocation{
		LineageID: "t1",
		Resume:    &graph.ResumeCommand{Resume: decision},
	}, nil)
	if err != nil {
		return "", err
	}
	last, _ := state.LastMessage()
	return last.Content, nil
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		name      string
		decision  any
		want      string
		wantCalls int
	}{
		{"accept", []any{map[string]any{"type": "accept", "args": nil}}, "4", 1},
		{"edit request", []any{map[string]any{"type": "edit", "args": map[string]any{
			"action": "add", "args": map[string]any{"a": 3, "b": 3},
		}}}, "6", 1},
		{"edit plain", Decision{Type: DecisionEdit, Args: map[string]any{"a": 1, "b": 9}}, "10", 1},
		{"response", map[string]any{"type": "response", "args": "use 5 instead"}, "use 5 instead", 0},
		{"ignore", json.RawMessage(`[{"type":"ignore"}]`), IgnoredResult, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := review(t, Wrap(newAdd(&calls)), `{"a":2,"b":2}`, tt.decision)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestUnsupportedDecision(t *testing.T) {
	calls := 0
	_, err := review(t, Wrap(newAdd(&calls)), `{"a":2,"b":2}`, map[string]any{"type": "approve"})
	var ude *UnsupportedDecisionError
	require.ErrorAs(t, err, &ude)
	assert.Equal(t, "approve", ude.Type)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, calls)
}

func TestWrapKeepsDeclaration(t *testing.T) {
	calls := 0
	inner := newAdd(&calls)
	wrapped := Wrap(inner, WithDescription("check it"), WithConfig(Config{AllowAccept: true}))
	assert.Equal(t, inner.Declaration(), wrapped.Declaration())

	_, err := wrapped.Call(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision([]map[string]any{{"type": "accept"}, {"type": "ignore"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d.Type)

	d, err = ParseDecision(&Decision{Type: DecisionIgnore})
	require.NoError(t, err)
	assert.Equal(t, DecisionIgnore, d.Type)

	for _, bad := range []any{[]any{}, "text", map[string]any{"args": 1}, func() {}} {
		_, err := ParseDecision(bad)
		assert.ErrorIs(t, err, errs.ErrValidation, "%v", bad)
	}
}

func TestValidateDecision(t *testing.T) {
	tests := []struct {
		name string
		d    Decision
		cfg  Config
		ok   bool
	}{
		{"accept allowed", Decision{Type: DecisionAccept}, DefaultConfig, true},
		{"accept disallowed", Decision{Type: DecisionAccept}, Config{AllowIgnore: true}, false},
		{"edit object", Decision{Type: DecisionEdit, Args: map[string]any{"a": 1}}, DefaultConfig, true},
		{"edit request", Decision{Type: DecisionEdit, Args: map[string]any{"action": "add", "args": map[string]any{}}}, DefaultConfig, true},
		{"edit bad request", Decision{Type: DecisionEdit, Args: map[string]any{"args": "x"}}, DefaultConfig, false},
		{"edit no args", Decision{Type: DecisionEdit}, DefaultConfig, false},
		{"response text", Decision{Type: DecisionResponse, Args: "hi"}, DefaultConfig, true},
		{"response empty", Decision{Type: DecisionResponse, Args: ""}, DefaultConfig, false},
		{"response object", Decision{Type: DecisionResponse, Args: map[string]any{}}, DefaultConfig, false},
		{"ignore", Decision{Type: DecisionIgnore}, DefaultConfig, true},
		{"unknown", Decision{Type: "skip"}, DefaultConfig, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDecision(tt.d, tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errs.ErrValidation)
			}
		})
	}
}

func TestParseInterrupt(t *testing.T) {
	hi, err := ParseInterrupt([]any{map[string]any{
		"action_request": map[string]any{"action": "add", "args": map[string]any{"a": 1}},
		"config":         map[string]any{"allow_accept": true},
		"description":    "d",
	}})
	require.NoError(t, err)
	assert.True(t, hi.Config.AllowAccept)
	assert.False(t, hi.Config.AllowEdit)

	_, err = ParseInterrupt([]any{})
	assert.Error(t, err)
}
