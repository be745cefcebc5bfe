//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package stream_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
)

func TestSerializeHumanMessage(t *testing.T) {
	out := stream.SerializeMessage(model.Message{ID: "u1", Role: model.RoleUser, Content: "hi"}, false)
	assert.Equal(t, "human", out["type"])
	assert.Equal(t, []map[string]any{{"type": "text", "text": "hi"}}, out["content"])
	assert.Equal(t, "u1", out["id"])
	assert.Nil(t, out["tool_call_id"])
	assert.Equal(t, false, out["example"])
}

func TestSerializeAssistantToolCalls(t *testing.T) {
	msg := model.Message{
		ID:   "a1",
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{
			{ID: "call_1", Function: model.FunctionDefinitionParam{Name: "add", Arguments: `{"a":2,"b":2}`}},
			{ID: "call_2", Function: model.FunctionDefinitionParam{Name: "add", Arguments: `{"a":`}},
		},
		Usage: &model.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}
	raw, err := json.Marshal(stream.SerializeMessage(msg, false))
	require.NoError(t, err)
	var out struct {
		Type      string `json:"type"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
			ID   string         `json:"id"`
			Type string         `json:"type"`
		} `json:"tool_calls"`
		Invalid []map[string]any `json:"invalid_tool_calls"`
		Usage   map[string]int   `json:"usage_metadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "ai", out.Type)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "tool_call", out.ToolCalls[0].Type)
	assert.EqualValues(t, 2, out.ToolCalls[0].Args["a"])
	require.Len(t, out.Invalid, 1)
	assert.Equal(t, "call_2", out.Invalid[0]["id"])
	assert.Equal(t, map[string]int{"input_tokens": 3, "output_tokens": 1, "total_tokens": 4}, out.Usage)
}

func TestSerializeToolMessage(t *testing.T) {
	out := stream.SerializeMessage(model.NewToolMessage("call_1", "add", "4"), false)
	assert.Equal(t, "tool", out["type"])
	assert.Equal(t, "call_1", out["tool_call_id"])
	assert.Equal(t, "add", out["name"])
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "4", out["content"])
}

func TestSerializeFillsMissingID(t *testing.T) {
	out := stream.SerializeMessage(model.Message{Role: model.RoleSystem, Content: "rules"}, true)
	assert.Equal(t, "system", out["type"])
	assert.NotEmpty(t, out["id"])
}

func TestDecodeInput(t *testing.T) {
	cases := map[string]struct {
		raw   string
		roles []model.Role
		texts []string
	}{
		"empty":        {raw: ``},
		"null":         {raw: `null`},
		"empty object": {raw: `{}`},
		"bare string":  {raw: `"2+2?"`, roles: []model.Role{model.RoleUser}, texts: []string{"2+2?"}},
		"messages": {
			raw:   `{"messages":[{"type":"human","content":[{"type":"text","text":"2+"},{"type":"image_url"},{"type":"text","text":"2?"}]},{"role":"assistant","content":"4"}]}`,
			roles: []model.Role{model.RoleUser, model.RoleAssistant},
			texts: []string{"2+2?", "4"},
		},
		"single message": {raw: `{"messages":{"content":"hi"}}`, roles: []model.Role{model.RoleUser}, texts: []string{"hi"}},
		"bare message":   {raw: `{"role":"user","content":"hey"}`, roles: []model.Role{model.RoleUser}, texts: []string{"hey"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			msgs, err := stream.DecodeInput(json.RawMessage(tc.raw))
			require.NoError(t, err)
			require.Len(t, msgs, len(tc.roles))
			for i, m := range msgs {
				assert.Equal(t, tc.roles[i], m.Role)
				assert.Equal(t, tc.texts[i], m.Content)
				assert.NotEmpty(t, m.ID)
			}
		})
	}
}

func TestDecodeInputRejects(t *testing.T) {
	for _, raw := range []string{
		`42`,
		`{"messages":[{"type":"robot","content":"x"}]}`,
		`{"messages":[{"type":"human","content":17}]}`,
	} {
		_, err := stream.DecodeInput(json.RawMessage(raw))
		assert.ErrorIs(t, err, errs.ErrValidation, raw)
	}
}

func TestBuildEnvelope(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "ui/1.0")
	h.Set("X-Request-Id", "req-7")
	h.Set("Authorization", "secret")
	env := stream.BuildEnvelope(stream.EnvelopeParams{RunID: "r1", ThreadID: "t1", AssistantID: "a1", Header: h})
	assert.Equal(t, "system", env["created_by"])
	assert.Equal(t, "agent", env["graph_id"])
	assert.Equal(t, "a1", env["assistant_id"])
	assert.Equal(t, 1, env["run_attempt"])
	assert.Equal(t, "req-7", env["langgraph_request_id"])
	assert.Equal(t, "ui/1.0", env["user-agent"])
	assert.Equal(t, "", env["user_id"])
	assert.NotContains(t, env, "authorization")

	generated := stream.BuildEnvelope(stream.EnvelopeParams{RunID: "r1"})
	assert.NotEmpty(t, generated["langgraph_request_id"])
}
