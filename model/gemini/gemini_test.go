//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

func TestGenerateContentFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-x:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[
{"functionCall":{"name":"add","args":{"a":2,"b":2}}}]},"finishReason":"STOP"}],
"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8}}`)
	}))
	defer srv.Close()

	m := New("gemini-x", WithAPIKey("k"), WithBaseURL(srv.URL))
	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{model.NewSystemMessage("sys"), model.NewUserMessage("2+2?")},
	})
	require.NoError(t, err)
	rsp := <-ch
	require.Nil(t, rsp.Error)
	msg := rsp.Choices[0].Message
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "add", msg.ToolCalls[0].Function.Name)
	assert.NotEmpty(t, msg.ToolCalls[0].ID)
	assert.JSONEq(t, `{"a":2,"b":2}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 8, rsp.Usage.TotalTokens)
	assert.Equal(t, "gemini", m.Info().Provider)
}

func TestBuildContents(t *testing.T) {
	contents, system := buildContents([]model.Message{
		model.NewSystemMessage("sys"),
		model.NewUserMessage("hi"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "1", Function: model.FunctionDefinitionParam{Name: "add", Arguments: `{"a":1}`}},
		}},
		model.NewToolMessage("1", "add", "2"),
	})
	require.NotNil(t, system)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "2", contents[2].Parts[0].FunctionResponse.Response["output"])
}

func TestConvertSchema(t *testing.T) {
	s := convertSchema(&tool.Schema{
		Type:     "object",
		Required: []string{"a"},
		Properties: map[string]*tool.Schema{
			"a": {Type: "integer"},
			"b": {Type: "string", Enum: []any{"x", 1}},
		},
	})
	assert.Equal(t, genai.Type("OBJECT"), s.Type)
	assert.Equal(t, genai.Type("INTEGER"), s.Properties["a"].Type)
	assert.Equal(t, []string{"x", "1"}, s.Properties["b"].Enum)
}
