//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/model"
)

// Message types on the wire.
const (
	TypeHuman   = "human"
	TypeAI      = "ai"
	TypeAIChunk = "AIMessageChunk"
	TypeTool    = "tool"
	TypeSystem  = "system"
)

// SerializeMessage renders msg in the chat UI's message format. A partial
// assistant message is typed as a chunk.
func SerializeMessage(msg model.Message, partial bool) map[string]any {
	out := map[string]any{
		"type":               wireType(msg.Role, partial),
		"content":            msg.Content,
		"additional_kwargs":  map[string]any{},
		"response_metadata":  map[string]any{},
		"name":               nil,
		"id":                 msg.ID,
		"example":            false,
		"tool_calls":         []any{},
		"invalid_tool_calls": []any{},
		"usage_metadata":     nil,
		"tool_call_id":       nil,
		"artifact":           nil,
		"status":             nil,
	}
	if msg.ID == "" {
		out["id"] = "run-" + uuid.NewString()
	}
	if msg.Name != "" {
		out["name"] = msg.Name
	}
	switch msg.Role {
	case model.RoleUser:
		out["content"] = []map[string]any{{"type": "text", "text": msg.Content}}
	case model.RoleTool:
		out["tool_call_id"] = msg.ToolID
		status := msg.Status
		if status == "" {
			status = model.StatusSuccess
		}
		out["status"] = status
		if msg.Name == "" && msg.ToolName != "" {
			out["name"] = msg.ToolName
		}
	case model.RoleAssistant:
		calls, invalid := toolCalls(msg.ToolCalls)
		out["tool_calls"] = calls
		out["invalid_tool_calls"] = invalid
		if msg.Usage != nil {
			out["usage_metadata"] = map[string]any{
				"input_tokens":  msg.Usage.PromptTokens,
				"output_tokens": msg.Usage.CompletionTokens,
				"total_tokens":  msg.Usage.TotalTokens,
			}
		}
	}
	return out
}

// SerializeMessages renders a conversation.
func SerializeMessages(msgs []model.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, SerializeMessage(m, false))
	}
	return out
}

// SerializeState renders a state snapshot as {"messages": [...]}.
func SerializeState(msgs []model.Message) map[string]any {
	return map[string]any{"messages": SerializeMessages(msgs)}
}

func wireType(role model.Role, partial bool) string {
	switch role {
	case model.RoleUser:
		return TypeHuman
	case model.RoleTool:
		return TypeTool
	case model.RoleSystem:
		return TypeSystem
	}
	if partial {
		return TypeAIChunk
	}
	return TypeAI
}

func toolCalls(calls []model.ToolCall) (valid, invalid []any) {
	valid, invalid = []any{}, []any{}
	for _, c := range calls {
		args := map[string]any{}
		raw := strings.TrimSpace(c.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				invalid = append(invalid, map[string]any{
					"name":  c.Function.Name,
					"args":  c.Function.Arguments,
					"id":    c.ID,
					"error": err.Error(),
					"type":  "invalid_tool_call",
				})
				continue
			}
		}
		valid = append(valid, map[string]any{
			"name": c.Function.Name,
			"args": args,
			"id":   c.ID,
			"type": "tool_call",
		})
	}
	return valid, invalid
}

// inputMessage is a message as clients send it. Type follows the chat UI
// naming, Role the OpenAI one.
type inputMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name"`
	ToolCallID string          `json:"tool_call_id"`
}

// DecodeInput parses the input of a run request: {"messages": [...]}, a
// single message object or a bare string. Empty input yields no messages.
func DecodeInput(raw json.RawMessage) ([]model.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []model.Message{model.NewUserMessage(text)}, nil
	}
	var wrapper struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, &errs.ValidationError{Msg: "decode input", Cause: err}
	}
	if len(wrapper.Messages) == 0 {
		var single inputMessage
		if err := json.Unmarshal(raw, &single); err != nil || single.Content == nil {
			return nil, nil
		}
		m, err := single.toMessage()
		if err != nil {
			return nil, err
		}
		return []model.Message{m}, nil
	}
	var list []inputMessage
	if err := json.Unmarshal(wrapper.Messages, &list); err != nil {
		var single inputMessage
		if err := json.Unmarshal(wrapper.Messages, &single); err != nil {
			return nil, &errs.ValidationError{Msg: "decode input messages", Cause: err}
		}
		list = []inputMessage{single}
	}
	out := make([]model.Message, 0, len(list))
	for i, in := range list {
		m, err := in.toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (in inputMessage) toMessage() (model.Message, error) {
	kind := in.Type
	if kind == "" {
		kind = in.Role
	}
	var role model.Role
	switch strings.ToLower(kind) {
	case "", TypeHuman, "user":
		role = model.RoleUser
	case TypeAI, "assistant":
		role = model.RoleAssistant
	case TypeSystem:
		role = model.RoleSystem
	case TypeTool:
		role = model.RoleTool
	default:
		return model.Message{}, errs.Validation("unknown message type %q", kind)
	}
	content, err := decodeContent(in.Content)
	if err != nil {
		return model.Message{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := model.Message{ID: id, Role: role, Content: content, Name: in.Name}
	if role == model.RoleTool {
		m.ToolID = in.ToolCallID
		m.Status = model.StatusSuccess
	}
	return m, nil
}

// decodeContent accepts a string or a list of parts; text parts are joined.
func decodeContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", &errs.ValidationError{Msg: "message content must be a string or a list of parts", Cause: err}
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
