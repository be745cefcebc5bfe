//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) String() string { return string(r) }

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Tool message status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is one conversation turn. It is stored verbatim in checkpoints.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolID is the id of the call a tool message answers.
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Status   string `json:"status,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
}

// NewSystemMessage returns a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage returns a user message with a fresh id.
func NewUserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: content}
}

// NewAssistantMessage returns an assistant message with a fresh id.
func NewAssistantMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleAssistant, Content: content}
}

// NewToolMessage returns the answer to tool call toolID.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		ID:       uuid.NewString(),
		Role:     RoleTool,
		Content:  content,
		ToolID:   toolID,
		ToolName: toolName,
		Status:   StatusSuccess,
	}
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Type     string                  `json:"type"`
	ID       string                  `json:"id,omitempty"`
	Index    *int                    `json:"index,omitempty"`
	Function FunctionDefinitionParam `json:"function"`
}

// FunctionDefinitionParam names the function and carries its JSON arguments.
type FunctionDefinitionParam struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// GenerationConfig tunes one model call.
type GenerationConfig struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream"`
}

// Request is the input of GenerateContent. The first message may be the
// system instruction.
type Request struct {
	Messages []Message `json:"messages"`

	GenerationConfig `json:",inline"`

	Tools map[string]tool.Tool `json:"-"`
}
