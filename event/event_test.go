//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/model"
)

func TestNewMessageEvent(t *testing.T) {
	msg := model.NewAssistantMessage("hi")
	e := NewMessageEvent(msg, true, WithAuthor("agent"), WithNamespace("math"))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, KindMessage, e.Kind)
	assert.True(t, e.IsPartial)
	assert.Equal(t, "agent", e.Author)
	assert.Equal(t, "math", e.Namespace)
	require.NotNil(t, e.Message)
	assert.Equal(t, "hi", e.Message.Content)
	assert.False(t, e.IsTerminal())
}

func TestNewValuesEventCopies(t *testing.T) {
	msgs := []model.Message{model.NewUserMessage("a")}
	e := NewValuesEvent(msgs)
	msgs[0].Content = "b"
	assert.Equal(t, "a", e.Values[0].Content)
}

func TestTerminalEvents(t *testing.T) {
	in := NewInterruptEvent("call_1", "tools", []any{"x"})
	assert.True(t, in.IsTerminal())
	assert.Equal(t, "call_1", in.Interrupt.ID)

	er := NewErrorEvent("execution", "boom")
	assert.True(t, er.IsTerminal())
	assert.Equal(t, "boom", er.Error.Message)

	var nilEvent *Event
	assert.False(t, nilEvent.IsTerminal())
}

func TestClone(t *testing.T) {
	msg := model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "1"}}}
	e := NewMessageEvent(msg, false)
	c := e.Clone()
	c.Message.ToolCalls[0].ID = "2"
	c.Message.Content = "changed"
	assert.Equal(t, "1", e.Message.ToolCalls[0].ID)
	assert.Empty(t, e.Message.Content)
	assert.Nil(t, (*Event)(nil).Clone())
}
