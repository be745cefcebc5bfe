//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package testkit provides a scripted model and small tools for tests that
// drive whole agent graphs.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
	"trpc.group/trpc-go/trpc-agent-studio/tool/function"
)

// Turn produces the model's reply to one request.
type Turn func(req *model.Request) model.Message

// Reply answers with text.
func Reply(text string) Turn {
	return func(*model.Request) model.Message {
		return model.Message{Role: model.RoleAssistant, Content: text}
	}
}

// Call asks for one tool call.
func Call(id, name, args string) Turn {
	return func(*model.Request) model.Message {
		return model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
			Type:     "function",
			ID:       id,
			Function: model.FunctionDefinitionParam{Name: name, Arguments: args},
		}}}
	}
}

// EchoTool answers with prefix followed by the content of the last message,
// typically a tool result.
func EchoTool(prefix string) Turn {
	return func(req *model.Request) model.Message {
		content := ""
		if n := len(req.Messages); n > 0 {
			content = req.Messages[n-1].Content
		}
		return model.Message{Role: model.RoleAssistant, Content: prefix + content}
	}
}

// Model replays turns in order. With streaming on, text replies are also
// sent as one partial delta per word.
type Model struct {
	name   string
	stream bool

	mu       sync.Mutex
	turns    []Turn
	requests []*model.Request
}

// Option configures a Model.
type Option func(*Model)

// WithStreaming sends word deltas before the final response.
func WithStreaming() Option {
	return func(m *Model) { m.stream = true }
}

// WithName sets the model name.
func WithName(name string) Option {
	return func(m *Model) { m.name = name }
}

// NewModel returns a model that plays turns.
func NewModel(turns []Turn, opts ...Option) *Model {
	m := &Model{name: "scripted", turns: turns}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info implements model.Model.
func (m *Model) Info() model.Info { return model.Info{Name: m.name, Provider: "test"} }

// Requests returns every request received so far.
func (m *Model) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Calls returns the number of requests received.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	m.mu.Lock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	var turn Turn
	if i < len(m.turns) {
		turn = m.turns[i]
	}
	m.mu.Unlock()

	ch := make(chan *model.Response, 64)
	go func() {
		defer close(ch)
		if turn == nil {
			send(ctx, ch, &model.Response{
				Done:  true,
				Error: &model.ResponseError{Type: model.ErrorTypeAPIError, Message: fmt.Sprintf("script exhausted after %d turns", i)},
			})
			return
		}
		msg := turn(req)
		msg.Role = model.RoleAssistant
		if m.stream && msg.Content != "" {
			for j, word := range strings.SplitAfter(msg.Content, " ") {
				if !send(ctx, ch, &model.Response{
					ID:        fmt.Sprintf("chunk-%d", j),
					IsPartial: true,
					Choices:   []model.Choice{{Delta: model.Message{Role: model.RoleAssistant, Content: word}}},
				}) {
					return
				}
			}
		}
		send(ctx, ch, &model.Response{
			ID:        fmt.Sprintf("resp-%d", i),
			Model:     m.name,
			Done:      true,
			Timestamp: time.Now(),
			Choices:   []model.Choice{{Message: msg}},
			Usage:     &model.Usage{PromptTokens: len(req.Messages), CompletionTokens: 1, TotalTokens: len(req.Messages) + 1},
		})
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) bool {
	select {
	case ch <- rsp:
		return true
	case <-ctx.Done():
		return false
	}
}

// AddInput is the argument of the add tool.
type AddInput struct {
	A int `json:"a" description:"first addend"`
	B int `json:"b" description:"second addend"`
}

// Counter counts tool invocations.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Count returns the number of invocations.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *Counter) inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// AddTool returns an "add" tool that sums two integers and counts its
// calls on c, which may be nil.
func AddTool(c *Counter) tool.CallableTool {
	return function.NewFunctionTool(func(_ context.Context, in AddInput) (int, error) {
		c.inc()
		return in.A + in.B, nil
	}, function.WithName("add"), function.WithDescription("Add two numbers"))
}

// StaticToolSet serves a fixed list of tools.
type StaticToolSet struct {
	SetName string
	List    []tool.CallableTool

	mu     sync.Mutex
	closed bool
}

// Tools implements tool.ToolSet.
func (s *StaticToolSet) Tools(context.Context) []tool.CallableTool { return s.List }

// Name implements tool.ToolSet.
func (s *StaticToolSet) Name() string { return s.SetName }

// Close implements tool.ToolSet.
func (s *StaticToolSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *StaticToolSet) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
