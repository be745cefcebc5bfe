//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

import "trpc.group/trpc-go/trpc-agent-studio/model"

// State is the value flowing through a graph: the conversation so far.
type State struct {
	Messages []model.Message `json:"messages"`
}

// Update is what a node returns. Messages are merged into the state and
// Goto, when set, overrides the graph edges.
type Update struct {
	Messages []model.Message
	Goto     string
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	out := State{Messages: make([]model.Message, len(s.Messages))}
	for i, m := range s.Messages {
		m.ToolCalls = append([]model.ToolCall(nil), m.ToolCalls...)
		out.Messages[i] = m
	}
	return out
}

// Apply merges u into s. A message whose id is already present replaces
// the existing one in place; anything else is appended.
func (s State) Apply(u Update) State {
	if len(u.Messages) == 0 {
		return s
	}
	index := make(map[string]int, len(s.Messages))
	for i, m := range s.Messages {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	out := s.Clone()
	for _, m := range u.Messages {
		if i, ok := index[m.ID]; ok && m.ID != "" {
			out.Messages[i] = m
			continue
		}
		if m.ID != "" {
			index[m.ID] = len(out.Messages)
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

// LastMessage returns the final message of the conversation.
func (s State) LastMessage() (model.Message, bool) {
	if len(s.Messages) == 0 {
		return model.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
