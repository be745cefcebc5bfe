//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package supervisor builds the graph of an orchestrator: a supervisor
// model that hands the conversation to one of its member agents through
// transfer tools, and one delegate node per member that runs the member's
// graph inline and hands control back.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-studio/agent/react"
	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// NodeSupervisor is the id of the supervisor's model node.
const NodeSupervisor = "supervisor"

const (
	handoffPrefix  = "transfer_to_"
	transferBackTo = "transfer_back_to_"
)

// Member is an agent the supervisor can delegate to.
type Member struct {
	// Name is the agent name. It is also the delegate node id and the
	// checkpoint namespace of the member's runs.
	Name        string
	Description string
	// Executor runs the member's graph. It has no saver of its own and
	// inherits the caller's at run time.
	Executor *graph.Executor
}

// HandoffToolName returns the name of the transfer tool for agent.
func HandoffToolName(agent string) string { return handoffPrefix + agent }

// New compiles the supervisor graph. name is the supervisor's agent name.
func New(m model.Model, name, instruction string, members []Member) (*graph.Graph, error) {
	if m == nil {
		return nil, errors.New("supervisor: model is nil")
	}
	if len(members) == 0 {
		return nil, errors.New("supervisor: no members")
	}
	handoffs := make(map[string]tool.Tool, len(members))
	byTool := make(map[string]string, len(members))
	sg := graph.NewStateGraph()
	for _, mem := range members {
		if mem.Executor == nil {
			return nil, fmt.Errorf("supervisor: member %s has no executor", mem.Name)
		}
		h := handoff{agent: mem.Name, description: mem.Description}
		handoffs[h.Declaration().Name] = h
		byTool[h.Declaration().Name] = mem.Name
		sg.AddNode(mem.Name, delegate(mem, name),
			graph.WithDescription(mem.Description)).
			AddEdge(mem.Name, NodeSupervisor)
	}
	return sg.
		AddNode(NodeSupervisor, react.NewModelNode(m, name, instruction, handoffs)).
		SetEntryPoint(NodeSupervisor).
		AddConditionalEdges(NodeSupervisor, route(byTool), nil).
		Compile()
}

// route picks the member named by the first transfer call of the last
// supervisor message.
func route(byTool map[string]string) graph.ConditionalFunc {
	return func(_ context.Context, state graph.State) (string, error) {
		if call, ok := firstHandoff(state, byTool); ok {
			return byTool[call.Function.Name], nil
		}
		return graph.End, nil
	}
}

func firstHandoff(state graph.State, byTool map[string]string) (model.ToolCall, bool) {
	last, ok := state.LastMessage()
	if !ok || last.Role != model.RoleAssistant {
		return model.ToolCall{}, false
	}
	for _, call := range last.ToolCalls {
		if _, ok := byTool[call.Function.Name]; ok {
			return call, true
		}
	}
	return model.ToolCall{}, false
}

// delegate answers the transfer call, runs the member on the full history
// and appends everything it produced followed by the transfer-back pair.
// Message ids derive from the transfer call id so that a resumed delegate
// produces the same history as the suspended one.
func delegate(mem Member, supervisor string) graph.NodeFunc {
	toolName := HandoffToolName(mem.Name)
	return func(ctx context.Context, state graph.State) (graph.Update, error) {
		last, ok := state.LastMessage()
		if !ok {
			return graph.Update{}, errors.New("no messages in state")
		}
		var (
			callID  string
			answers []model.Message
		)
		for _, call := range last.ToolCalls {
			if callID == "" && call.Function.Name == toolName {
				callID = call.ID
				answers = append(answers, toolMessage(call.ID, toolName,
					"Successfully transferred to "+mem.Name, model.StatusSuccess))
				continue
			}
			// One member at a time. Every other call still needs an answer.
			answers = append(answers, toolMessage(call.ID, call.Function.Name,
				"Error: only one agent can be called at a time.", model.StatusError))
		}
		if callID == "" {
			return graph.Update{}, fmt.Errorf("delegate %s: no %s call in last message", mem.Name, toolName)
		}

		for _, msg := range answers {
			if err := graph.EmitEvent(ctx, event.NewMessageEvent(msg, false, event.WithAuthor(mem.Name))); err != nil {
				return graph.Update{}, err
			}
		}
		input := state.Apply(graph.Update{Messages: answers})
		out, err := graph.RunSubgraph(ctx, mem.Executor, mem.Name, input)
		if err != nil {
			return graph.Update{}, err
		}
		produced := out.Messages
		if len(produced) >= len(input.Messages) {
			produced = produced[len(input.Messages):]
		}
		log.Debugf("agent %s returned %d messages to %s", mem.Name, len(produced), supervisor)

		backID := "back-" + callID
		backTool := transferBackTo + supervisor
		update := make([]model.Message, 0, len(answers)+len(produced)+2)
		update = append(update, answers...)
		update = append(update, produced...)
		update = append(update,
			model.Message{
				ID:      "ai-" + backID,
				Role:    model.RoleAssistant,
				Name:    mem.Name,
				Content: "Transferring back to " + supervisor,
				ToolCalls: []model.ToolCall{{
					Type:     "function",
					ID:       backID,
					Function: model.FunctionDefinitionParam{Name: backTool, Arguments: "{}"},
				}},
			},
			toolMessage(backID, backTool, "Successfully transferred back to "+supervisor, model.StatusSuccess),
		)
		return graph.Update{Messages: update}, nil
	}
}

func toolMessage(callID, name, content, status string) model.Message {
	return model.Message{
		ID:       "tool-" + callID,
		Role:     model.RoleTool,
		Content:  content,
		ToolID:   callID,
		ToolName: name,
		Status:   status,
	}
}

// handoff declares a transfer tool. The supervisor graph routes on the
// call, so the tool itself is never invoked.
type handoff struct {
	agent       string
	description string
}

func (h handoff) Declaration() *tool.Declaration {
	desc := "Ask agent '" + h.agent + "' for help"
	if h.description != "" {
		desc += ": " + h.description
	}
	return &tool.Declaration{
		Name:        HandoffToolName(h.agent),
		Description: desc,
		InputSchema: &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}},
	}
}
