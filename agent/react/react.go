//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package react builds the reason-and-act graph every agent compiles to: a
// model node that may request tool calls and a tools node that answers
// them, looping until the model replies without calls.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	itelemetry "trpc.group/trpc-go/trpc-agent-studio/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// Node ids.
const (
	NodeAgent = "agent"
	NodeTools = "tools"
)

// Tool call outcomes recorded in metrics.
const (
	statusSuccess     = "success"
	statusError       = "error"
	statusInterrupted = "interrupted"
)

// Option configures the graph.
type Option func(*options)

type options struct {
	name        string
	instruction string
	tools       []tool.CallableTool
	metrics     *metric.Collector
}

// WithName sets the name stamped on the model's messages.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithInstruction sets the system prompt.
func WithInstruction(instruction string) Option {
	return func(o *options) { o.instruction = instruction }
}

// WithTools sets the tools the model may call.
func WithTools(tools ...tool.CallableTool) Option {
	return func(o *options) { o.tools = append(o.tools, tools...) }
}

// WithMetrics records tool calls on c.
func WithMetrics(c *metric.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// New compiles the graph. Without tools the model node goes straight to End.
func New(m model.Model, opts ...Option) (*graph.Graph, error) {
	if m == nil {
		return nil, errors.New("react: model is nil")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	callable := tool.ByName(o.tools)
	declared := make(map[string]tool.Tool, len(callable))
	for name, t := range callable {
		declared[name] = t
	}

	sg := graph.NewStateGraph().
		AddNode(NodeAgent, NewModelNode(m, o.name, o.instruction, declared)).
		SetEntryPoint(NodeAgent)
	if len(callable) == 0 {
		return sg.SetFinishPoint(NodeAgent).Compile()
	}
	return sg.
		AddNode(NodeTools, NewToolsNode(callable, o.metrics)).
		AddConditionalEdges(NodeAgent, RouteTools, map[string]string{
			NodeTools: NodeTools,
			graph.End: graph.End,
		}).
		AddEdge(NodeTools, NodeAgent).
		Compile()
}

// RouteTools sends the run to the tools node when the last message asks for
// tool calls, and ends it otherwise.
func RouteTools(_ context.Context, state graph.State) (string, error) {
	if last, ok := state.LastMessage(); ok && last.Role == model.RoleAssistant && len(last.ToolCalls) > 0 {
		return NodeTools, nil
	}
	return graph.End, nil
}

// NewModelNode calls m with the system prompt, the history and tools, and
// appends the reply named name. Text deltas are streamed as partial
// message events under the reply's id.
func NewModelNode(m model.Model, name, instruction string, tools map[string]tool.Tool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.Update, error) {
		ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameCallLLM)
		defer span.End()
		span.SetAttributes(attribute.String(itelemetry.KeyModel, m.Info().Name))

		messages := state.Messages
		if instruction != "" {
			messages = append([]model.Message{model.NewSystemMessage(instruction)}, messages...)
		}
		request := &model.Request{
			Messages:         messages,
			Tools:            tools,
			GenerationConfig: model.GenerationConfig{Stream: true},
		}
		responses, err := m.GenerateContent(ctx, request)
		if err != nil {
			itelemetry.RecordError(span, err)
			return graph.Update{}, fmt.Errorf("failed to generate content: %w", err)
		}

		reply := model.Message{ID: uuid.NewString(), Role: model.RoleAssistant, Name: name}
		var (
			content  strings.Builder
			streamed bool
			final    *model.Response
		)
		for rsp := range responses {
			if rsp.Error != nil {
				err := fmt.Errorf("model API error: %w", rsp.Error)
				itelemetry.RecordError(span, err)
				return graph.Update{}, err
			}
			if len(rsp.Choices) == 0 {
				continue
			}
			if rsp.IsPartial {
				delta := rsp.Choices[0].Delta
				if delta.Content == "" {
					continue
				}
				content.WriteString(delta.Content)
				chunk := model.Message{ID: reply.ID, Role: model.RoleAssistant, Name: name, Content: delta.Content}
				if err := graph.EmitEvent(ctx, event.NewMessageEvent(chunk, true, event.WithAuthor(NodeAgent))); err != nil {
					return graph.Update{}, err
				}
				streamed = true
				continue
			}
			final = rsp
		}
		if final == nil && !streamed {
			return graph.Update{}, errors.New("no response received from model")
		}
		if final != nil {
			msg := final.Choices[0].Message
			reply.Content = msg.Content
			reply.ToolCalls = msg.ToolCalls
			reply.Usage = final.Usage
		}
		if reply.Content == "" {
			reply.Content = content.String()
		}
		if streamed && len(reply.ToolCalls) > 0 {
			// The closing chunk carries the calls, which deltas never do.
			chunk := model.Message{ID: reply.ID, Role: model.RoleAssistant, Name: name, ToolCalls: reply.ToolCalls}
			if err := graph.EmitEvent(ctx, event.NewMessageEvent(chunk, true, event.WithAuthor(NodeAgent))); err != nil {
				return graph.Update{}, err
			}
		}
		return graph.Update{Messages: []model.Message{reply}}, nil
	}
}

// NewToolsNode answers every call of the last assistant message in order.
// Results produced before a suspension are reused on resume, so a tool runs
// at most once per call id. Tool errors are returned to the model as error
// messages; interrupts suspend the run.
func NewToolsNode(tools map[string]tool.CallableTool, metrics *metric.Collector) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.Update, error) {
		last, ok := state.LastMessage()
		if !ok {
			return graph.Update{}, errors.New("no messages in state")
		}
		if last.Role != model.RoleAssistant {
			return graph.Update{}, errors.New("last message is not an assistant message")
		}
		out := make([]model.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			if done, ok := graph.CompletedWrite(ctx, call.ID); ok {
				graph.RecordWrite(ctx, call.ID, done)
				out = append(out, done)
				continue
			}
			msg, err := runTool(ctx, tools, call, metrics)
			if err != nil {
				return graph.Update{}, err
			}
			graph.RecordWrite(ctx, call.ID, msg)
			out = append(out, msg)
		}
		return graph.Update{Messages: out}, nil
	}
}

func runTool(
	ctx context.Context,
	tools map[string]tool.CallableTool,
	call model.ToolCall,
	metrics *metric.Collector,
) (model.Message, error) {
	name := call.Function.Name
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteToolSpanName(name))
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyToolName, name))

	t, ok := tools[name]
	if !ok {
		metrics.RecordToolCall(name, statusError)
		return errorMessage(call, fmt.Sprintf("Error: %s is not a valid tool, try one of [%s].",
			name, strings.Join(toolNames(tools), ", "))), nil
	}
	result, err := t.Call(tool.WithCallID(ctx, call.ID), []byte(call.Function.Arguments))
	if graph.IsInterruptError(err) {
		metrics.RecordToolCall(name, statusInterrupted)
		return model.Message{}, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return model.Message{}, ctx.Err()
		}
		itelemetry.RecordError(span, err)
		metrics.RecordToolCall(name, statusError)
		log.Debugf("tool %s (call %s) failed: %v", name, call.ID, err)
		return errorMessage(call, fmt.Sprintf("Error: %v\n Please fix your mistakes.", err)), nil
	}
	content, err := render(result)
	if err != nil {
		metrics.RecordToolCall(name, statusError)
		return errorMessage(call, fmt.Sprintf("Error: %v", err)), nil
	}
	metrics.RecordToolCall(name, statusSuccess)
	return model.NewToolMessage(call.ID, name, content), nil
}

func errorMessage(call model.ToolCall, content string) model.Message {
	msg := model.NewToolMessage(call.ID, call.Function.Name, content)
	msg.Status = model.StatusError
	return msg
}

// render turns a tool result into message content. Strings pass through.
func render(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(b), nil
}

func toolNames(tools map[string]tool.CallableTool) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
