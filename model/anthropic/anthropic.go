//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package anthropic implements model.Model on the Anthropic messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

const defaultMaxTokens = 4096

// Model is an Anthropic chat model. Requests are always issued without
// streaming; the final message is delivered as a single response.
type Model struct {
	client    anthropic.Client
	name      string
	maxTokens int64
}

// Option configures a Model.
type Option func(*options)

type options struct {
	apiKey     string
	baseURL    string
	maxTokens  int64
	clientOpts []option.RequestOption
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithClientOptions appends raw SDK options.
func WithClientOptions(opts ...option.RequestOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New creates a model named name.
func New(name string, opts ...Option) *Model {
	o := &options{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []option.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.clientOpts...)
	return &Model{
		client:    anthropic.NewClient(clientOpts...),
		name:      name,
		maxTokens: o.maxTokens,
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: "anthropic"}
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.name),
		MaxTokens: m.maxTokens,
		Messages:  buildMessages(request.Messages),
		System:    systemBlocks(request.Messages),
		Tools:     buildTools(request.Tools),
	}
	if request.Temperature != nil {
		params.Temperature = anthropic.Float(*request.Temperature)
	}

	out := make(chan *model.Response, 1)
	go func() {
		defer close(out)
		resp, err := m.client.Messages.New(ctx, params)
		var rsp *model.Response
		if err != nil {
			rsp = &model.Response{
				Error:     &model.ResponseError{Message: err.Error(), Type: model.ErrorTypeAPIError},
				Timestamp: time.Now(),
				Done:      true,
			}
		} else {
			rsp = convertResponse(resp)
		}
		select {
		case out <- rsp:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func systemBlocks(messages []model.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role == model.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// buildMessages folds consecutive tool messages into one user turn, which
// the API requires for parallel tool results.
func buildMessages(messages []model.Message) []anthropic.MessageParam {
	var (
		result  []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			result = append(result, anthropic.NewUserMessage(results...))
			results = nil
		}
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			continue
		case model.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolID, msg.Content, msg.Status == model.StatusError))
			continue
		}
		flush()
		switch msg.Role {
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any = map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()
	return result
}

func buildTools(tools map[string]tool.Tool) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		decl := t.Declaration()
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if decl.InputSchema != nil {
			if len(decl.InputSchema.Properties) > 0 {
				inputSchema.Properties = decl.InputSchema.Properties
			}
			inputSchema.Required = decl.InputSchema.Required
		}
		param := anthropic.ToolUnionParamOfTool(inputSchema, decl.Name)
		if param.OfTool != nil && decl.Description != "" {
			param.OfTool.Description = anthropic.String(decl.Description)
		}
		result = append(result, param)
	}
	return result
}

func convertResponse(resp *anthropic.Message) *model.Response {
	msg := model.Message{ID: resp.ID, Role: model.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if tu.Input != nil {
				if raw, err := json.Marshal(tu.Input); err == nil {
					args = string(raw)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				Type:     "function",
				ID:       tu.ID,
				Function: model.FunctionDefinitionParam{Name: tu.Name, Arguments: args},
			})
		}
	}
	usage := &model.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	msg.Usage = usage
	reason := string(resp.StopReason)
	return &model.Response{
		ID:        resp.ID,
		Model:     string(resp.Model),
		Choices:   []model.Choice{{Message: msg, FinishReason: &reason}},
		Usage:     usage,
		Timestamp: time.Now(),
		Done:      true,
	}
}
