//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package openai implements model.Model on the OpenAI chat completions API.
// Any server speaking that API (Groq, Ollama) is reachable via WithBaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

const (
	defaultChannelBufferSize = 256
	functionToolType         = "function"
)

// Model is an OpenAI-compatible chat model.
type Model struct {
	client            openai.Client
	name              string
	provider          string
	channelBufferSize int
}

// Option configures a Model.
type Option func(*options)

type options struct {
	APIKey            string
	BaseURL           string
	Provider          string
	ChannelBufferSize int
	OpenAIOptions     []openaiopt.RequestOption
}

// WithAPIKey sets the bearer key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.BaseURL = url }
}

// WithProvider sets the provider name reported by Info.
func WithProvider(provider string) Option {
	return func(o *options) { o.Provider = provider }
}

// WithChannelBufferSize sets the response channel buffer.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.ChannelBufferSize = size
		}
	}
}

// WithOpenAIOptions appends raw client options, e.g. a test HTTP client.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.OpenAIOptions = append(o.OpenAIOptions, opts...) }
}

// New creates a model named name.
func New(name string, opts ...Option) *Model {
	o := &options{Provider: "openai", ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		provider:          o.Provider,
		channelBufferSize: o.ChannelBufferSize,
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: m.provider}
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan)
		} else {
			m.handleNonStreamingResponse(ctx, chatRequest, responseChan)
		}
	}()
	return responseChan, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			if msg.Name != "" {
				assistant.Name = openai.String(msg.Name)
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolID))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, tc := range toolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return result
}

func convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		declaration := t.Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		response := &model.Response{
			ID:        chunk.ID,
			Model:     chunk.Model,
			Timestamp: time.Now(),
			IsPartial: true,
			Choices: []model.Choice{{
				Delta: model.Message{
					Role:    model.RoleAssistant,
					Content: chunk.Choices[0].Delta.Content,
				},
			}},
		}
		if !send(ctx, responseChan, response) {
			return
		}
	}
	send(ctx, responseChan, finalFromStream(stream, acc))
}

func finalFromStream(stream *ssestream.Stream[openai.ChatCompletionChunk], acc openai.ChatCompletionAccumulator) *model.Response {
	if err := stream.Err(); err != nil {
		return errorResponse(model.ErrorTypeStreamError, err)
	}
	return finalResponse(acc.ChatCompletion)
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	completion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		send(ctx, responseChan, errorResponse(model.ErrorTypeAPIError, err))
		return
	}
	send(ctx, responseChan, finalResponse(*completion))
}

func finalResponse(completion openai.ChatCompletion) *model.Response {
	response := &model.Response{
		ID:        completion.ID,
		Model:     completion.Model,
		Timestamp: time.Now(),
		Done:      true,
		Usage: &model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, choice := range completion.Choices {
		msg := model.Message{
			ID:      completion.ID,
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		for j, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				// Some compatible servers omit the id.
				id = fmt.Sprintf("auto_call_%d", j)
			}
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				Type: functionToolType,
				ID:   id,
				Function: model.FunctionDefinitionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		c := model.Choice{Index: int(choice.Index), Message: msg}
		if choice.FinishReason != "" {
			reason := choice.FinishReason
			c.FinishReason = &reason
		}
		response.Choices = append(response.Choices, c)
	}
	return response
}

func errorResponse(kind string, err error) *model.Response {
	return &model.Response{
		Error:     &model.ResponseError{Message: err.Error(), Type: kind},
		Timestamp: time.Now(),
		Done:      true,
	}
}

func send(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) bool {
	select {
	case ch <- rsp:
		return true
	case <-ctx.Done():
		return false
	}
}
