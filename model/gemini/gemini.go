//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package gemini implements model.Model on the Google GenAI SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// Model is a Gemini chat model. The client is created lazily on the first
// call so that New never blocks on the network.
type Model struct {
	name   string
	config *genai.ClientConfig

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// Option configures a Model.
type Option func(*genai.ClientConfig)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *genai.ClientConfig) { c.APIKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

// New creates a model named name.
func New(name string, opts ...Option) *Model {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Model{name: name, config: cfg}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: "gemini"}
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	m.once.Do(func() {
		m.client, m.clientErr = genai.NewClient(ctx, m.config)
	})
	if m.clientErr != nil {
		return nil, fmt.Errorf("create gemini client: %w", m.clientErr)
	}

	contents, system := buildContents(request.Messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if decls := buildDeclarations(request.Tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if request.Temperature != nil {
		t := float32(*request.Temperature)
		cfg.Temperature = &t
	}
	if request.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*request.MaxTokens)
	}

	out := make(chan *model.Response, 1)
	go func() {
		defer close(out)
		resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, cfg)
		var rsp *model.Response
		if err != nil {
			rsp = &model.Response{
				Error:     &model.ResponseError{Message: err.Error(), Type: model.ErrorTypeAPIError},
				Timestamp: time.Now(),
				Done:      true,
			}
		} else {
			rsp = convertResponse(m.name, resp)
		}
		select {
		case out <- rsp:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// buildContents splits off the system instruction and groups consecutive
// tool results into a single user turn.
func buildContents(messages []model.Message) ([]*genai.Content, *genai.Content) {
	var (
		contents []*genai.Content
		system   *genai.Content
		pending  *genai.Content
	)
	flush := func() {
		if pending != nil {
			contents = append(contents, pending)
			pending = nil
		}
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: msg.Content})
		case model.RoleTool:
			if pending == nil {
				pending = &genai.Content{Role: string(genai.RoleUser)}
			}
			key := "output"
			if msg.Status == model.StatusError {
				key = "error"
			}
			pending.Parts = append(pending.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolID,
				Name:     msg.ToolName,
				Response: map[string]any{key: msg.Content},
			}})
		case model.RoleAssistant:
			flush()
			c := &genai.Content{Role: string(genai.RoleModel)}
			if msg.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: tc.ID, Name: tc.Function.Name, Args: args,
				}})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		default:
			flush()
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	flush()
	return contents, system
}

func buildDeclarations(tools map[string]tool.Tool) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		d := t.Declaration()
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  convertSchema(d.InputSchema),
		})
	}
	return decls
}

func convertSchema(s *tool.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    s.Required,
		Items:       convertSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(v)
		}
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(e))
	}
	return out
}

func convertResponse(name string, resp *genai.GenerateContentResponse) *model.Response {
	id := uuid.NewString()
	msg := model.Message{ID: id, Role: model.RoleAssistant}
	var finish string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		cand := resp.Candidates[0]
		finish = string(cand.FinishReason)
		for i, part := range cand.Content.Parts {
			if part.Text != "" {
				msg.Content += part.Text
			}
			if fc := part.FunctionCall; fc != nil {
				callID := fc.ID
				if callID == "" {
					callID = fmt.Sprintf("call_%s_%d", id[:8], i)
				}
				raw, err := json.Marshal(fc.Args)
				if err != nil || fc.Args == nil {
					raw = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
					Type:     "function",
					ID:       callID,
					Function: model.FunctionDefinitionParam{Name: fc.Name, Arguments: string(raw)},
				})
			}
		}
	}
	rsp := &model.Response{
		ID:        id,
		Model:     name,
		Choices:   []model.Choice{{Message: msg, FinishReason: &finish}},
		Timestamp: time.Now(),
		Done:      true,
	}
	if u := resp.UsageMetadata; u != nil {
		rsp.Usage = &model.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
		rsp.Choices[0].Message.Usage = rsp.Usage
	}
	return rsp
}
