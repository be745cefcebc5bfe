//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package model

import "time"

// Error types carried by ResponseError.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
)

// Response is one item of a GenerateContent stream.
type Response struct {
	ID        string         `json:"id"`
	Model     string         `json:"model"`
	Choices   []Choice       `json:"choices"`
	Usage     *Usage         `json:"usage,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	// Done marks the last response of the stream.
	Done bool `json:"done"`
	// IsPartial marks a streaming delta. Deltas are carried in Choice.Delta,
	// the final message in Choice.Message.
	IsPartial bool `json:"is_partial"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage counts tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError reports a failure inside the stream.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *ResponseError) Error() string { return e.Type + ": " + e.Message }
