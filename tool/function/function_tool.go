//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package function adapts plain Go functions into callable tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"trpc.group/trpc-go/trpc-agent-studio/internal/schema"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// FunctionTool calls fn with arguments decoded into I.
type FunctionTool[I, O any] struct {
	name        string
	description string
	inputSchema *tool.Schema
	fn          func(context.Context, I) (O, error)
}

// Option configures a FunctionTool.
type Option func(*options)

type options struct {
	name        string
	description string
}

// WithName sets the declared tool name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDescription sets the declared tool description.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

// NewFunctionTool creates a tool whose input schema is derived from I.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var emptyI I
	return &FunctionTool[I, O]{
		name:        o.name,
		description: o.description,
		inputSchema: schema.Generate(reflect.TypeOf(emptyI)),
		fn:          fn,
	}
}

// Call implements tool.CallableTool.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("tool %s: decode arguments: %w", ft.name, err)
		}
	}
	return ft.fn(ctx, input)
}

// Declaration implements tool.Tool.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        ft.name,
		Description: ft.description,
		InputSchema: ft.inputSchema,
	}
}
