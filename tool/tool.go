//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package tool defines the uniform call interface every tool reachable by an
// agent graph implements, whatever server or decorator stands behind it.
package tool

import (
	"context"
)

// Tool describes a tool to the model.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a Tool that can be invoked with JSON arguments.
type CallableTool interface {
	// Call runs the tool. The result is rendered into the tool message
	// content by the graph.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// ToolSet is a group of tools sharing one connection, such as an MCP server.
type ToolSet interface {
	// Tools lists the tools exposed by the set.
	Tools(ctx context.Context) []CallableTool
	// Name identifies the set in logs.
	Name() string
	// Close releases the underlying connection.
	Close() error
}

// Declaration is the model-facing description of a tool.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`
	// Description explains the tool's purpose.
	Description string `json:"description"`
	// InputSchema is the JSON schema of the arguments.
	InputSchema *Schema `json:"inputSchema"`
}

// Schema is a JSON schema subset sufficient for tool arguments.
type Schema struct {
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	AdditionalProperties any                `json:"additionalProperties,omitempty"`
}

// Decorator wraps a tool with extra behavior while keeping its declaration.
type Decorator func(CallableTool) CallableTool

// Identity is the Decorator that returns its argument unchanged.
func Identity(t CallableTool) CallableTool { return t }

// ByName indexes tools by declared name. Later duplicates win.
func ByName(tools []CallableTool) map[string]CallableTool {
	m := make(map[string]CallableTool, len(tools))
	for _, t := range tools {
		m[t.Declaration().Name] = t
	}
	return m
}
