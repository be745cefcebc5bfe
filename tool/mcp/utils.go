//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"encoding/json"

	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// convertMCPSchemaToSchema converts an MCP input schema into tool.Schema.
// Anything unreadable degrades to a bare object schema.
func convertMCPSchemaToSchema(mcpSchema any) *tool.Schema {
	raw, err := json.Marshal(mcpSchema)
	if err != nil {
		return &tool.Schema{Type: "object"}
	}
	var schema tool.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &tool.Schema{Type: "object"}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}
