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
	"fmt"
	"sort"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

type transport string

const (
	// transportStdio is the stdio transport.
	transportStdio transport = "stdio"
	// transportSSE is the Server-Sent Events transport.
	transportSSE transport = "sse"
	// transportStreamable is the streamable HTTP transport.
	transportStreamable transport = "streamable"
)

var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-agent-studio",
	Version: "1.0.0",
}

// ConnectionConfig describes how to reach one MCP server.
type ConnectionConfig struct {
	// Transport specifies the transport method: "stdio", "sse",
	// "streamable" or "streamable_http". Empty means stdio.
	Transport string `json:"transport"`

	// Streamable/SSE configuration.
	ServerURL string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	// STDIO configuration.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Timeout bounds each MCP request that has no deadline of its own.
	Timeout time.Duration `json:"timeout,omitempty"`

	ClientInfo mcp.Implementation `json:"client_info,omitempty"`
}

// ConfigFromMap reads a server's stored config: command, args, env, url,
// headers and timeout (seconds).
func ConfigFromMap(transportName string, m map[string]any) (ConnectionConfig, error) {
	cfg := ConnectionConfig{Transport: transportName}
	if s, ok := m["command"].(string); ok {
		cfg.Command = s
	}
	if s, ok := m["url"].(string); ok {
		cfg.ServerURL = s
	}
	if list, ok := m["args"].([]any); ok {
		for _, a := range list {
			cfg.Args = append(cfg.Args, fmt.Sprint(a))
		}
	} else if list, ok := m["args"].([]string); ok {
		cfg.Args = append(cfg.Args, list...)
	}
	cfg.Env = stringMap(m["env"])
	cfg.Headers = stringMap(m["headers"])
	switch v := m["timeout"].(type) {
	case float64:
		cfg.Timeout = time.Duration(v * float64(time.Second))
	case int:
		cfg.Timeout = time.Duration(v) * time.Second
	}
	t, err := validateTransport(cfg.Transport)
	if err != nil {
		return cfg, err
	}
	switch t {
	case transportStdio:
		if cfg.Command == "" {
			return cfg, fmt.Errorf("stdio transport needs a command")
		}
	default:
		if cfg.ServerURL == "" {
			return cfg, fmt.Errorf("%s transport needs a url", t)
		}
	}
	return cfg, nil
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out
	}
	return nil
}

// stdioCommand prefixes the command with env(1) when environment
// variables are configured.
func stdioCommand(cfg ConnectionConfig) (string, []string) {
	if len(cfg.Env) == 0 {
		return cfg.Command, cfg.Args
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys)+1+len(cfg.Args))
	for _, k := range keys {
		args = append(args, k+"="+cfg.Env[k])
	}
	args = append(args, cfg.Command)
	args = append(args, cfg.Args...)
	return "env", args
}

// ToolSetOption configures a ToolSet.
type ToolSetOption func(*toolSetConfig)

type toolSetConfig struct {
	name          string
	mcpOptions    []mcp.ClientOption
	autoReconnect bool
	newClient     func(ConnectionConfig, []mcp.ClientOption) (connector, error)
}

// WithName sets the name of the tool set used in logs.
func WithName(name string) ToolSetOption {
	return func(c *toolSetConfig) { c.name = name }
}

// WithMCPOptions adds MCP client options for the HTTP transports.
func WithMCPOptions(options ...mcp.ClientOption) ToolSetOption {
	return func(c *toolSetConfig) { c.mcpOptions = append(c.mcpOptions, options...) }
}

// WithAutoReconnect recreates the session once when a call fails with a
// connection error.
func WithAutoReconnect(enabled bool) ToolSetOption {
	return func(c *toolSetConfig) { c.autoReconnect = enabled }
}

func validateTransport(t string) (transport, error) {
	switch t {
	case "", "stdio":
		return transportStdio, nil
	case "sse":
		return transportSSE, nil
	case "streamable", "streamable_http", "streamable-http":
		return transportStreamable, nil
	default:
		return "", fmt.Errorf("unsupported transport: %s, supported: stdio, sse, streamable", t)
	}
}
