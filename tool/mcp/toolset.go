//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package mcp exposes the tools of an MCP server as callable tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// reconnectErrorPatterns are the failures that justify a new session.
var reconnectErrorPatterns = []string{
	"session_expired:",
	"transport is closed",
	"not initialized",
	"connection refused",
	"connection reset",
	"EOF",
	"broken pipe",
	"session not found",
}

// connector is the part of an MCP client the tool set uses.
type connector interface {
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req *mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ToolSet is a tool.ToolSet backed by one MCP session.
type ToolSet struct {
	name    string
	session *sessionManager

	mu    sync.RWMutex
	tools []tool.CallableTool
}

// NewToolSet creates a tool set. No connection is made until Connect or
// Tools is called.
func NewToolSet(config ConnectionConfig, opts ...ToolSetOption) *ToolSet {
	cfg := toolSetConfig{name: "mcp", newClient: newClient}
	for _, opt := range opts {
		opt(&cfg)
	}
	if config.ClientInfo.Name == "" {
		config.ClientInfo = defaultClientInfo
	}
	return &ToolSet{
		name: cfg.name,
		session: &sessionManager{
			config:        config,
			mcpOptions:    cfg.mcpOptions,
			autoReconnect: cfg.autoReconnect,
			newClient:     cfg.newClient,
		},
	}
}

// Connect opens the session and lists the tools once.
func (ts *ToolSet) Connect(ctx context.Context) error {
	if err := ts.session.connect(ctx); err != nil {
		return fmt.Errorf("mcp %s: %w", ts.name, err)
	}
	return ts.refresh(ctx)
}

// Tools implements tool.ToolSet. It returns the tools listed at Connect,
// listing them first if Connect was not called.
func (ts *ToolSet) Tools(ctx context.Context) []tool.CallableTool {
	ts.mu.RLock()
	listed := ts.tools != nil
	ts.mu.RUnlock()
	if !listed {
		if err := ts.Connect(ctx); err != nil {
			log.Errorf("mcp %s: list tools: %v", ts.name, err)
		}
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]tool.CallableTool(nil), ts.tools...)
}

// Name implements tool.ToolSet.
func (ts *ToolSet) Name() string { return ts.name }

// Close implements tool.ToolSet.
func (ts *ToolSet) Close() error {
	if err := ts.session.close(); err != nil {
		return fmt.Errorf("mcp %s: close: %w", ts.name, err)
	}
	log.Debugf("mcp %s closed", ts.name)
	return nil
}

func (ts *ToolSet) refresh(ctx context.Context) error {
	listed, err := ts.session.listTools(ctx)
	if err != nil {
		return fmt.Errorf("mcp %s: list tools: %w", ts.name, err)
	}
	tools := make([]tool.CallableTool, 0, len(listed))
	for _, t := range listed {
		tools = append(tools, newMCPTool(t, ts.session))
	}
	ts.mu.Lock()
	ts.tools = tools
	ts.mu.Unlock()
	log.Debugf("mcp %s: %d tools", ts.name, len(tools))
	return nil
}

type sessionManager struct {
	config        ConnectionConfig
	mcpOptions    []mcp.ClientOption
	autoReconnect bool
	newClient     func(ConnectionConfig, []mcp.ClientOption) (connector, error)

	mu        sync.RWMutex
	client    connector
	reconnect singleflight.Group
}

func newClient(cfg ConnectionConfig, mcpOptions []mcp.ClientOption) (connector, error) {
	t, err := validateTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	var options []mcp.ClientOption
	if len(cfg.Headers) > 0 {
		headers := http.Header{}
		for k, v := range cfg.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	options = append(options, mcpOptions...)

	switch t {
	case transportStdio:
		command, args := stdioCommand(cfg)
		return mcp.NewStdioClient(mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{Command: command, Args: args},
			Timeout:      cfg.Timeout,
		}, cfg.ClientInfo)
	case transportSSE:
		return mcp.NewSSEClient(cfg.ServerURL, cfg.ClientInfo, options...)
	default:
		return mcp.NewClient(cfg.ServerURL, cfg.ClientInfo, options...)
	}
}

func (m *sessionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, m.config.Timeout)
		}
	}
	return ctx, func() {}
}

func (m *sessionManager) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}
	return m.open(ctx)
}

// open requires m.mu held.
func (m *sessionManager) open(ctx context.Context) error {
	client, err := m.newClient(m.config, m.mcpOptions)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	initCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	resp, err := client.Initialize(initCtx, &mcp.InitializeRequest{})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Warnf("close mcp client after failed initialize: %v", closeErr)
		}
		return fmt.Errorf("initialize session: %w", err)
	}
	log.Debugf("mcp session initialized: server=%s version=%s protocol=%s",
		resp.ServerInfo.Name, resp.ServerInfo.Version, resp.ProtocolVersion)
	m.client = client
	return nil
}

func (m *sessionManager) listTools(ctx context.Context) ([]mcp.Tool, error) {
	var result []mcp.Tool
	err := m.do(ctx, func(c connector) error {
		listCtx, cancel := m.withTimeout(ctx)
		defer cancel()
		resp, err := c.ListTools(listCtx, &mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		result = resp.Tools
		return nil
	})
	return result, err
}

func (m *sessionManager) callTool(ctx context.Context, name string, arguments map[string]any) ([]mcp.Content, error) {
	var result []mcp.Content
	err := m.do(ctx, func(c connector) error {
		callCtx, cancel := m.withTimeout(ctx)
		defer cancel()
		req := &mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = arguments
		resp, err := c.CallTool(callCtx, req)
		if err != nil {
			return fmt.Errorf("call tool %s: %w", name, err)
		}
		result = resp.Content
		return nil
	})
	return result, err
}

// do runs op on the current client, recreating the session once on a
// connection failure when auto reconnect is enabled.
func (m *sessionManager) do(ctx context.Context, op func(connector) error) error {
	run := func() error {
		m.mu.RLock()
		c := m.client
		m.mu.RUnlock()
		if c == nil {
			return fmt.Errorf("transport is closed")
		}
		return op(c)
	}
	err := run()
	if err == nil || !m.shouldReconnect(err) || ctx.Err() != nil {
		return err
	}
	log.Debugf("mcp session failed (%v), reconnecting", err)
	if _, rerr, _ := m.reconnect.Do("reconnect", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.client != nil {
			_ = m.client.Close()
			m.client = nil
		}
		return nil, m.open(ctx)
	}); rerr != nil {
		log.Errorf("mcp reconnect failed: %v", rerr)
		return err
	}
	return run()
}

func (m *sessionManager) shouldReconnect(err error) bool {
	if !m.autoReconnect {
		return false
	}
	msg := err.Error()
	for _, p := range reconnectErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func (m *sessionManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

type mcpTool struct {
	ref         mcp.Tool
	inputSchema *tool.Schema
	session     *sessionManager
}

func newMCPTool(t mcp.Tool, session *sessionManager) *mcpTool {
	mt := &mcpTool{ref: t, session: session}
	if t.InputSchema != nil {
		mt.inputSchema = convertMCPSchemaToSchema(t.InputSchema)
	}
	return mt
}

// Call implements tool.CallableTool. Text content is joined into the
// result string.
func (t *mcpTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	arguments := map[string]any{}
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &arguments); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
	}
	content, err := t.session.callTool(ctx, t.ref.Name, arguments)
	if err != nil {
		return nil, err
	}
	return renderContent(content), nil
}

// Declaration implements tool.Tool.
func (t *mcpTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        t.ref.Name,
		Description: t.ref.Description,
		InputSchema: t.inputSchema,
	}
}

func renderContent(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
