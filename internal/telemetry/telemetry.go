//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds names and helpers shared by the trace and metric
// packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-agent-studio"
	ServiceVersion   = "v0.3.1"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.agent.studio"

	SpanNameRun               = "run"
	SpanNameCallLLM           = "call_llm"
	SpanNamePrefixExecuteNode = "execute_node"
	SpanNamePrefixExecuteTool = "execute_tool"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// Span attribute keys.
const (
	KeyThreadID  = "trpc.go.agent.thread_id"
	KeyRunID     = "trpc.go.agent.run_id"
	KeyNodeID    = "trpc.go.agent.node_id"
	KeyNamespace = "trpc.go.agent.checkpoint_ns"
	KeyToolName  = "trpc.go.agent.tool_name"
	KeyModel     = "trpc.go.agent.model"
	KeyError     = "trpc.go.agent.error"
)

// NewExecuteToolSpanName returns the span name of a tool call.
func NewExecuteToolSpanName(toolName string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixExecuteTool, toolName)
}

// NewExecuteNodeSpanName returns the span name of a node step.
func NewExecuteNodeSpanName(nodeID string) string {
	return fmt.Sprintf("%s %s", SpanNamePrefixExecuteNode, nodeID)
}

// RecordError tags span with err when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(KeyError, err.Error()))
}

// NewGRPCConn dials the collector at endpoint.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		// Note the use of insecure transport here. TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
