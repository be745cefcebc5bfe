//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package stream

import (
	"maps"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Version fields reported to the chat UI.
const (
	GraphVersion = "0.6.6"
	APIVersion   = "0.3.1"
)

// forwardedHeaders are copied from the request into the envelope.
var forwardedHeaders = []string{
	"host", "connection", "content-length", "user-agent", "content-type",
	"accept", "origin", "referer", "accept-encoding", "accept-language",
	"x-request-id", "sec-fetch-site", "sec-fetch-mode", "sec-fetch-dest",
}

// EnvelopeParams identifies the run an envelope describes.
type EnvelopeParams struct {
	RunID       string
	ThreadID    string
	AssistantID string
	Header      http.Header
	// APIURL is the externally visible base url, if known.
	APIURL string
}

// BuildEnvelope returns the metadata sent with every message frame of a
// run.
func BuildEnvelope(p EnvelopeParams) map[string]any {
	requestID := p.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	env := map[string]any{
		"created_by":                      "system",
		"graph_id":                        "agent",
		"assistant_id":                    p.AssistantID,
		"run_attempt":                     1,
		"langgraph_version":               GraphVersion,
		"langgraph_api_version":           APIVersion,
		"langgraph_plan":                  "developer",
		"langgraph_host":                  "self-hosted",
		"langgraph_api_url":               p.APIURL,
		"langgraph_auth_user_id":          "",
		"langgraph_request_id":            requestID,
		"run_id":                          p.RunID,
		"thread_id":                       p.ThreadID,
		"user_id":                         "",
		"LANGSMITH_LANGGRAPH_API_VARIANT": "local_dev",
		"LANGSMITH_PROJECT":               "local-agent",
	}
	for _, h := range forwardedHeaders {
		if v := p.Header.Get(h); v != "" {
			env[h] = v
		}
	}
	return env
}

// withNode returns a copy of env describing the node that produced a
// message.
func withNode(env map[string]any, node, namespace string) map[string]any {
	out := maps.Clone(env)
	if out == nil {
		out = map[string]any{}
	}
	if node != "" {
		out["langgraph_node"] = node
		out["langgraph_triggers"] = []string{"branch:to:" + node}
	}
	ns := node
	if namespace != "" {
		ns = strings.Join([]string{namespace, node}, "|")
	}
	out["langgraph_checkpoint_ns"] = ns
	return out
}
