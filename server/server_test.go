//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/agent/cache"
	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/entity/gormstore"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-agent-studio/history"
	"trpc.group/trpc-go/trpc-agent-studio/internal/testkit"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/runner"
	"trpc.group/trpc-go/trpc-agent-studio/server"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

type fixture struct {
	srv     *httptest.Server
	threads *thread.Registry
	calls   *testkit.Counter
}

func newFixture(t *testing.T, turns ...testkit.Turn) *fixture {
	t.Helper()
	db, err := gormstore.Open(gormstore.DriverSQLite, filepath.Join(t.TempDir(), "studio.db"))
	require.NoError(t, err)
	store, err := gormstore.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	calls := &testkit.Counter{}
	resolver := builder.ToolResolverFunc(func(context.Context, entity.McpServer) (tool.ToolSet, error) {
		return &testkit.StaticToolSet{SetName: "calc", List: []tool.CallableTool{testkit.AddTool(calls)}}, nil
	})
	m := testkit.NewModel(turns, testkit.WithStreaming())
	saver := inmemory.NewSaver()
	b := builder.New(
		builder.WithCheckpointSaver(saver),
		builder.WithToolResolver(resolver),
		builder.WithModelFactory(func(*entity.APIKey) (model.Model, error) { return m, nil }),
	)
	graphs := cache.New(store, b, cache.WithStamper(store))
	store.OnChange(graphs.Invalidate)
	t.Cleanup(func() { _ = graphs.Close() })

	threads := thread.New(thread.WithDeleteHook(saver.DeleteLineage))
	runs := runner.New(threads, graphs)
	reg := prometheus.NewRegistry()
	s := server.New(store, threads, runs, history.New(threads, saver),
		server.WithToolResolver(resolver),
		server.WithMetrics(metric.NewCollector("", reg), reg),
		server.WithStreamDelay(0),
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = runs.Shutdown(context.Background())
	})
	return &fixture{srv: srv, threads: threads, calls: calls}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	out, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp.StatusCode, out
}

func (f *fixture) json(t *testing.T, method, path string, body any, want int) map[string]any {
	t.Helper()
	code, raw := f.do(t, method, path, body)
	require.Equal(t, want, code, string(raw))
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// seed creates a key, a tool server in mode and an agent using both, and
// returns the agent id.
func (f *fixture) seed(t *testing.T, mode string) string {
	t.Helper()
	key := f.json(t, http.MethodPost, "/api/v1/api-keys", map[string]any{
		"name": "main", "provider_name": "openai", "model_name": "gpt-4o-mini", "secret_key": "sk",
	}, http.StatusOK)
	srv := f.json(t, http.MethodPost, "/api/v1/mcp-servers", map[string]any{
		"name": "calc", "mode": mode, "config_json": map[string]any{"command": "calc"},
	}, http.StatusOK)
	agent := f.json(t, http.MethodPost, "/api/v1/agents", map[string]any{
		"name": "Math Agent", "role": "mathematician", "task": "add numbers",
		"instructions": "use the add tool", "api_key_id": key["id"],
		"mcp_servers": []any{map[string]any{"mcp_server_id": srv["id"]}},
	}, http.StatusOK)
	return agent["id"].(string)
}

type frame struct {
	Event string
	Data  json.RawMessage
	ID    string
}

func parseFrames(t *testing.T, raw string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		if block == "" {
			continue
		}
		var fr frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				fr.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				fr.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
			case strings.HasPrefix(line, "id: "):
				fr.ID = strings.TrimPrefix(line, "id: ")
			}
		}
		out = append(out, fr)
	}
	return out
}

func (f *fixture) stream(t *testing.T, threadID string, body map[string]any) []frame {
	t.Helper()
	code, raw := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+threadID+"/runs/stream", body)
	require.Equal(t, http.StatusOK, code, string(raw))
	return parseFrames(t, string(raw))
}

func lastValues(t *testing.T, frames []frame) map[string]any {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == "values" {
			var v map[string]any
			require.NoError(t, json.Unmarshal(frames[i].Data, &v))
			return v
		}
	}
	t.Fatal("no values frame")
	return nil
}

func lastContent(t *testing.T, values map[string]any) string {
	t.Helper()
	msgs, ok := values["messages"].([]any)
	require.True(t, ok, "values carry no messages: %v", values)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].(map[string]any)["content"].(string)
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t)
	f.json(t, http.MethodGet, "/healthz", nil, http.StatusOK)
	info := f.json(t, http.MethodGet, "/api/v1/chat/info", nil, http.StatusOK)
	assert.Equal(t, "0.3.1", info["version"])
	assert.Equal(t, "self-hosted", info["host"].(map[string]any)["kind"])

	code, raw := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestThreadLifecycle(t *testing.T) {
	f := newFixture(t)
	th := f.json(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{
		"metadata": map[string]any{"graph_id": "agent"},
	}, http.StatusOK)
	id := th["thread_id"].(string)
	assert.Equal(t, "idle", th["status"])

	f.json(t, http.MethodPost, "/api/v1/chat/threads", map[string]any{"thread_id": id}, http.StatusConflict)

	code, raw := f.do(t, http.MethodPost, "/api/v1/chat/threads/search", map[string]any{
		"metadata": map[string]any{"graph_id": "agent"},
	})
	require.Equal(t, http.StatusOK, code)
	var found []map[string]any
	require.NoError(t, json.Unmarshal(raw, &found))
	require.Len(t, found, 1)

	code, raw = f.do(t, http.MethodPost, "/api/v1/chat/threads/"+id+"/history", map[string]any{"limit": 10})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(raw))

	state := f.json(t, http.MethodGet, "/api/v1/chat/threads/"+id+"/state", nil, http.StatusOK)
	assert.Empty(t, state["checkpoint_id"])

	del := f.json(t, http.MethodDelete, "/api/v1/chat/threads/"+id, nil, http.StatusOK)
	assert.Equal(t, "deleted", del["status"])
	assert.Equal(t, id, del["thread_id"])

	body := f.json(t, http.MethodGet, "/api/v1/chat/threads/"+id, nil, http.StatusNotFound)
	assert.Contains(t, body["detail"], id)
}

func TestRunStreamCompletes(t *testing.T) {
	f := newFixture(t,
		testkit.Call("call_1", "add", `{"a":2,"b":2}`),
		testkit.EchoTool("The answer is "),
	)
	agentID := f.seed(t, entity.ModeAutonomous)
	th := f.json(t, http.MethodPost, "/api/v1/chat/threads", nil, http.StatusOK)
	id := th["thread_id"].(string)

	frames := f.stream(t, id, map[string]any{
		"assistant_id": agentID,
		"input":        map[string]any{"messages": []any{map[string]any{"type": "human", "content": "2+2?"}}},
	})
	require.NotEmpty(t, frames)
	assert.Equal(t, "metadata", frames[0].Event)
	assert.Equal(t, "0", frames[0].ID)
	var kinds []string
	for _, fr := range frames {
		kinds = append(kinds, fr.Event)
	}
	assert.Contains(t, kinds, "messages")
	assert.Equal(t, "The answer is 4", lastContent(t, lastValues(t, frames)))

	got := f.json(t, http.MethodGet, "/api/v1/chat/threads/"+id, nil, http.StatusOK)
	assert.Equal(t, "idle", got["status"])

	code, raw := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+id+"/history", map[string]any{})
	require.Equal(t, http.StatusOK, code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.NotEmpty(t, views)
}

func TestRunStreamInterruptAndResume(t *testing.T) {
	f := newFixture(t,
		testkit.Call("call_1", "add", `{"a":2,"b":2}`),
		testkit.EchoTool("The answer is "),
	)
	agentID := f.seed(t, entity.ModeSupervised)
	th := f.json(t, http.MethodPost, "/api/v1/chat/threads", nil, http.StatusOK)
	id := th["thread_id"].(string)

	frames := f.stream(t, id, map[string]any{"assistant_id": agentID, "input": "2+2?", "stream_mode": "values"})
	values := lastValues(t, frames)
	pending, ok := values["__interrupt__"].([]any)
	require.True(t, ok, "last values frame is not an interrupt: %v", values)
	require.Len(t, pending, 1)
	assert.Equal(t, "call_1", pending[0].(map[string]any)["id"])

	got := f.json(t, http.MethodGet, "/api/v1/chat/threads/"+id, nil, http.StatusOK)
	assert.Equal(t, "interrupted", got["status"])

	state := f.json(t, http.MethodGet, "/api/v1/chat/threads/"+id+"/state", nil, http.StatusOK)
	assert.NotEmpty(t, state["interrupts"])

	// A decision the interrupt does not allow is rejected before the run.
	code, _ := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+id+"/runs/stream", map[string]any{
		"assistant_id": agentID,
		"command":      map[string]any{"resume": map[string]any{"call_9": map[string]any{"type": "accept"}}},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	frames = f.stream(t, id, map[string]any{
		"assistant_id": agentID,
		"command": map[string]any{"resume": []any{map[string]any{
			"type": "edit",
			"args": map[string]any{"action": "add", "args": map[string]any{"a": 3, "b": 3}},
		}}},
	})
	assert.Equal(t, "The answer is 6", lastContent(t, lastValues(t, frames)))
	assert.Equal(t, 1, f.calls.Count())
}

func TestRunStreamErrors(t *testing.T) {
	f := newFixture(t)
	th := f.json(t, http.MethodPost, "/api/v1/chat/threads", nil, http.StatusOK)
	id := th["thread_id"].(string)

	cases := map[string]struct {
		thread string
		body   map[string]any
		want   int
	}{
		"unknown thread":    {"nope", map[string]any{"assistant_id": "a", "input": "hi"}, http.StatusNotFound},
		"unknown assistant": {id, map[string]any{"assistant_id": "missing", "input": "hi"}, http.StatusNotFound},
		"no assistant":      {id, map[string]any{"input": "hi"}, http.StatusBadRequest},
		"bad input":         {id, map[string]any{"assistant_id": "a", "input": 42}, http.StatusBadRequest},
		"goto":              {id, map[string]any{"assistant_id": "a", "command": map[string]any{"goto": "tools"}}, http.StatusBadRequest},
		"resume idle":       {id, map[string]any{"assistant_id": "a", "command": map[string]any{"resume": "ok"}}, http.StatusBadRequest},
		"bad policy":        {id, map[string]any{"assistant_id": "a", "input": "hi", "on_disconnect": "pause"}, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			code, raw := f.do(t, http.MethodPost, "/api/v1/chat/threads/"+tc.thread+"/runs/stream", tc.body)
			assert.Equal(t, tc.want, code, string(raw))
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.NotEmpty(t, body["detail"])
		})
	}

	f.json(t, http.MethodPost, "/api/v1/chat/threads/"+id+"/runs/r1/cancel", nil, http.StatusNotFound)
}

func TestEntityEndpoints(t *testing.T) {
	f := newFixture(t)
	agentID := f.seed(t, entity.ModeAutonomous)

	code, raw := f.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, code)
	var agents []map[string]any
	require.NoError(t, json.Unmarshal(raw, &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "Math Agent", agents[0]["name"])

	agent := f.json(t, http.MethodGet, "/api/v1/agents/"+agentID, nil, http.StatusOK)
	servers := agent["mcp_servers"].([]any)
	require.Len(t, servers, 1)
	serverID := servers[0].(map[string]any)["mcp_server_id"].(string)

	code, raw = f.do(t, http.MethodGet, "/api/v1/mcp-servers/"+serverID+"/tools", nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.JSONEq(t, `[{"tool_name":"add","tool_description":"Add two numbers"}]`, string(raw))

	// The key is still referenced by the agent.
	f.json(t, http.MethodDelete, "/api/v1/api-keys/"+agent["api_key_id"].(string), nil, http.StatusConflict)

	orch := f.json(t, http.MethodPost, "/api/v1/orchestrators", map[string]any{
		"name": "Team", "description": "math team", "instructions": "delegate",
		"api_key_id": agent["api_key_id"], "publish_as_app": true,
		"agents": []any{map[string]any{"agent_id": agentID}},
	}, http.StatusOK)

	code, raw = f.do(t, http.MethodGet, "/api/v1/apps", nil)
	require.Equal(t, http.StatusOK, code)
	var apps []map[string]any
	require.NoError(t, json.Unmarshal(raw, &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, orch["id"], apps[0]["id"])

	code, raw = f.do(t, http.MethodGet, "/api/v1/apps/agents", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(raw))

	f.json(t, http.MethodPost, "/api/v1/agents", map[string]any{"name": "x"}, http.StatusBadRequest)
	f.json(t, http.MethodGet, "/api/v1/orchestrators/missing", nil, http.StatusNotFound)
	f.json(t, http.MethodDelete, "/api/v1/orchestrators/"+orch["id"].(string), nil, http.StatusOK)
	f.json(t, http.MethodDelete, "/api/v1/agents/"+agentID, nil, http.StatusOK)

	code, raw = f.do(t, http.MethodGet, "/versions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(raw))
	f.json(t, http.MethodGet, "/versions/current", nil, http.StatusNotFound)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/chat/threads", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Less(t, rsp.StatusCode, 300)
	assert.NotEmpty(t, rsp.Header.Get("Access-Control-Allow-Origin"))
}

func TestChatRoutesLiveUnderChatPrefix(t *testing.T) {
	f := newFixture(t, testkit.Reply("hello"))
	agentID := f.seed(t, entity.ModeAutonomous)
	th := f.json(t, http.MethodPost, "/api/v1/chat/threads", nil, http.StatusOK)
	id := th["thread_id"].(string)

	code, _ := f.do(t, http.MethodGet, "/api/v1/threads/"+id, nil)
	assert.NotEqual(t, http.StatusOK, code)

	raw, err := json.Marshal(map[string]any{
		"assistant_id": agentID,
		"input":        map[string]any{"messages": []any{map[string]any{"type": "human", "content": "hi"}}},
	})
	require.NoError(t, err)
	rsp, err := http.Post(f.srv.URL+server.ChatPrefix+"/threads/"+id+"/runs/stream", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer rsp.Body.Close()
	_, err = io.ReadAll(rsp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.True(t, strings.HasPrefix(rsp.Header.Get("Content-Location"), "/api/v1/chat/threads/"+id+"/runs/"))
}
