//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the studio over HTTP: entity CRUD for the admin UI
// and the thread, run and history endpoints the chat UI speaks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/history"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/runner"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

// Path prefixes. Entity endpoints live under APIPrefix and the chat
// protocol under ChatPrefix.
const (
	APIPrefix  = "/api/v1"
	ChatPrefix = APIPrefix + "/chat"
)

// Store is the entity persistence the admin endpoints need.
type Store interface {
	CreateAPIKey(ctx context.Context, k *entity.APIKey) (*entity.APIKey, error)
	GetAPIKey(ctx context.Context, id string) (*entity.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]entity.APIKey, error)
	UpdateAPIKey(ctx context.Context, id string, k *entity.APIKey) (*entity.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error

	CreateMcpServer(ctx context.Context, m *entity.McpServer) (*entity.McpServer, error)
	GetMcpServer(ctx context.Context, id string) (*entity.McpServer, error)
	ListMcpServers(ctx context.Context) ([]entity.McpServer, error)
	UpdateMcpServer(ctx context.Context, id string, m *entity.McpServer) (*entity.McpServer, error)
	DeleteMcpServer(ctx context.Context, id string) error

	CreateAgent(ctx context.Context, a *entity.Agent) (*entity.Agent, error)
	GetAgent(ctx context.Context, id string) (*entity.Agent, error)
	ListAgents(ctx context.Context) ([]entity.Agent, error)
	UpdateAgent(ctx context.Context, id string, a *entity.Agent) (*entity.Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	CreateOrchestrator(ctx context.Context, o *entity.Orchestrator) (*entity.Orchestrator, error)
	GetOrchestrator(ctx context.Context, id string) (*entity.Orchestrator, error)
	ListOrchestrators(ctx context.Context) ([]entity.Orchestrator, error)
	UpdateOrchestrator(ctx context.Context, id string, o *entity.Orchestrator) (*entity.Orchestrator, error)
	DeleteOrchestrator(ctx context.Context, id string) error

	Apps(ctx context.Context) ([]entity.App, error)
	AgentApps(ctx context.Context) ([]entity.App, error)
	Versions(ctx context.Context) ([]entity.Version, error)
	CurrentVersion(ctx context.Context) (*entity.Version, error)
}

// Server routes HTTP requests to the studio components.
type Server struct {
	store   Store
	threads *thread.Registry
	runs    *runner.Runner
	history *history.Reconstructor
	router  *mux.Router

	tools       builder.ToolResolver
	metrics     *metric.Collector
	gatherer    prometheus.Gatherer
	origins     []string
	streamDelay time.Duration
	publicURL   string
}

// Option configures the Server.
type Option func(*Server)

// WithToolResolver sets how /mcp-servers/{id}/tools reaches a tool server.
// The default connects over MCP.
func WithToolResolver(r builder.ToolResolver) Option {
	return func(s *Server) { s.tools = r }
}

// WithMetrics records request metrics on c and serves g on /metrics.
func WithMetrics(c *metric.Collector, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithCORSOrigins sets the allowed origins. The default allows all.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithStreamDelay sets the minimum spacing of SSE frames.
func WithStreamDelay(d time.Duration) Option {
	return func(s *Server) { s.streamDelay = d }
}

// WithPublicURL sets the api url reported in stream metadata.
func WithPublicURL(u string) Option {
	return func(s *Server) { s.publicURL = u }
}

// New wires the handlers.
func New(
	store Store,
	threads *thread.Registry,
	runs *runner.Runner,
	hist *history.Reconstructor,
	opts ...Option,
) *Server {
	s := &Server{
		store:       store,
		threads:     threads,
		runs:        runs,
		history:     hist,
		router:      mux.NewRouter(),
		tools:       builder.MCPResolver{},
		gatherer:    prometheus.DefaultGatherer,
		origins:     []string{"*"},
		streamDelay: stream.DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", "Content-Location"},
	})
	s.router.Use(c.Handler, s.observe)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/versions", s.handleListVersions).Methods(http.MethodGet)
	s.router.HandleFunc("/versions/current", s.handleCurrentVersion).Methods(http.MethodGet)

	// Chat protocol: info, threads, runs and history.
	chat := s.router.PathPrefix(ChatPrefix).Subrouter()
	chat.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	chat.HandleFunc("/threads", s.handleCreateThread).Methods(http.MethodPost)
	chat.HandleFunc("/threads/search", s.handleSearchThreads).Methods(http.MethodPost)
	chat.HandleFunc("/threads/{thread_id}", s.handleGetThread).Methods(http.MethodGet)
	chat.HandleFunc("/threads/{thread_id}", s.handleDeleteThread).Methods(http.MethodDelete)
	chat.HandleFunc("/threads/{thread_id}/state", s.handleThreadState).Methods(http.MethodGet)
	chat.HandleFunc("/threads/{thread_id}/history", s.handleThreadHistory).Methods(http.MethodPost, http.MethodGet)
	chat.HandleFunc("/threads/{thread_id}/runs/stream", s.handleRunStream).Methods(http.MethodPost)
	chat.HandleFunc("/threads/{thread_id}/runs/{run_id}/cancel", s.handleCancelRun).Methods(http.MethodPost)

	api := s.router.PathPrefix(APIPrefix).Subrouter()

	// Entities.
	api.HandleFunc("/api-keys", s.handleListAPIKeys).Methods(http.MethodGet)
	api.HandleFunc("/api-keys", s.handleCreateAPIKey).Methods(http.MethodPost)
	api.HandleFunc("/api-keys/{id}", s.handleGetAPIKey).Methods(http.MethodGet)
	api.HandleFunc("/api-keys/{id}", s.handleUpdateAPIKey).Methods(http.MethodPut)
	api.HandleFunc("/api-keys/{id}", s.handleDeleteAPIKey).Methods(http.MethodDelete)

	api.HandleFunc("/mcp-servers", s.handleListMcpServers).Methods(http.MethodGet)
	api.HandleFunc("/mcp-servers", s.handleCreateMcpServer).Methods(http.MethodPost)
	api.HandleFunc("/mcp-servers/{id}", s.handleGetMcpServer).Methods(http.MethodGet)
	api.HandleFunc("/mcp-servers/{id}", s.handleUpdateMcpServer).Methods(http.MethodPut)
	api.HandleFunc("/mcp-servers/{id}", s.handleDeleteMcpServer).Methods(http.MethodDelete)
	api.HandleFunc("/mcp-servers/{id}/tools", s.handleMcpServerTools).Methods(http.MethodGet)

	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents", s.handleCreateAgent).Methods(http.MethodPost)
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", s.handleUpdateAgent).Methods(http.MethodPut)
	api.HandleFunc("/agents/{id}", s.handleDeleteAgent).Methods(http.MethodDelete)

	api.HandleFunc("/orchestrators", s.handleListOrchestrators).Methods(http.MethodGet)
	api.HandleFunc("/orchestrators", s.handleCreateOrchestrator).Methods(http.MethodPost)
	api.HandleFunc("/orchestrators/{id}", s.handleGetOrchestrator).Methods(http.MethodGet)
	api.HandleFunc("/orchestrators/{id}", s.handleUpdateOrchestrator).Methods(http.MethodPut)
	api.HandleFunc("/orchestrators/{id}", s.handleDeleteOrchestrator).Methods(http.MethodDelete)

	api.HandleFunc("/apps", s.handleListApps).Methods(http.MethodGet)
	api.HandleFunc("/apps/agents", s.handleListAgentApps).Methods(http.MethodGet)

	// CORS pre-flight is answered by the middleware; the route only has to
	// match.
	preflight := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	s.router.PathPrefix("/").HandlerFunc(preflight).Methods(http.MethodOptions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":              stream.APIVersion,
		"langgraph_py_version": stream.GraphVersion,
		"flags": map[string]bool{
			"assistants":                 true,
			"crons":                      false,
			"langsmith":                  false,
			"langsmith_tracing_replicas": false,
		},
		"host": map[string]any{
			"kind":             "self-hosted",
			"project_id":       nil,
			"host_revision_id": nil,
			"revision_id":      nil,
			"tenant_id":        nil,
		},
	})
}

// ---- Plumbing -----------------------------------------------------------

// statusRecorder remembers the response status for the access log. It
// forwards Flush so event streams keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// observe logs every request and records its duration by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)
		log.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("writeJSON: failed to encode response: %v", err)
	}
}

// writeError maps err to a status code and a {"detail"} body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &errs.ValidationError{Msg: "decode request body", Cause: err}
}
