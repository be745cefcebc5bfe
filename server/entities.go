//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/log"
)

// crud holds the store calls of one entity kind.
type crud[T any] struct {
	create func(context.Context, *T) (*T, error)
	get    func(context.Context, string) (*T, error)
	list   func(context.Context) ([]T, error)
	update func(context.Context, string, *T) (*T, error)
	remove func(context.Context, string) error
}

func (c crud[T]) handleCreate(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if err := decode(r, v); err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := c.create(r.Context(), v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (c crud[T]) handleGet(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := c.get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (c crud[T]) handleList(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := c.list(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if out == nil {
			out = []T{}
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (c crud[T]) handleUpdate(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if err := decode(r, v); err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := c.update(r.Context(), mux.Vars(r)["id"], v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (c crud[T]) handleDelete(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := c.remove(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	}
}

func (s *Server) apiKeys() crud[entity.APIKey] {
	return crud[entity.APIKey]{
		create: s.store.CreateAPIKey, get: s.store.GetAPIKey, list: s.store.ListAPIKeys,
		update: s.store.UpdateAPIKey, remove: s.store.DeleteAPIKey,
	}
}

func (s *Server) mcpServers() crud[entity.McpServer] {
	return crud[entity.McpServer]{
		create: s.store.CreateMcpServer, get: s.store.GetMcpServer, list: s.store.ListMcpServers,
		update: s.store.UpdateMcpServer, remove: s.store.DeleteMcpServer,
	}
}

func (s *Server) agents() crud[entity.Agent] {
	return crud[entity.Agent]{
		create: s.store.CreateAgent, get: s.store.GetAgent, list: s.store.ListAgents,
		update: s.store.UpdateAgent, remove: s.store.DeleteAgent,
	}
}

func (s *Server) orchestrators() crud[entity.Orchestrator] {
	return crud[entity.Orchestrator]{
		create: s.store.CreateOrchestrator, get: s.store.GetOrchestrator, list: s.store.ListOrchestrators,
		update: s.store.UpdateOrchestrator, remove: s.store.DeleteOrchestrator,
	}
}

// ---- API keys -------------------------------------------------------------

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	s.apiKeys().handleList(s)(w, r)
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	s.apiKeys().handleCreate(s)(w, r)
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	s.apiKeys().handleGet(s)(w, r)
}

func (s *Server) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	s.apiKeys().handleUpdate(s)(w, r)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	s.apiKeys().handleDelete(s)(w, r)
}

// ---- Tool servers ---------------------------------------------------------

func (s *Server) handleListMcpServers(w http.ResponseWriter, r *http.Request) {
	s.mcpServers().handleList(s)(w, r)
}

func (s *Server) handleCreateMcpServer(w http.ResponseWriter, r *http.Request) {
	s.mcpServers().handleCreate(s)(w, r)
}

func (s *Server) handleGetMcpServer(w http.ResponseWriter, r *http.Request) {
	s.mcpServers().handleGet(s)(w, r)
}

func (s *Server) handleUpdateMcpServer(w http.ResponseWriter, r *http.Request) {
	s.mcpServers().handleUpdate(s)(w, r)
}

func (s *Server) handleDeleteMcpServer(w http.ResponseWriter, r *http.Request) {
	s.mcpServers().handleDelete(s)(w, r)
}

// toolInfo describes one tool a server offers.
type toolInfo struct {
	Name        string `json:"tool_name"`
	Description string `json:"tool_description"`
}

// handleMcpServerTools connects to the server and lists its tools.
func (s *Server) handleMcpServerTools(w http.ResponseWriter, r *http.Request) {
	srv, err := s.store.GetMcpServer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	set, err := s.tools.Resolve(r.Context(), *srv)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() {
		if err := set.Close(); err != nil {
			log.Warnf("close tool server %s: %v", srv.Name, err)
		}
	}()
	tools := set.Tools(r.Context())
	out := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		d := t.Declaration()
		out = append(out, toolInfo{Name: d.Name, Description: d.Description})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// ---- Agents and orchestrators ---------------------------------------------

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.agents().handleList(s)(w, r)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	s.agents().handleCreate(s)(w, r)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	s.agents().handleGet(s)(w, r)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	s.agents().handleUpdate(s)(w, r)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	s.agents().handleDelete(s)(w, r)
}

func (s *Server) handleListOrchestrators(w http.ResponseWriter, r *http.Request) {
	s.orchestrators().handleList(s)(w, r)
}

func (s *Server) handleCreateOrchestrator(w http.ResponseWriter, r *http.Request) {
	s.orchestrators().handleCreate(s)(w, r)
}

func (s *Server) handleGetOrchestrator(w http.ResponseWriter, r *http.Request) {
	s.orchestrators().handleGet(s)(w, r)
}

func (s *Server) handleUpdateOrchestrator(w http.ResponseWriter, r *http.Request) {
	s.orchestrators().handleUpdate(s)(w, r)
}

func (s *Server) handleDeleteOrchestrator(w http.ResponseWriter, r *http.Request) {
	s.orchestrators().handleDelete(s)(w, r)
}

// ---- Apps and versions ----------------------------------------------------

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, r, s.store.Apps)
}

func (s *Server) handleListAgentApps(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, r, s.store.AgentApps)
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]entity.App, error)) {
	apps, err := list(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []entity.App{}
	}
	s.writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.Versions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []entity.Version{}
	}
	s.writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.CurrentVersion(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}
