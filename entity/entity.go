//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package entity defines the stored configuration the runtime builds agent
// graphs from: provider keys, tool servers, agents and orchestrators.
package entity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tool server modes.
const (
	ModeAutonomous = "autonomous"
	ModeSupervised = "supervised"
)

// Defaults applied to new records.
const (
	DefaultTransport = "stdio"
	DefaultAppType   = "Productivity"
	DefaultAppIcon   = "Bot"
	SystemUser       = "system"
)

// Base carries the audit columns every record has.
type Base struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `gorm:"size:100" json:"created_by"`
	ModifiedAt time.Time `gorm:"autoUpdateTime" json:"modified_at"`
	ModifiedBy string    `gorm:"size:100" json:"modified_by"`
}

// BeforeCreate assigns a time-ordered id and the audit user.
func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id.String()
	}
	if b.CreatedBy == "" {
		b.CreatedBy = SystemUser
	}
	if b.ModifiedBy == "" {
		b.ModifiedBy = SystemUser
	}
	return nil
}

// APIKey is a model provider credential.
type APIKey struct {
	Base
	Name         string `gorm:"size:200;uniqueIndex;not null" json:"name"`
	ProviderName string `gorm:"size:100;not null" json:"provider_name"`
	ModelName    string `gorm:"size:200;not null" json:"model_name"`
	BaseURL      string `gorm:"size:500" json:"base_url,omitempty"`
	SecretKey    string `gorm:"size:1000" json:"secret_key"`
}

// TableName implements gorm's tabler.
func (APIKey) TableName() string { return "api_key" }

// McpServer is a tool server reachable over MCP.
type McpServer struct {
	Base
	Name        string         `gorm:"size:200;uniqueIndex;not null" json:"name"`
	Description string         `gorm:"size:2000" json:"description,omitempty"`
	Transport   string         `gorm:"size:50;not null" json:"transport"`
	Mode        string         `gorm:"size:50;not null" json:"mode"`
	Config      map[string]any `gorm:"column:config_json;serializer:json" json:"config_json"`
}

// TableName implements gorm's tabler.
func (McpServer) TableName() string { return "mcp_server" }

// Agent is a single ReAct agent.
type Agent struct {
	Base
	Name         string           `gorm:"size:200;not null" json:"name"`
	Description  string           `gorm:"size:2000" json:"description,omitempty"`
	Role         string           `gorm:"size:2000" json:"role"`
	Task         string           `gorm:"size:4000" json:"task"`
	Instructions string           `gorm:"type:text" json:"instructions"`
	PublishAsApp bool             `json:"publish_as_app"`
	AppType      string           `gorm:"size:100" json:"app_type"`
	APIKeyID     string           `gorm:"size:36;index;not null" json:"api_key_id"`
	APIKey       *APIKey          `gorm:"foreignKey:APIKeyID" json:"api_key,omitempty"`
	McpServers   []AgentMcpServer `gorm:"foreignKey:AgentID" json:"mcp_servers"`
}

// TableName implements gorm's tabler.
func (Agent) TableName() string { return "agent" }

// AgentMcpServer binds a tool server to an agent at a position.
type AgentMcpServer struct {
	AgentID     string     `gorm:"primaryKey;size:36" json:"-"`
	McpServerID string     `gorm:"primaryKey;size:36;index" json:"mcp_server_id"`
	Position    int        `json:"-"`
	McpServer   *McpServer `gorm:"foreignKey:McpServerID" json:"mcp_server,omitempty"`
}

// TableName implements gorm's tabler.
func (AgentMcpServer) TableName() string { return "agent_mcp_server" }

// Servers returns the loaded tool servers in order.
func (a *Agent) Servers() []McpServer {
	out := make([]McpServer, 0, len(a.McpServers))
	for _, link := range a.McpServers {
		if link.McpServer != nil {
			out = append(out, *link.McpServer)
		}
	}
	return out
}

// Orchestrator supervises a set of agents.
type Orchestrator struct {
	Base
	Name         string              `gorm:"size:200;not null" json:"name"`
	Description  string              `gorm:"size:2000" json:"description"`
	Instructions string              `gorm:"type:text" json:"instructions"`
	PublishAsApp bool                `json:"publish_as_app"`
	AppType      string              `gorm:"size:100" json:"app_type"`
	APIKeyID     string              `gorm:"size:36;index;not null" json:"api_key_id"`
	APIKey       *APIKey             `gorm:"foreignKey:APIKeyID" json:"api_key,omitempty"`
	Agents       []OrchestratorAgent `gorm:"foreignKey:OrchestratorID" json:"agents"`
}

// TableName implements gorm's tabler.
func (Orchestrator) TableName() string { return "orchestrator" }

// OrchestratorAgent binds an agent to an orchestrator at a position.
type OrchestratorAgent struct {
	OrchestratorID string `gorm:"primaryKey;size:36" json:"-"`
	AgentID        string `gorm:"primaryKey;size:36;index" json:"agent_id"`
	Position       int    `json:"-"`
	Agent          *Agent `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// TableName implements gorm's tabler.
func (OrchestratorAgent) TableName() string { return "orchestrator_sub_agent" }

// Members returns the loaded agents in order.
func (o *Orchestrator) Members() []Agent {
	out := make([]Agent, 0, len(o.Agents))
	for _, link := range o.Agents {
		if link.Agent != nil {
			out = append(out, *link.Agent)
		}
	}
	return out
}

// Version is a release note.
type Version struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	VersionNumber      string    `gorm:"size:50;not null" json:"version_number"`
	ReleaseDate        time.Time `gorm:"index" json:"release_date"`
	ReleaseDescription string    `gorm:"type:text" json:"release_description"`
}

// TableName implements gorm's tabler.
func (Version) TableName() string { return "version" }

// BeforeCreate assigns a time-ordered id.
func (v *Version) BeforeCreate(*gorm.DB) error {
	if v.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	v.ID = id.String()
	return nil
}

// App is an agent or orchestrator published to the chat UI.
type App struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	AppType     string `json:"app_type"`
}

// AgentName is the name an entity runs under inside a graph.
func AgentName(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// Reader is what graph construction needs from the store.
type Reader interface {
	// GetAgent loads an agent with its key and tool servers.
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// GetOrchestrator loads an orchestrator with its key and agents.
	GetOrchestrator(ctx context.Context, id string) (*Orchestrator, error)
}

// Stamper reports a version stamp that changes whenever the graph built for
// id would change.
type Stamper interface {
	Stamp(ctx context.Context, id string) (time.Time, error)
}
