//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package gormstore stores entities with gorm. Production runs on postgres,
// tests and single-node setups on sqlite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/log"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ChangeHook receives the ids of agents and orchestrators whose graphs are
// stale after a write.
type ChangeHook func(ids ...string)

// Option configures a Store.
type Option func(*Store)

// WithChangeHook registers h for every committed write.
func WithChangeHook(h ChangeHook) Option {
	return func(s *Store) { s.hooks = append(s.hooks, h) }
}

// Store implements entity.Reader and entity.Stamper plus CRUD.
type Store struct {
	db    *gorm.DB
	hooks []ChangeHook
}

// Open connects to driver at dsn.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Infof("database connected (driver %s)", driver)
	return db, nil
}

// New migrates the schema and returns a store over db.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is nil")
	}
	if err := db.AutoMigrate(
		&entity.APIKey{},
		&entity.McpServer{},
		&entity.Agent{},
		&entity.AgentMcpServer{},
		&entity.Orchestrator{},
		&entity.OrchestratorAgent{},
		&entity.Version{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnChange registers h after construction.
func (s *Store) OnChange(h ChangeHook) { s.hooks = append(s.hooks, h) }

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) notify(ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, h := range s.hooks {
		h(ids...)
	}
}

func translate(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.NotFound(kind, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errs.Conflict("%s %s already exists", kind, id)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

// ----- API keys -----

// CreateAPIKey stores k and returns it with its id.
func (s *Store) CreateAPIKey(ctx context.Context, k *entity.APIKey) (*entity.APIKey, error) {
	if err := validateAPIKey(k); err != nil {
		return nil, err
	}
	if err := s.uniqueName(ctx, &entity.APIKey{}, "api key", k.Name, ""); err != nil {
		return nil, err
	}
	k.ID = ""
	if err := s.db.WithContext(ctx).Create(k).Error; err != nil {
		return nil, translate("api key", k.Name, err)
	}
	return k, nil
}

// GetAPIKey loads one key.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*entity.APIKey, error) {
	var k entity.APIKey
	if err := s.db.WithContext(ctx).First(&k, "id = ?", id).Error; err != nil {
		return nil, translate("api key", id, err)
	}
	return &k, nil
}

// ListAPIKeys returns every key, most recently modified first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]entity.APIKey, error) {
	var out []entity.APIKey
	err := s.db.WithContext(ctx).Order("modified_at DESC").Find(&out).Error
	return out, err
}

// UpdateAPIKey replaces the fields of key id.
func (s *Store) UpdateAPIKey(ctx context.Context, id string, k *entity.APIKey) (*entity.APIKey, error) {
	if err := validateAPIKey(k); err != nil {
		return nil, err
	}
	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := getAPIKey(tx, id)
		if err != nil {
			return err
		}
		if err := uniqueName(tx, &entity.APIKey{}, "api key", k.Name, id); err != nil {
			return err
		}
		current.Name, current.ProviderName, current.ModelName = k.Name, k.ProviderName, k.ModelName
		current.BaseURL, current.SecretKey = k.BaseURL, k.SecretKey
		if err := tx.Save(current).Error; err != nil {
			return translate("api key", id, err)
		}
		*k = *current
		affected, err = keyDependents(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(affected)
	return k, nil
}

// DeleteAPIKey removes key id. A key still referenced is a conflict.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getAPIKey(tx, id); err != nil {
			return err
		}
		users, err := keyDependents(tx, id)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return errs.Conflict("api key %s is used by %d agents or orchestrators", id, len(users))
		}
		return tx.Delete(&entity.APIKey{}, "id = ?", id).Error
	})
}

func getAPIKey(tx *gorm.DB, id string) (*entity.APIKey, error) {
	var k entity.APIKey
	if err := tx.First(&k, "id = ?", id).Error; err != nil {
		return nil, translate("api key", id, err)
	}
	return &k, nil
}

func validateAPIKey(k *entity.APIKey) error {
	switch {
	case k == nil:
		return errs.Validation("api key is required")
	case k.Name == "":
		return errs.Validation("api key name is required")
	case k.ProviderName == "":
		return errs.Validation("api key provider_name is required")
	case k.ModelName == "":
		return errs.Validation("api key model_name is required")
	}
	return nil
}

// ----- MCP servers -----

// CreateMcpServer stores m and returns it with its id.
func (s *Store) CreateMcpServer(ctx context.Context, m *entity.McpServer) (*entity.McpServer, error) {
	if err := normalizeMcpServer(m); err != nil {
		return nil, err
	}
	if err := s.uniqueName(ctx, &entity.McpServer{}, "mcp server", m.Name, ""); err != nil {
		return nil, err
	}
	m.ID = ""
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, translate("mcp server", m.Name, err)
	}
	return m, nil
}

// GetMcpServer loads one tool server.
func (s *Store) GetMcpServer(ctx context.Context, id string) (*entity.McpServer, error) {
	var m entity.McpServer
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate("mcp server", id, err)
	}
	return &m, nil
}

// ListMcpServers returns every tool server, most recently modified first.
func (s *Store) ListMcpServers(ctx context.Context) ([]entity.McpServer, error) {
	var out []entity.McpServer
	err := s.db.WithContext(ctx).Order("modified_at DESC").Find(&out).Error
	return out, err
}

// UpdateMcpServer replaces the fields of server id.
func (s *Store) UpdateMcpServer(ctx context.Context, id string, m *entity.McpServer) (*entity.McpServer, error) {
	if err := normalizeMcpServer(m); err != nil {
		return nil, err
	}
	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current entity.McpServer
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return translate("mcp server", id, err)
		}
		if err := uniqueName(tx, &entity.McpServer{}, "mcp server", m.Name, id); err != nil {
			return err
		}
		current.Name, current.Description = m.Name, m.Description
		current.Transport, current.Mode, current.Config = m.Transport, m.Mode, m.Config
		if err := tx.Save(&current).Error; err != nil {
			return translate("mcp server", id, err)
		}
		*m = current
		var err error
		affected, err = serverDependents(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(affected)
	return m, nil
}

// DeleteMcpServer removes server id and unbinds it from every agent.
func (s *Store) DeleteMcpServer(ctx context.Context, id string) error {
	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&entity.McpServer{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("mcp server", id)
		}
		var err error
		if affected, err = serverDependents(tx, id); err != nil {
			return err
		}
		var agents []string
		if err := tx.Model(&entity.AgentMcpServer{}).Where("mcp_server_id = ?", id).
			Pluck("agent_id", &agents).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entity.AgentMcpServer{}, "mcp_server_id = ?", id).Error; err != nil {
			return err
		}
		return touch(tx, &entity.Agent{}, agents)
	})
	if err != nil {
		return err
	}
	s.notify(affected)
	return nil
}

func normalizeMcpServer(m *entity.McpServer) error {
	if m == nil {
		return errs.Validation("mcp server is required")
	}
	if m.Name == "" {
		return errs.Validation("mcp server name is required")
	}
	if m.Transport == "" {
		m.Transport = entity.DefaultTransport
	}
	if m.Mode == "" {
		m.Mode = entity.ModeAutonomous
	}
	if m.Mode != entity.ModeAutonomous && m.Mode != entity.ModeSupervised {
		return errs.Validation("mcp server mode %q is not one of %s, %s", m.Mode, entity.ModeAutonomous, entity.ModeSupervised)
	}
	if m.Config == nil {
		m.Config = map[string]any{}
	}
	return nil
}

// ----- Agents -----

// CreateAgent stores a, binding the tool servers listed in a.McpServers in
// order, and returns the stored agent with its relations.
func (s *Store) CreateAgent(ctx context.Context, a *entity.Agent) (*entity.Agent, error) {
	if a.AppType == "" {
		a.AppType = entity.DefaultAppType
	}
	links := a.McpServers
	a.ID, a.McpServers, a.APIKey = "", nil, nil
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateAgent(tx, a, links); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
			return translate("agent", a.Name, err)
		}
		return bindServers(tx, a.ID, links)
	})
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, a.ID)
}

// GetAgent loads agent id with its key and tool servers in order.
func (s *Store) GetAgent(ctx context.Context, id string) (*entity.Agent, error) {
	var a entity.Agent
	if err := agentQuery(s.db.WithContext(ctx), "").First(&a, "id = ?", id).Error; err != nil {
		return nil, translate("agent", id, err)
	}
	return &a, nil
}

// ListAgents returns every agent, most recently modified first.
func (s *Store) ListAgents(ctx context.Context) ([]entity.Agent, error) {
	var out []entity.Agent
	err := agentQuery(s.db.WithContext(ctx), "").Order("modified_at DESC").Find(&out).Error
	return out, err
}

// UpdateAgent replaces agent id, including its tool server list.
func (s *Store) UpdateAgent(ctx context.Context, id string, a *entity.Agent) (*entity.Agent, error) {
	if a.AppType == "" {
		a.AppType = entity.DefaultAppType
	}
	links := a.McpServers
	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current entity.Agent
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return translate("agent", id, err)
		}
		if err := validateAgent(tx, a, links); err != nil {
			return err
		}
		current.Name, current.Description, current.Role = a.Name, a.Description, a.Role
		current.Task, current.Instructions = a.Task, a.Instructions
		current.PublishAsApp, current.AppType, current.APIKeyID = a.PublishAsApp, a.AppType, a.APIKeyID
		if err := tx.Omit(clause.Associations).Save(&current).Error; err != nil {
			return translate("agent", id, err)
		}
		if err := tx.Delete(&entity.AgentMcpServer{}, "agent_id = ?", id).Error; err != nil {
			return err
		}
		if err := bindServers(tx, id, links); err != nil {
			return err
		}
		var err error
		affected, err = agentDependents(tx, []string{id})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notify(affected)
	return s.GetAgent(ctx, id)
}

// DeleteAgent removes agent id and unbinds it from every orchestrator.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if affected, err = agentDependents(tx, []string{id}); err != nil {
			return err
		}
		res := tx.Delete(&entity.Agent{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("agent", id)
		}
		if err := tx.Delete(&entity.AgentMcpServer{}, "agent_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&entity.OrchestratorAgent{}, "agent_id = ?", id).Error; err != nil {
			return err
		}
		return touch(tx, &entity.Orchestrator{}, without(affected, id))
	})
	if err != nil {
		return err
	}
	s.notify(affected)
	return nil
}

func agentQuery(db *gorm.DB, prefix string) *gorm.DB {
	return db.
		Preload(prefix+"APIKey").
		Preload(prefix+"McpServers", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload(prefix + "McpServers.McpServer")
}

func validateAgent(tx *gorm.DB, a *entity.Agent, links []entity.AgentMcpServer) error {
	if a == nil || a.Name == "" {
		return errs.Validation("agent name is required")
	}
	if err := keyExists(tx, a.APIKeyID); err != nil {
		return err
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		if slices.Contains(ids, l.McpServerID) {
			return errs.Validation("mcp server %s is listed twice", l.McpServerID)
		}
		ids = append(ids, l.McpServerID)
	}
	return allExist(tx, &entity.McpServer{}, "mcp server", ids)
}

func bindServers(tx *gorm.DB, agentID string, links []entity.AgentMcpServer) error {
	for i, l := range links {
		row := entity.AgentMcpServer{AgentID: agentID, McpServerID: l.McpServerID, Position: i}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// ----- Orchestrators -----

// CreateOrchestrator stores o, binding the agents listed in o.Agents in
// order, and returns the stored orchestrator with its relations.
func (s *Store) CreateOrchestrator(ctx context.Context, o *entity.Orchestrator) (*entity.Orchestrator, error) {
	if o.AppType == "" {
		o.AppType = entity.DefaultAppType
	}
	links := o.Agents
	o.ID, o.Agents, o.APIKey = "", nil, nil
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateOrchestrator(tx, o, links); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(o).Error; err != nil {
			return translate("orchestrator", o.Name, err)
		}
		return bindAgents(tx, o.ID, links)
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrchestrator(ctx, o.ID)
}

// GetOrchestrator loads orchestrator id with its key and agents in order,
// each agent with its own key and tool servers.
func (s *Store) GetOrchestrator(ctx context.Context, id string) (*entity.Orchestrator, error) {
	var o entity.Orchestrator
	if err := orchestratorQuery(s.db.WithContext(ctx)).First(&o, "id = ?", id).Error; err != nil {
		return nil, translate("orchestrator", id, err)
	}
	return &o, nil
}

// ListOrchestrators returns every orchestrator, most recently modified first.
func (s *Store) ListOrchestrators(ctx context.Context) ([]entity.Orchestrator, error) {
	var out []entity.Orchestrator
	err := orchestratorQuery(s.db.WithContext(ctx)).Order("modified_at DESC").Find(&out).Error
	return out, err
}

// UpdateOrchestrator replaces orchestrator id, including its agent list.
func (s *Store) UpdateOrchestrator(ctx context.Context, id string, o *entity.Orchestrator) (*entity.Orchestrator, error) {
	if o.AppType == "" {
		o.AppType = entity.DefaultAppType
	}
	links := o.Agents
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current entity.Orchestrator
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return translate("orchestrator", id, err)
		}
		if err := validateOrchestrator(tx, o, links); err != nil {
			return err
		}
		current.Name, current.Description, current.Instructions = o.Name, o.Description, o.Instructions
		current.PublishAsApp, current.AppType, current.APIKeyID = o.PublishAsApp, o.AppType, o.APIKeyID
		if err := tx.Omit(clause.Associations).Save(&current).Error; err != nil {
			return translate("orchestrator", id, err)
		}
		if err := tx.Delete(&entity.OrchestratorAgent{}, "orchestrator_id = ?", id).Error; err != nil {
			return err
		}
		return bindAgents(tx, id, links)
	})
	if err != nil {
		return nil, err
	}
	s.notify([]string{id})
	return s.GetOrchestrator(ctx, id)
}

// DeleteOrchestrator removes orchestrator id.
func (s *Store) DeleteOrchestrator(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&entity.Orchestrator{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("orchestrator", id)
		}
		return tx.Delete(&entity.OrchestratorAgent{}, "orchestrator_id = ?", id).Error
	})
	if err != nil {
		return err
	}
	s.notify([]string{id})
	return nil
}

func orchestratorQuery(db *gorm.DB) *gorm.DB {
	return agentQuery(db.
		Preload("APIKey").
		Preload("Agents", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Agents.Agent"), "Agents.Agent.")
}

func validateOrchestrator(tx *gorm.DB, o *entity.Orchestrator, links []entity.OrchestratorAgent) error {
	if o == nil || o.Name == "" {
		return errs.Validation("orchestrator name is required")
	}
	if err := keyExists(tx, o.APIKeyID); err != nil {
		return err
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		if slices.Contains(ids, l.AgentID) {
			return errs.Validation("agent %s is listed twice", l.AgentID)
		}
		ids = append(ids, l.AgentID)
	}
	return allExist(tx, &entity.Agent{}, "agent", ids)
}

func bindAgents(tx *gorm.DB, orchestratorID string, links []entity.OrchestratorAgent) error {
	for i, l := range links {
		row := entity.OrchestratorAgent{OrchestratorID: orchestratorID, AgentID: l.AgentID, Position: i}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// ----- Apps and versions -----

// Apps lists orchestrators published as apps.
func (s *Store) Apps(ctx context.Context) ([]entity.App, error) {
	return s.apps(ctx, &entity.Orchestrator{})
}

// AgentApps lists agents published as apps.
func (s *Store) AgentApps(ctx context.Context) ([]entity.App, error) {
	return s.apps(ctx, &entity.Agent{})
}

func (s *Store) apps(ctx context.Context, model any) ([]entity.App, error) {
	var out []entity.App
	err := s.db.WithContext(ctx).Model(model).
		Select("id", "name", "description", "app_type").
		Where("publish_as_app = ?", true).
		Order("modified_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Icon = entity.DefaultAppIcon
	}
	return out, nil
}

// CreateVersion records a release.
func (s *Store) CreateVersion(ctx context.Context, v *entity.Version) (*entity.Version, error) {
	if v.VersionNumber == "" {
		return nil, errs.Validation("version_number is required")
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, translate("version", v.VersionNumber, err)
	}
	return v, nil
}

// Versions lists releases, newest first.
func (s *Store) Versions(ctx context.Context) ([]entity.Version, error) {
	var out []entity.Version
	err := s.db.WithContext(ctx).Order("release_date DESC").Order("id DESC").Find(&out).Error
	return out, err
}

// CurrentVersion returns the newest release.
func (s *Store) CurrentVersion(ctx context.Context) (*entity.Version, error) {
	var v entity.Version
	err := s.db.WithContext(ctx).Order("release_date DESC").Order("id DESC").First(&v).Error
	if err != nil {
		return nil, translate("version", "current", err)
	}
	return &v, nil
}

// ----- Stamps -----

// Stamp returns the latest modification time over everything the graph for
// id is built from. id names an orchestrator or an agent.
func (s *Store) Stamp(ctx context.Context, id string) (time.Time, error) {
	o, err := s.GetOrchestrator(ctx, id)
	if err == nil {
		stamp := latest(o.ModifiedAt, keyStamp(o.APIKey))
		for _, a := range o.Members() {
			stamp = latest(stamp, agentStamp(&a))
		}
		return stamp, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return time.Time{}, err
	}
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return agentStamp(a), nil
}

func agentStamp(a *entity.Agent) time.Time {
	stamp := latest(a.ModifiedAt, keyStamp(a.APIKey))
	for _, m := range a.Servers() {
		stamp = latest(stamp, m.ModifiedAt)
	}
	return stamp
}

func keyStamp(k *entity.APIKey) time.Time {
	if k == nil {
		return time.Time{}
	}
	return k.ModifiedAt
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// ----- Dependents -----

// keyDependents returns the agents and orchestrators using key id, plus
// the orchestrators embedding those agents.
func keyDependents(tx *gorm.DB, id string) ([]string, error) {
	var agents, orchestrators []string
	if err := tx.Model(&entity.Agent{}).Where("api_key_id = ?", id).Pluck("id", &agents).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&entity.Orchestrator{}).Where("api_key_id = ?", id).Pluck("id", &orchestrators).Error; err != nil {
		return nil, err
	}
	ids, err := agentDependents(tx, agents)
	if err != nil {
		return nil, err
	}
	return merge(ids, orchestrators), nil
}

// serverDependents returns the agents bound to server id and the
// orchestrators embedding them.
func serverDependents(tx *gorm.DB, id string) ([]string, error) {
	var agents []string
	if err := tx.Model(&entity.AgentMcpServer{}).Where("mcp_server_id = ?", id).
		Pluck("agent_id", &agents).Error; err != nil {
		return nil, err
	}
	return agentDependents(tx, agents)
}

// agentDependents returns agents plus every orchestrator embedding one.
func agentDependents(tx *gorm.DB, agents []string) ([]string, error) {
	if len(agents) == 0 {
		return nil, nil
	}
	var orchestrators []string
	if err := tx.Model(&entity.OrchestratorAgent{}).Where("agent_id IN ?", agents).
		Pluck("orchestrator_id", &orchestrators).Error; err != nil {
		return nil, err
	}
	return merge(slices.Clone(agents), orchestrators), nil
}

func merge(ids []string, more []string) []string {
	for _, id := range more {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id })
}

// touch bumps modified_at so that stamps change when a relation is removed.
func touch(tx *gorm.DB, model any, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(model).Where("id IN ?", ids).UpdateColumn("modified_at", time.Now()).Error
}

// ----- Helpers -----

func keyExists(tx *gorm.DB, id string) error {
	if id == "" {
		return errs.Validation("api_key_id is required")
	}
	var n int64
	if err := tx.Model(&entity.APIKey{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return errs.Validation("api key %s does not exist", id)
	}
	return nil
}

func allExist(tx *gorm.DB, model any, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var found []string
	if err := tx.Model(model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.Contains(found, id) {
			return errs.Validation("%s %s does not exist", kind, id)
		}
	}
	return nil
}

func (s *Store) uniqueName(ctx context.Context, model any, kind, name, exceptID string) error {
	return uniqueName(s.db.WithContext(ctx), model, kind, name, exceptID)
}

func uniqueName(tx *gorm.DB, model any, kind, name, exceptID string) error {
	var n int64
	if err := tx.Model(model).Where("name = ? AND id <> ?", name, exceptID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return errs.Conflict("%s named %q already exists", kind, name)
	}
	return nil
}
