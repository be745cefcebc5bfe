//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package builder compiles agent and orchestrator entities into executable
// graphs: it resolves tool servers into decorated tools, binds the model
// named by the entity's API key and wires the ReAct or supervisor graph.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-agent-studio/agent/prompt"
	"trpc.group/trpc-go/trpc-agent-studio/agent/react"
	"trpc.group/trpc-go/trpc-agent-studio/agent/supervisor"
	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/model/provider"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
	"trpc.group/trpc-go/trpc-agent-studio/tool/hitl"
	"trpc.group/trpc-go/trpc-agent-studio/tool/mcp"
)

const defaultParallelism = 4

// ToolResolver opens the tool set served by one tool server.
type ToolResolver interface {
	Resolve(ctx context.Context, server entity.McpServer) (tool.ToolSet, error)
}

// ToolResolverFunc adapts a function to ToolResolver.
type ToolResolverFunc func(ctx context.Context, server entity.McpServer) (tool.ToolSet, error)

// Resolve implements ToolResolver.
func (f ToolResolverFunc) Resolve(ctx context.Context, server entity.McpServer) (tool.ToolSet, error) {
	return f(ctx, server)
}

// MCPResolver connects to tool servers over MCP.
type MCPResolver struct {
	// Options are passed to every tool set after the name.
	Options []mcp.ToolSetOption
}

// Resolve connects to server and lists its tools. A malformed server
// config is a validation error.
func (r MCPResolver) Resolve(ctx context.Context, server entity.McpServer) (tool.ToolSet, error) {
	transport := server.Transport
	if transport == "" {
		transport = entity.DefaultTransport
	}
	cfg, err := mcp.ConfigFromMap(transport, server.Config)
	if err != nil {
		return nil, &errs.ValidationError{Msg: "mcp server " + server.Name, Cause: err}
	}
	opts := append([]mcp.ToolSetOption{mcp.WithName(server.Name)}, r.Options...)
	ts := mcp.NewToolSet(cfg, opts...)
	if err := ts.Connect(ctx); err != nil {
		_ = ts.Close()
		return nil, fmt.Errorf("connect mcp server %s: %w", server.Name, err)
	}
	return ts, nil
}

// ModelFactory binds the model named by an API key.
type ModelFactory func(key *entity.APIKey) (model.Model, error)

// DefaultModelFactory builds the model through provider.New.
func DefaultModelFactory(key *entity.APIKey) (model.Model, error) {
	if key == nil {
		return nil, errs.Validation("api key is missing")
	}
	return provider.New(provider.Config{
		Provider: strings.ToLower(key.ProviderName),
		Model:    strings.ToLower(key.ModelName),
		APIKey:   key.SecretKey,
		BaseURL:  key.BaseURL,
	})
}

// Graph is a compiled agent or orchestrator. It owns the tool sets its
// tools were resolved from.
type Graph struct {
	*graph.Executor
	// ID is the entity id the graph was built from.
	ID string
	// Name is the agent name of the entity.
	Name string

	toolSets []tool.ToolSet

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// NewGraph wraps exec, which owns sets.
func NewGraph(exec *graph.Executor, id, name string, sets []tool.ToolSet) *Graph {
	return &Graph{Executor: exec, ID: id, Name: name, toolSets: sets}
}

// ToolSets returns the tool sets the graph holds, in server order.
func (g *Graph) ToolSets() []tool.ToolSet { return g.toolSets }

// Acquire pins the graph for one run. It reports false once the graph is
// retired or closed; every successful Acquire must be paired with Release.
func (g *Graph) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retired || g.closed {
		return false
	}
	g.refs++
	return true
}

// Release unpins the graph. The last release of a retired graph closes it.
func (g *Graph) Release() {
	g.mu.Lock()
	if g.refs > 0 {
		g.refs--
	}
	last := g.retired && g.refs == 0 && !g.closed
	if last {
		g.closed = true
	}
	g.mu.Unlock()
	if last {
		if err := closeAll(g.toolSets); err != nil {
			log.Warnf("close retired graph %s: %v", g.ID, err)
		}
	}
}

// Retire stops new runs from acquiring the graph and closes it as soon as
// no run holds it.
func (g *Graph) Retire() error {
	g.mu.Lock()
	g.retired = true
	if g.refs > 0 || g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()
	return closeAll(g.toolSets)
}

// Closed reports whether the tool sets have been released.
func (g *Graph) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Close releases the tool sets whether or not runs hold the graph.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed, g.retired = true, true
	g.mu.Unlock()
	return closeAll(g.toolSets)
}

// Option configures a Builder.
type Option func(*Builder)

// WithCheckpointSaver binds top-level graphs to saver.
func WithCheckpointSaver(saver graph.CheckpointSaver) Option {
	return func(b *Builder) { b.saver = saver }
}

// WithToolResolver replaces the MCP resolver.
func WithToolResolver(r ToolResolver) Option {
	return func(b *Builder) { b.resolver = r }
}

// WithModelFactory replaces DefaultModelFactory.
func WithModelFactory(f ModelFactory) Option {
	return func(b *Builder) { b.models = f }
}

// WithDecorator sets the decorator applied to the tools of servers in mode.
func WithDecorator(mode string, d tool.Decorator) Option {
	return func(b *Builder) { b.decorators[mode] = d }
}

// WithParallelism caps concurrent tool server resolution.
func WithParallelism(n int) Option {
	return func(b *Builder) { b.parallelism = n }
}

// WithMetrics records build durations and tool calls on c.
func WithMetrics(c *metric.Collector) Option {
	return func(b *Builder) { b.metrics = c }
}

// WithMaxSteps caps node executions per run.
func WithMaxSteps(n int) Option {
	return func(b *Builder) { b.maxSteps = n }
}

// Builder compiles entities into graphs. It is safe for concurrent use.
type Builder struct {
	saver       graph.CheckpointSaver
	resolver    ToolResolver
	models      ModelFactory
	decorators  map[string]tool.Decorator
	parallelism int
	metrics     *metric.Collector
	maxSteps    int
}

// New creates a Builder. Autonomous servers call through, supervised ones
// are wrapped by hitl.Wrap.
func New(opts ...Option) *Builder {
	b := &Builder{
		resolver:    MCPResolver{},
		models:      DefaultModelFactory,
		parallelism: defaultParallelism,
		decorators: map[string]tool.Decorator{
			entity.ModeAutonomous: tool.Identity,
			entity.ModeSupervised: func(t tool.CallableTool) tool.CallableTool { return hitl.Wrap(t) },
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.parallelism <= 0 {
		b.parallelism = defaultParallelism
	}
	return b
}

// BuildAgent compiles a into a ReAct graph.
func (b *Builder) BuildAgent(ctx context.Context, a *entity.Agent) (*Graph, error) {
	if a == nil {
		return nil, errors.New("agent is nil")
	}
	start := time.Now()
	if err := b.checkModes(a); err != nil {
		return nil, err
	}
	g, sets, err := b.agentGraph(ctx, a)
	if err != nil {
		return nil, err
	}
	out, err := b.finish(a.ID, entity.AgentName(a.Name), g, sets)
	if err != nil {
		return nil, err
	}
	b.metrics.ObserveGraphBuild(time.Since(start))
	log.Infof("built agent %s (%s) with %d tool server(s)", out.Name, a.ID, len(sets))
	return out, nil
}

// BuildOrchestrator compiles o into a supervisor graph over its agents, or a
// tool-less ReAct graph when it has none. Agent graphs run under the
// orchestrator's saver.
func (b *Builder) BuildOrchestrator(ctx context.Context, o *entity.Orchestrator) (*Graph, error) {
	if o == nil {
		return nil, errors.New("orchestrator is nil")
	}
	start := time.Now()
	members := o.Members()
	for i := range members {
		if err := b.checkModes(&members[i]); err != nil {
			return nil, err
		}
	}
	m, err := b.models(o.APIKey)
	if err != nil {
		return nil, fmt.Errorf("orchestrator %s: %w", o.Name, err)
	}
	name := entity.AgentName(o.Name)
	instruction := prompt.Orchestrator(o)

	var (
		g    *graph.Graph
		sets []tool.ToolSet
	)
	if len(members) == 0 {
		g, err = react.New(m, react.WithName(name), react.WithInstruction(instruction))
	} else {
		var delegates []supervisor.Member
		delegates, sets, err = b.members(ctx, members)
		if err == nil {
			g, err = supervisor.New(m, name, instruction, delegates)
		}
	}
	if err != nil {
		_ = closeAll(sets)
		return nil, fmt.Errorf("orchestrator %s: %w", o.Name, err)
	}
	out, err := b.finish(o.ID, name, g, sets)
	if err != nil {
		return nil, err
	}
	b.metrics.ObserveGraphBuild(time.Since(start))
	log.Infof("built orchestrator %s (%s) with %d agent(s)", name, o.ID, len(members))
	return out, nil
}

func (b *Builder) members(ctx context.Context, agents []entity.Agent) ([]supervisor.Member, []tool.ToolSet, error) {
	var (
		out  = make([]supervisor.Member, 0, len(agents))
		sets []tool.ToolSet
	)
	for i := range agents {
		a := &agents[i]
		g, agentSets, err := b.agentGraph(ctx, a)
		sets = append(sets, agentSets...)
		if err != nil {
			return nil, sets, err
		}
		exec, err := graph.NewExecutor(g, b.executorOptions(nil)...)
		if err != nil {
			return nil, sets, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		out = append(out, supervisor.Member{
			Name:        entity.AgentName(a.Name),
			Description: a.Description,
			Executor:    exec,
		})
	}
	return out, sets, nil
}

// agentGraph compiles one agent. On failure every opened tool set is
// already closed.
func (b *Builder) agentGraph(ctx context.Context, a *entity.Agent) (*graph.Graph, []tool.ToolSet, error) {
	m, err := b.models(a.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("agent %s: %w", a.Name, err)
	}
	servers := a.Servers()
	sets, err := b.resolve(ctx, servers)
	if err != nil {
		return nil, nil, fmt.Errorf("agent %s: %w", a.Name, err)
	}
	var tools []tool.CallableTool
	for i, set := range sets {
		decorate := b.decorators[mode(servers[i])]
		for _, t := range set.Tools(ctx) {
			tools = append(tools, decorate(t))
		}
	}
	g, err := react.New(m,
		react.WithName(entity.AgentName(a.Name)),
		react.WithInstruction(prompt.Agent(a)),
		react.WithTools(tools...),
		react.WithMetrics(b.metrics),
	)
	if err != nil {
		_ = closeAll(sets)
		return nil, nil, fmt.Errorf("agent %s: %w", a.Name, err)
	}
	return g, sets, nil
}

// resolve opens the servers concurrently. The result follows server order.
func (b *Builder) resolve(ctx context.Context, servers []entity.McpServer) ([]tool.ToolSet, error) {
	if len(servers) == 0 {
		return nil, nil
	}
	pool, err := ants.NewPool(min(b.parallelism, len(servers)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	sets := make([]tool.ToolSet, len(servers))
	errCh := make(chan error, len(servers))
	for i := range servers {
		wg.Add(1)
		idx := i
		err := pool.Submit(func() {
			defer wg.Done()
			set, err := b.resolver.Resolve(ctx, servers[idx])
			if err != nil {
				errCh <- fmt.Errorf("resolve tool server %s: %w", servers[idx].Name, err)
				return
			}
			sets[idx] = set
		})
		if err != nil {
			wg.Done()
			errCh <- fmt.Errorf("failed to submit resolve task: %w", err)
		}
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		_ = closeAll(sets)
		return nil, err
	}
	return sets, nil
}

func (b *Builder) checkModes(a *entity.Agent) error {
	for _, s := range a.Servers() {
		if _, ok := b.decorators[mode(s)]; !ok {
			return errs.Validation("tool server %s has unsupported mode %q", s.Name, s.Mode)
		}
	}
	return nil
}

func (b *Builder) finish(id, name string, g *graph.Graph, sets []tool.ToolSet) (*Graph, error) {
	exec, err := graph.NewExecutor(g, b.executorOptions(b.saver)...)
	if err != nil {
		_ = closeAll(sets)
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return NewGraph(exec, id, name, sets), nil
}

func (b *Builder) executorOptions(saver graph.CheckpointSaver) []graph.ExecutorOption {
	var opts []graph.ExecutorOption
	if saver != nil {
		opts = append(opts, graph.WithCheckpointSaver(saver))
	}
	if b.maxSteps > 0 {
		opts = append(opts, graph.WithMaxSteps(b.maxSteps))
	}
	return opts
}

func mode(s entity.McpServer) string {
	if s.Mode == "" {
		return entity.ModeAutonomous
	}
	return s.Mode
}

func closeAll(sets []tool.ToolSet) error {
	var errList []error
	for _, s := range sets {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close tool set %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errList...)
}
