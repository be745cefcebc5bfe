//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package cache keeps one compiled graph per agent or orchestrator id.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
)

// AgentNotFoundError is returned when id names neither an orchestrator nor
// an agent.
type AgentNotFoundError struct {
	ID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not found", e.ID)
}

// Is matches errs.ErrNotFound.
func (e *AgentNotFoundError) Is(target error) bool { return target == errs.ErrNotFound }

// Builder compiles entities. *builder.Builder implements it.
type Builder interface {
	BuildAgent(ctx context.Context, a *entity.Agent) (*builder.Graph, error)
	BuildOrchestrator(ctx context.Context, o *entity.Orchestrator) (*builder.Graph, error)
}

type entry struct {
	graph *builder.Graph
	stamp time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithStamper compares the entity's stamp on every Get and rebuilds the
// graph when it moved.
func WithStamper(s entity.Stamper) Option {
	return func(c *Cache) { c.stamper = s }
}

// WithMetrics counts hits, misses and invalidations on m.
func WithMetrics(m *metric.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache maps ids to graphs. Concurrent misses for one id share one build.
type Cache struct {
	reader  entity.Reader
	builder Builder
	stamper entity.Stamper
	metrics *metric.Collector

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
	// gens counts invalidations per id so that a build racing an
	// invalidation is not stored.
	gens map[string]uint64
	// retired holds replaced graphs that runs still pin.
	retired map[*builder.Graph]struct{}
}

// New creates an empty cache.
func New(reader entity.Reader, b Builder, opts ...Option) *Cache {
	c := &Cache{
		reader:  reader,
		builder: b,
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
		retired: make(map[*builder.Graph]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the graph for id, building it on a miss. The orchestrator
// namespace is tried before the agent one. Build failures are not cached.
func (c *Cache) Get(ctx context.Context, id string) (*builder.Graph, error) {
	if g, ok := c.lookup(ctx, id); ok {
		c.metrics.RecordCache(metric.CacheHit)
		return g, nil
	}
	c.metrics.RecordCache(metric.CacheMiss)
	v, err, shared := c.group.Do(id, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("graph %s: joined a build in flight", id)
	}
	return v.(*builder.Graph), nil
}

// acquireAttempts bounds how often Acquire retries a graph retired between
// Get and Acquire.
const acquireAttempts = 3

// Acquire returns the graph for id pinned for one run. The caller must
// Release it; a graph replaced meanwhile is closed by its last Release.
func (c *Cache) Acquire(ctx context.Context, id string) (*builder.Graph, error) {
	for i := 0; i < acquireAttempts; i++ {
		g, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if g.Acquire() {
			return g, nil
		}
		log.Debugf("graph %s retired before use, fetching again", id)
	}
	return nil, fmt.Errorf("graph %s kept changing while being acquired", id)
}

// lookup returns a cached graph whose stamp is still current. A stale
// entry is retired.
func (c *Cache) lookup(ctx context.Context, id string) (*builder.Graph, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.stamper == nil {
		return e.graph, true
	}
	stamp, err := c.stamper.Stamp(ctx, id)
	switch {
	case err == nil && stamp.Equal(e.stamp):
		return e.graph, true
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		log.Warnf("graph %s: stamp check failed, serving cached graph: %v", id, err)
		return e.graph, true
	}
	log.Infof("graph %s is stale, rebuilding", id)
	c.drop(id, e)
	return nil, false
}

func (c *Cache) load(ctx context.Context, id string) (*builder.Graph, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	gen := c.gens[id]
	c.mu.RUnlock()
	if ok {
		return e.graph, nil
	}

	var stamp time.Time
	if c.stamper != nil {
		// Read before building so that a change made during the build
		// shows up as a mismatch on the next Get.
		stamp, _ = c.stamper.Stamp(ctx, id)
	}
	g, err := c.build(ctx, id)
	if err != nil {
		c.metrics.RecordCache(metric.CacheBuildError)
		return nil, err
	}

	c.mu.Lock()
	if c.gens[id] != gen {
		// Invalidated while building: keep nothing. Acquire fetches again.
		c.mu.Unlock()
		c.retire(g)
		return g, nil
	}
	c.entries[id] = &entry{graph: g, stamp: stamp}
	c.mu.Unlock()
	return g, nil
}

func (c *Cache) build(ctx context.Context, id string) (*builder.Graph, error) {
	o, err := c.reader.GetOrchestrator(ctx, id)
	if err == nil {
		return c.builder.BuildOrchestrator(ctx, o)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("load orchestrator %s: %w", id, err)
	}
	a, err := c.reader.GetAgent(ctx, id)
	if err == nil {
		return c.builder.BuildAgent(ctx, a)
	}
	if errors.Is(err, errs.ErrNotFound) {
		return nil, &AgentNotFoundError{ID: id}
	}
	return nil, fmt.Errorf("load agent %s: %w", id, err)
}

// drop removes e if it is still the entry of id.
func (c *Cache) drop(id string, e *entry) {
	c.mu.Lock()
	c.gens[id]++
	cur, ok := c.entries[id]
	ok = ok && cur == e
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if ok {
		c.retire(e.graph)
	}
}

// Invalidate forgets the graphs of ids. Runs holding them finish on the old
// graph, which closes when the last of them releases it.
func (c *Cache) Invalidate(ids ...string) {
	var old []*builder.Graph
	c.mu.Lock()
	for _, id := range ids {
		c.gens[id]++
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		delete(c.entries, id)
		old = append(old, e.graph)
		c.metrics.RecordCache(metric.CacheInvalidate)
		log.Infof("graph %s invalidated", id)
	}
	c.mu.Unlock()
	for _, g := range old {
		c.retire(g)
	}
}

// retire closes g now or, while runs pin it, remembers it for Close.
func (c *Cache) retire(g *builder.Graph) {
	if err := g.Retire(); err != nil {
		log.Warnf("close graph %s: %v", g.ID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for r := range c.retired {
		if r.Closed() {
			delete(c.retired, r)
		}
	}
	if !g.Closed() {
		c.retired[g] = struct{}{}
	}
}

// Len returns the number of cached graphs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close releases every cached and retired graph.
func (c *Cache) Close() error {
	c.mu.Lock()
	graphs := make([]*builder.Graph, 0, len(c.entries)+len(c.retired))
	for g := range c.retired {
		graphs = append(graphs, g)
	}
	for _, e := range c.entries {
		graphs = append(graphs, e.graph)
	}
	c.entries = make(map[string]*entry)
	c.retired = make(map[*builder.Graph]struct{})
	c.mu.Unlock()

	var errList []error
	for _, g := range graphs {
		if err := g.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
