//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/agent/cache"
	"trpc.group/trpc-go/trpc-agent-studio/entity"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/internal/testkit"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

type store struct {
	mu      sync.Mutex
	agents  map[string]*entity.Agent
	orchs   map[string]*entity.Orchestrator
	stamps  map[string]time.Time
	readErr error
}

func newStore() *store {
	return &store{
		agents: map[string]*entity.Agent{},
		orchs:  map[string]*entity.Orchestrator{},
		stamps: map[string]time.Time{},
	}
}

func (s *store) GetAgent(_ context.Context, id string) (*entity.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		return a, nil
	}
	return nil, errs.NotFound("agent", id)
}

func (s *store) GetOrchestrator(_ context.Context, id string) (*entity.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if o, ok := s.orchs[id]; ok {
		return o, nil
	}
	return nil, errs.NotFound("orchestrator", id)
}

func (s *store) Stamp(_ context.Context, id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.stamps[id]; ok {
		return ts, nil
	}
	return time.Time{}, errs.NotFound("entity", id)
}

func (s *store) touch(id string) {
	s.mu.Lock()
	s.stamps[id] = s.stamps[id].Add(time.Second)
	s.mu.Unlock()
}

// counting builds graphs that own one tool set each.
type counting struct {
	agents, orchs atomic.Int32
	delay         time.Duration
	fail          atomic.Bool
	started       chan struct{}
	gate          chan struct{}
	sets          []*testkit.StaticToolSet
	mu            sync.Mutex
}

func (b *counting) graph(id, name string) *builder.Graph {
	set := &testkit.StaticToolSet{SetName: name}
	b.mu.Lock()
	b.sets = append(b.sets, set)
	b.mu.Unlock()
	return builder.NewGraph(nil, id, name, []tool.ToolSet{set})
}

func (b *counting) BuildAgent(_ context.Context, a *entity.Agent) (*builder.Graph, error) {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	time.Sleep(b.delay)
	b.agents.Add(1)
	if b.fail.Load() {
		return nil, errs.Validation("broken agent")
	}
	return b.graph(a.ID, a.Name), nil
}

func (b *counting) BuildOrchestrator(_ context.Context, o *entity.Orchestrator) (*builder.Graph, error) {
	time.Sleep(b.delay)
	b.orchs.Add(1)
	return b.graph(o.ID, o.Name), nil
}

func agent(id string) *entity.Agent {
	a := &entity.Agent{Name: "agent " + id}
	a.ID = id
	return a
}

func TestGetReturnsSameInstance(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{}
	c := cache.New(s, b)

	g1, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	g2, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.EqualValues(t, 1, b.agents.Load())
	assert.Equal(t, 1, c.Len())
}

func TestOrchestratorWins(t *testing.T) {
	s := newStore()
	s.agents["x"] = agent("x")
	o := &entity.Orchestrator{Name: "boss"}
	o.ID = "x"
	s.orchs["x"] = o
	b := &counting{}
	c := cache.New(s, b)

	g, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "boss", g.Name)
	assert.EqualValues(t, 1, b.orchs.Load())
	assert.Zero(t, b.agents.Load())
}

func TestUnknownID(t *testing.T) {
	c := cache.New(newStore(), &counting{})
	_, err := c.Get(context.Background(), "nope")
	var notFound *cache.AgentNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Zero(t, c.Len())
}

func TestStoreErrorIsNotNotFound(t *testing.T) {
	s := newStore()
	s.readErr = errors.New("database is down")
	c := cache.New(s, &counting{})
	_, err := c.Get(context.Background(), "a1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestBuildFailureIsNotCached(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{}
	b.fail.Store(true)
	c := cache.New(s, b)

	_, err := c.Get(context.Background(), "a1")
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, c.Len())

	b.fail.Store(false)
	_, err = c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.agents.Load())
}

func TestInvalidateRebuilds(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{}
	c := cache.New(s, b)

	g1, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	c.Invalidate("a1", "unrelated")
	assert.Zero(t, c.Len())

	g2, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
	assert.EqualValues(t, 2, b.agents.Load())

	// Nothing held the old graph, so it closed on the spot.
	assert.True(t, b.sets[0].Closed())
	assert.False(t, b.sets[1].Closed())
	require.NoError(t, c.Close())
	assert.True(t, b.sets[1].Closed())
}

func TestRetiredGraphClosesWithLastRelease(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{}
	c := cache.New(s, b)

	g1, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	g2, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	require.Same(t, g1, g2)

	c.Invalidate("a1")
	assert.False(t, g1.Acquire(), "retired graphs take no new runs")
	assert.False(t, b.sets[0].Closed())

	g1.Release()
	assert.False(t, b.sets[0].Closed(), "one run still holds it")
	g2.Release()
	assert.True(t, b.sets[0].Closed())

	g3, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	assert.NotSame(t, g1, g3)
	g3.Release()
	assert.False(t, b.sets[1].Closed(), "cached graphs stay open between runs")
}

func TestStaleGraphClosesWithLastRelease(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	s.stamps["a1"] = time.Unix(100, 0)
	b := &counting{}
	c := cache.New(s, b, cache.WithStamper(s))

	g1, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	s.touch("a1")
	g2, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	require.NotSame(t, g1, g2)

	assert.False(t, b.sets[0].Closed())
	g1.Release()
	assert.True(t, b.sets[0].Closed())
	g2.Release()
	require.NoError(t, c.Close())
	assert.True(t, b.sets[1].Closed())
}

func TestCloseReleasesPinnedRetiredGraphs(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{}
	c := cache.New(s, b)

	g, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	c.Invalidate("a1")
	require.NoError(t, c.Close())
	assert.True(t, b.sets[0].Closed())
	g.Release()
}

func TestStampMismatchRebuilds(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	s.stamps["a1"] = time.Unix(100, 0)
	b := &counting{}
	c := cache.New(s, b, cache.WithStamper(s))

	g1, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	g2, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	s.touch("a1")
	g3, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.NotSame(t, g1, g3)
	assert.EqualValues(t, 2, b.agents.Load())
}

func TestDeletedEntityIsForgotten(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	s.stamps["a1"] = time.Unix(100, 0)
	c := cache.New(s, &counting{}, cache.WithStamper(s))
	_, err := c.Get(context.Background(), "a1")
	require.NoError(t, err)

	s.mu.Lock()
	delete(s.agents, "a1")
	delete(s.stamps, "a1")
	s.mu.Unlock()
	_, err = c.Get(context.Background(), "a1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Zero(t, c.Len())
}

func TestInvalidateDuringBuildKeepsNothing(t *testing.T) {
	s := newStore()
	s.agents["a1"] = agent("a1")
	b := &counting{started: make(chan struct{}), gate: make(chan struct{})}
	c := cache.New(s, b)

	done := make(chan *builder.Graph)
	go func() {
		g, err := c.Get(context.Background(), "a1")
		assert.NoError(t, err)
		done <- g
	}()
	<-b.started
	c.Invalidate("a1")
	close(b.gate)
	g := <-done
	require.NotNil(t, g)
	assert.Zero(t, c.Len())
	assert.True(t, g.Closed())

	// Acquire skips the discarded build.
	b.started, b.gate = nil, nil
	g2, err := c.Acquire(context.Background(), "a1")
	require.NoError(t, err)
	assert.NotSame(t, g, g2)
	g2.Release()
}

func TestConcurrentMissesBuildOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		callers := rapid.IntRange(2, 32).Draw(rt, "callers")
		ids := rapid.IntRange(1, 3).Draw(rt, "ids")
		s := newStore()
		names := make([]string, ids)
		for i := range names {
			names[i] = string(rune('a' + i))
			s.agents[names[i]] = agent(names[i])
		}
		b := &counting{delay: time.Millisecond}
		c := cache.New(s, b)

		results := make([]*builder.Graph, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				g, err := c.Get(context.Background(), names[i%ids])
				if err == nil {
					results[i] = g
				}
			}(i)
		}
		wg.Wait()

		want := min(callers, ids)
		if got := int(b.agents.Load()); got != want {
			rt.Fatalf("built %d graphs for %d ids", got, want)
		}
		for i, g := range results {
			if g == nil {
				rt.Fatalf("caller %d got no graph", i)
			}
			if g != results[i%ids] {
				rt.Fatalf("caller %d got a different instance", i)
			}
		}
	})
}
