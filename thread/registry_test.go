//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package thread_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type deleted struct {
	mu  sync.Mutex
	ids []string
}

func (d *deleted) hook(_ context.Context, id string) error {
	d.mu.Lock()
	d.ids = append(d.ids, id)
	d.mu.Unlock()
	return nil
}

func (d *deleted) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func TestCreateAndGet(t *testing.T) {
	r := thread.New()
	ctx := context.Background()

	th, err := r.Create(ctx, thread.CreateRequest{Metadata: map[string]any{"user": "u1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, th.ThreadID)
	assert.Equal(t, thread.StatusIdle, th.Status)
	assert.NotNil(t, th.Config)

	got, err := r.Get(ctx, th.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, th.ThreadID, got.ThreadID)
	assert.Equal(t, "u1", got.Metadata["user"])

	// Returned threads are copies.
	got.Metadata["user"] = "changed"
	again, err := r.Get(ctx, th.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "u1", again.Metadata["user"])
}

func TestGetUnknown(t *testing.T) {
	r := thread.New()
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, thread.ErrThreadNotFound)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, r.Delete(context.Background(), "missing"), errs.ErrNotFound)
}

func TestCreateIfExists(t *testing.T) {
	d := &deleted{}
	r := thread.New(thread.WithDeleteHook(d.hook))
	ctx := context.Background()

	_, err := r.Create(ctx, thread.CreateRequest{ThreadID: "t1", Metadata: map[string]any{"v": 1}})
	require.NoError(t, err)

	_, err = r.Create(ctx, thread.CreateRequest{ThreadID: "t1"})
	assert.ErrorIs(t, err, thread.ErrThreadExists)
	assert.ErrorIs(t, err, errs.ErrConflict)

	same, err := r.Create(ctx, thread.CreateRequest{ThreadID: "t1", IfExists: thread.IfExistsDoNothing})
	require.NoError(t, err)
	assert.Equal(t, 1, same.Metadata["v"])
	assert.Empty(t, d.list())

	fresh, err := r.Create(ctx, thread.CreateRequest{ThreadID: "t1", IfExists: thread.IfExistsReplace})
	require.NoError(t, err)
	assert.Empty(t, fresh.Metadata)
	assert.Equal(t, []string{"t1"}, d.list())

	_, err = r.Create(ctx, thread.CreateRequest{IfExists: "merge"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeleteRunsHooks(t *testing.T) {
	d := &deleted{}
	r := thread.New(thread.WithDeleteHook(d.hook))
	ctx := context.Background()
	_, err := r.Create(ctx, thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)

	_, err = r.Transition("t1", thread.StatusBusy)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Delete(ctx, "t1"), thread.ErrThreadBusy)

	_, err = r.Transition("t1", thread.StatusIdle)
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, "t1"))
	assert.Equal(t, []string{"t1"}, d.list())
	_, err = r.Get(ctx, "t1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTransitions(t *testing.T) {
	r := thread.New()
	_, err := r.Create(context.Background(), thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)

	_, err = r.Transition("t1", thread.StatusInterrupted)
	var invalid *thread.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, thread.StatusIdle, invalid.From)

	_, err = r.Transition("t1", thread.StatusBusy)
	require.NoError(t, err)
	_, err = r.Transition("t1", thread.StatusBusy)
	assert.ErrorIs(t, err, thread.ErrThreadBusy)

	require.NoError(t, r.SetInterrupts("t1", map[string][]thread.Interrupt{"call_1": {{ID: "call_1", Value: "x"}}}))
	th, err := r.Transition("t1", thread.StatusInterrupted)
	require.NoError(t, err)
	assert.Len(t, th.Interrupts, 1)

	// A resume must come from interrupted.
	_, err = r.Transition("t1", thread.StatusBusy, thread.StatusIdle)
	assert.ErrorAs(t, err, &invalid)
	th, err = r.Transition("t1", thread.StatusBusy, thread.StatusInterrupted)
	require.NoError(t, err)
	assert.Empty(t, th.Interrupts)

	_, err = r.Transition("t1", thread.StatusError)
	require.NoError(t, err)
	_, err = r.Transition("t1", thread.StatusBusy)
	require.NoError(t, err)
}

func TestConcurrentBusyHasOneWinner(t *testing.T) {
	r := thread.New()
	_, err := r.Create(context.Background(), thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Transition("t1", thread.StatusBusy); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSearch(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	r := thread.New(thread.WithClock(c.Now))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		c.Advance(time.Second)
		owner := "alice"
		if id == "b" {
			owner = "bob"
		}
		_, err := r.Create(ctx, thread.CreateRequest{ThreadID: id, Metadata: map[string]any{"owner": owner}})
		require.NoError(t, err)
	}

	all := r.Search(ctx, thread.SearchRequest{})
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ThreadID)

	alice := r.Search(ctx, thread.SearchRequest{Metadata: map[string]any{"owner": "alice"}})
	require.Len(t, alice, 2)

	page := r.Search(ctx, thread.SearchRequest{Limit: 1, Offset: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ThreadID)

	assert.Empty(t, r.Search(ctx, thread.SearchRequest{Offset: 5}))
	assert.Empty(t, r.Search(ctx, thread.SearchRequest{Status: thread.StatusBusy}))
}

func TestAssistantBinding(t *testing.T) {
	r := thread.New()
	_, err := r.Create(context.Background(), thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)

	id, err := r.Assistant("t1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, r.BindAssistant("t1", "agent-1"))
	require.NoError(t, r.BindAssistant("t1", "agent-2"))
	id, err = r.Assistant("t1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id)

	assert.ErrorIs(t, r.BindAssistant("nope", "a"), errs.ErrNotFound)
}

func TestSweepExpiresIdleAndKeepsBusy(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	d := &deleted{}
	r := thread.New(thread.WithClock(c.Now), thread.WithDeleteHook(d.hook))
	ctx := context.Background()
	ttl := func() *thread.TTL { return &thread.TTL{Strategy: thread.TTLStrategyDelete, Minutes: 1} }

	for _, id := range []string{"idle", "busy", "active"} {
		_, err := r.Create(ctx, thread.CreateRequest{ThreadID: id, TTL: ttl()})
		require.NoError(t, err)
	}
	_, err := r.Create(ctx, thread.CreateRequest{ThreadID: "forever"})
	require.NoError(t, err)
	_, err = r.Transition("busy", thread.StatusBusy)
	require.NoError(t, err)

	c.Advance(30 * time.Second)
	require.NoError(t, r.SetValues("active", map[string]any{"messages": []any{}}))
	assert.Zero(t, r.Sweep(ctx))

	c.Advance(45 * time.Second)
	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, []string{"idle"}, d.list())

	for _, id := range []string{"busy", "active", "forever"} {
		_, err := r.Get(ctx, id)
		assert.NoError(t, err, id)
	}

	c.Advance(time.Minute)
	assert.Equal(t, 1, r.Sweep(ctx))
	_, err = r.Get(ctx, "active")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.Get(ctx, "busy")
	assert.NoError(t, err)
}

func TestInvalidTTL(t *testing.T) {
	r := thread.New()
	_, err := r.Create(context.Background(), thread.CreateRequest{TTL: &thread.TTL{Strategy: "archive", Minutes: 1}})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = r.Create(context.Background(), thread.CreateRequest{TTL: &thread.TTL{Minutes: 0}})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestStartStop(t *testing.T) {
	r := thread.New(thread.WithSweepInterval(time.Second))
	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	r.Stop()
	r.Stop()
}
