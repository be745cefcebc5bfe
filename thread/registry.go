//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package thread

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
)

const defaultSweepInterval = time.Minute

// DeleteHook runs after a thread is deleted or replaced, typically to drop
// its checkpoint lineage.
type DeleteHook func(ctx context.Context, threadID string) error

// CreateRequest describes a new thread.
type CreateRequest struct {
	// ThreadID is generated when empty.
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	// IfExists is raise (default), replace or do_nothing.
	IfExists string `json:"if_exists,omitempty"`
	TTL      *TTL   `json:"ttl,omitempty"`
}

// SearchRequest filters threads.
type SearchRequest struct {
	// Metadata keeps threads whose metadata contains every pair.
	Metadata map[string]any `json:"metadata,omitempty"`
	Status   Status         `json:"status,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

type record struct {
	thread     *Thread
	assistant  string
	lastActive time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithDeleteHook adds a hook run after every delete and replace.
func WithDeleteHook(h DeleteHook) Option {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

// WithSweepInterval sets how often expired threads are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepEvery = d }
}

// WithMetrics reports thread counts by status on c.
func WithMetrics(c *metric.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds threads in memory. Status moves are compare-and-set under
// its lock, which is what keeps one run per thread.
type Registry struct {
	hooks      []DeleteHook
	sweepEvery time.Duration
	metrics    *metric.Collector
	now        func() time.Time

	mu      sync.RWMutex
	threads map[string]*record

	cron *cron.Cron
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sweepEvery: defaultSweepInterval,
		now:        time.Now,
		threads:    make(map[string]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the TTL sweeper.
func (r *Registry) Start() error {
	if r.cron != nil {
		return errors.New("thread registry already started")
	}
	if r.sweepEvery <= 0 {
		return nil
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(cron.Every(r.sweepEvery), cron.FuncJob(func() {
		if n := r.Sweep(context.Background()); n > 0 {
			log.Infof("thread sweeper removed %d expired thread(s)", n)
		}
	}))
	c.Start()
	r.cron = c
	log.Infof("thread sweeper started, interval %s", r.sweepEvery)
	return nil
}

// Stop halts the sweeper and waits for a running sweep.
func (r *Registry) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// Create adds a thread. A supplied id that already exists is handled per
// req.IfExists.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Thread, error) {
	policy := req.IfExists
	if policy == "" {
		policy = IfExistsRaise
	}
	if policy != IfExistsRaise && policy != IfExistsReplace && policy != IfExistsDoNothing {
		return nil, errs.Validation("unsupported if_exists %q", req.IfExists)
	}
	if req.TTL != nil {
		if req.TTL.Strategy == "" {
			req.TTL.Strategy = TTLStrategyDelete
		}
		if req.TTL.Strategy != TTLStrategyDelete || req.TTL.Minutes <= 0 {
			return nil, errs.Validation("unsupported ttl %s/%v", req.TTL.Strategy, req.TTL.Minutes)
		}
	}
	id := req.ThreadID
	if id == "" {
		id = uuid.NewString()
	}

	now := r.now().UTC()
	t := &Thread{
		ThreadID:  id,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  orEmpty(req.Metadata),
		Status:    StatusIdle,
		Config:    orEmpty(req.Config),
		TTL:       req.TTL,
	}

	r.mu.Lock()
	existing, ok := r.threads[id]
	if ok {
		switch {
		case policy == IfExistsDoNothing:
			out := existing.thread.clone()
			r.mu.Unlock()
			return out, nil
		case policy == IfExistsRaise:
			r.mu.Unlock()
			return nil, &ThreadExistsError{ID: id}
		case existing.thread.Status == StatusBusy:
			r.mu.Unlock()
			return nil, &ThreadBusyError{ID: id}
		}
	}
	r.threads[id] = &record{thread: t, lastActive: now}
	out := t.clone()
	r.mu.Unlock()

	if ok {
		log.Infof("thread %s replaced", id)
		r.runHooks(ctx, id)
	} else {
		log.Debugf("thread %s created", id)
	}
	r.report()
	return out, nil
}

// Get returns a copy of the thread.
func (r *Registry) Get(_ context.Context, id string) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.threads[id]
	if !ok {
		return nil, &ThreadNotFoundError{ID: id}
	}
	return rec.thread.clone(), nil
}

// Delete removes the thread and runs the delete hooks. A busy thread
// cannot be deleted.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.threads[id]
	if !ok {
		r.mu.Unlock()
		return &ThreadNotFoundError{ID: id}
	}
	if rec.thread.Status == StatusBusy {
		r.mu.Unlock()
		return &ThreadBusyError{ID: id}
	}
	delete(r.threads, id)
	r.mu.Unlock()

	log.Infof("thread %s deleted", id)
	r.runHooks(ctx, id)
	r.report()
	return nil
}

// Search returns matching threads, most recently updated first.
func (r *Registry) Search(_ context.Context, req SearchRequest) []*Thread {
	r.mu.RLock()
	var out []*Thread
	for _, rec := range r.threads {
		t := rec.thread
		if req.Status != "" && t.Status != req.Status {
			continue
		}
		if !containsAll(t.Metadata, req.Metadata) {
			continue
		}
		out = append(out, t.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ThreadID > out[j].ThreadID
	})
	if req.Offset > 0 {
		if req.Offset >= len(out) {
			return []*Thread{}
		}
		out = out[req.Offset:]
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	if out == nil {
		out = []*Thread{}
	}
	return out
}

// Transition moves the thread to status to. When from is given the current
// status must be one of them. Moving a busy thread to busy fails with
// ThreadBusyError; any other forbidden move with InvalidTransitionError.
// Leaving the interrupted status clears the pending interrupts.
func (r *Registry) Transition(id string, to Status, from ...Status) (*Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.threads[id]
	if !ok {
		return nil, &ThreadNotFoundError{ID: id}
	}
	cur := rec.thread.Status
	if cur == StatusBusy && to == StatusBusy {
		return nil, &ThreadBusyError{ID: id}
	}
	if len(from) > 0 && !slices.Contains(from, cur) {
		return nil, &InvalidTransitionError{ID: id, From: cur, To: to}
	}
	if !slices.Contains(transitions[cur], to) {
		return nil, &InvalidTransitionError{ID: id, From: cur, To: to}
	}
	rec.thread.Status = to
	if to != StatusInterrupted {
		rec.thread.Interrupts = nil
	}
	r.touch(rec)
	log.Debugf("thread %s: %s -> %s", id, cur, to)
	r.reportLocked()
	return rec.thread.clone(), nil
}

// SetValues records the latest state snapshot.
func (r *Registry) SetValues(id string, values any) error {
	return r.update(id, func(t *Thread) { t.Values = values })
}

// SetInterrupts records the pending interrupts.
func (r *Registry) SetInterrupts(id string, interrupts map[string][]Interrupt) error {
	return r.update(id, func(t *Thread) { t.Interrupts = interrupts })
}

// BindAssistant remembers the first assistant that ran on the thread.
// Later bindings keep the first one.
func (r *Registry) BindAssistant(id, assistantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.threads[id]
	if !ok {
		return &ThreadNotFoundError{ID: id}
	}
	if rec.assistant == "" {
		rec.assistant = assistantID
	}
	return nil
}

// Assistant returns the assistant bound to the thread, or "" if none ran.
func (r *Registry) Assistant(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.threads[id]
	if !ok {
		return "", &ThreadNotFoundError{ID: id}
	}
	return rec.assistant, nil
}

// Sweep deletes threads whose TTL elapsed and returns how many it removed.
// Busy threads are kept.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()
	r.mu.Lock()
	var expired []string
	for id, rec := range r.threads {
		t := rec.thread
		if t.TTL == nil || t.Status == StatusBusy {
			continue
		}
		if now.Sub(rec.lastActive) >= t.TTL.duration() {
			expired = append(expired, id)
			delete(r.threads, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		log.Debugf("thread %s expired", id)
		r.runHooks(ctx, id)
	}
	if len(expired) > 0 {
		r.report()
	}
	return len(expired)
}

func (r *Registry) update(id string, fn func(*Thread)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.threads[id]
	if !ok {
		return &ThreadNotFoundError{ID: id}
	}
	fn(rec.thread)
	r.touch(rec)
	return nil
}

func (r *Registry) touch(rec *record) {
	now := r.now()
	rec.lastActive = now
	rec.thread.UpdatedAt = now.UTC()
}

func (r *Registry) runHooks(ctx context.Context, id string) {
	for _, h := range r.hooks {
		if err := h(ctx, id); err != nil {
			log.Warnf("thread %s delete hook: %v", id, err)
		}
	}
}

func (r *Registry) report() {
	if r.metrics == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.reportLocked()
}

func (r *Registry) reportLocked() {
	if r.metrics == nil {
		return
	}
	counts := map[Status]int{StatusIdle: 0, StatusBusy: 0, StatusInterrupted: 0, StatusError: 0}
	for _, rec := range r.threads {
		counts[rec.thread.Status]++
	}
	for s, n := range counts {
		r.metrics.SetThreads(string(s), n)
	}
}

func containsAll(have, want map[string]any) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
