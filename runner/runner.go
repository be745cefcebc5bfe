//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package runner starts graph runs on threads. It validates a request
// before any event is produced, moves the thread through its status
// machine and mirrors the run outcome back into the thread registry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	itelemetry "trpc.group/trpc-go/trpc-agent-studio/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
	"trpc.group/trpc-go/trpc-agent-studio/tool/hitl"
)

// Disconnect policies.
const (
	// OnDisconnectCancel stops the run when the client goes away.
	OnDisconnectCancel = "cancel"
	// OnDisconnectContinue lets the run finish and drops its events.
	OnDisconnectContinue = "continue"
)

// GraphSource resolves an assistant id to a runnable graph pinned for one
// run. *cache.Cache implements it.
type GraphSource interface {
	Acquire(ctx context.Context, id string) (*builder.Graph, error)
}

// settleTimeout bounds the checkpoint lookup made after a run ends.
const settleTimeout = 5 * time.Second

// Request describes one run.
type Request struct {
	ThreadID    string
	AssistantID string
	// Input is appended to the thread's conversation.
	Input []model.Message
	// Resume answers the thread's pending interrupt.
	Resume *graph.ResumeCommand
	// CheckpointID runs from a historical checkpoint instead of the latest.
	CheckpointID string
	// OnDisconnect is OnDisconnectCancel (default) or OnDisconnectContinue.
	OnDisconnect    string
	InterruptBefore []string
	InterruptAfter  []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records run counts and durations.
func WithMetrics(c *metric.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// Runner coordinates runs across threads.
type Runner struct {
	threads *thread.Registry
	graphs  GraphSource
	metrics *metric.Collector

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	run    *Run
	cancel context.CancelFunc
}

// New returns a Runner over the given registry and graph source.
func New(threads *thread.Registry, graphs GraphSource, opts ...Option) *Runner {
	r := &Runner{
		threads: threads,
		graphs:  graphs,
		active:  make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates req, marks the thread busy and starts the graph. The
// returned channel carries the run's events and is closed once the thread
// status reflects the outcome.
func (r *Runner) Run(ctx context.Context, req Request) (*Run, <-chan *event.Event, error) {
	th, err := r.threads.Get(ctx, req.ThreadID)
	if err != nil {
		return nil, nil, err
	}
	if th.Status == thread.StatusBusy {
		return nil, nil, &thread.ThreadBusyError{ID: req.ThreadID}
	}
	switch req.OnDisconnect {
	case "", OnDisconnectCancel, OnDisconnectContinue:
	default:
		return nil, nil, errs.Validation("unknown on_disconnect policy %q", req.OnDisconnect)
	}
	from := []thread.Status{thread.StatusIdle, thread.StatusError}
	if req.Resume != nil {
		if th.Status != thread.StatusInterrupted {
			return nil, nil, errs.Validation("thread %s has no pending interrupt to resume", req.ThreadID)
		}
		from = []thread.Status{thread.StatusInterrupted}
	} else if th.Status == thread.StatusInterrupted {
		if req.CheckpointID == "" {
			return nil, nil, errs.Validation("thread %s is waiting for a decision; resume it with a command", req.ThreadID)
		}
		from = append(from, thread.StatusInterrupted)
	}

	g, err := r.graphs.Acquire(ctx, req.AssistantID)
	if err != nil {
		return nil, nil, err
	}
	if req.Resume != nil {
		if err := r.validateResume(ctx, g, req); err != nil {
			g.Release()
			return nil, nil, err
		}
	}

	if _, err := r.threads.Transition(req.ThreadID, thread.StatusBusy, from...); err != nil {
		g.Release()
		return nil, nil, err
	}
	if err := r.threads.BindAssistant(req.ThreadID, req.AssistantID); err != nil {
		r.revert(th)
		g.Release()
		return nil, nil, err
	}

	run := newRun(req.ThreadID, req.AssistantID)
	runCtx := ctx
	if req.OnDisconnect == OnDisconnectContinue {
		runCtx = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithCancel(runCtx)
	runCtx, span := trace.Tracer.Start(runCtx, itelemetry.SpanNameRun)
	span.SetAttributes(
		attribute.String(itelemetry.KeyThreadID, req.ThreadID),
		attribute.String(itelemetry.KeyRunID, run.ID),
	)

	events, err := g.Execute(runCtx, &graph.Invocation{
		LineageID:       req.ThreadID,
		CheckpointID:    req.CheckpointID,
		Input:           req.Input,
		Resume:          req.Resume,
		InterruptBefore: req.InterruptBefore,
		InterruptAfter:  req.InterruptAfter,
	})
	if err != nil {
		itelemetry.RecordError(span, err)
		span.End()
		cancel()
		r.revert(th)
		g.Release()
		return nil, nil, fmt.Errorf("start run: %w", err)
	}

	r.mu.Lock()
	r.active[req.ThreadID] = &activeRun{run: run, cancel: cancel}
	r.mu.Unlock()
	r.metrics.RunStarted()
	log.Infof("run %s started on thread %s (assistant %s)", run.ID, req.ThreadID, req.AssistantID)

	out := make(chan *event.Event)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		defer g.Release()
		defer span.End()
		defer cancel()
		run.setStatus(StatusStreaming)
		terminal := r.forward(ctx, runCtx, req.ThreadID, events, out)
		status := r.finish(g, req.ThreadID, run, terminal, runCtx.Err())
		if terminal != nil && terminal.Kind == event.KindError {
			span.SetAttributes(attribute.String(itelemetry.KeyError, terminal.Error.Message))
		}
		r.mu.Lock()
		if a, ok := r.active[req.ThreadID]; ok && a.run == run {
			delete(r.active, req.ThreadID)
		}
		r.mu.Unlock()
		r.metrics.RunFinished(string(status), time.Since(run.CreatedAt))
		log.Infof("run %s on thread %s finished: %s", run.ID, req.ThreadID, status)
	}()
	return run, out, nil
}

// forward relays events to out until the executor closes its channel and
// returns the terminal event, if any. Once the client context is done the
// remaining events are dropped.
func (r *Runner) forward(
	clientCtx, runCtx context.Context,
	threadID string,
	events <-chan *event.Event,
	out chan<- *event.Event,
) *event.Event {
	var terminal *event.Event
	detached := false
	for e := range events {
		switch {
		case e.Kind == event.KindValues && e.Namespace == "":
			if err := r.threads.SetValues(threadID, stream.SerializeState(e.Values)); err != nil {
				log.Warnf("thread %s values not recorded: %v", threadID, err)
			}
		case e.IsTerminal() && e.Namespace == "":
			terminal = e
		}
		if detached {
			continue
		}
		select {
		case out <- e:
		case <-clientCtx.Done():
			detached = true
			log.Debugf("client of thread %s went away", threadID)
		case <-runCtx.Done():
			detached = true
		}
	}
	return terminal
}

// finish mirrors the outcome into the thread registry. A run that fails or
// is cancelled without moving past a pending interrupt leaves the thread
// interrupted, so the decision can still be given.
func (r *Runner) finish(g *builder.Graph, threadID string, run *Run, terminal *event.Event, runErr error) Status {
	var (
		status Status
		to     thread.Status
		in     *thread.Interrupt
	)
	switch {
	case terminal != nil && terminal.Kind == event.KindInterrupt:
		status, to = StatusInterrupted, thread.StatusInterrupted
		in = &thread.Interrupt{Value: terminal.Interrupt.Value, ID: terminal.Interrupt.ID}
	case terminal != nil && terminal.Kind == event.KindError:
		status, to = StatusErrored, thread.StatusError
	case runErr != nil:
		status, to = StatusCancelled, thread.StatusIdle
	default:
		status, to = StatusCompleted, thread.StatusIdle
	}
	if status == StatusErrored || status == StatusCancelled {
		if is := r.pendingInterrupt(g, threadID); is != nil {
			log.Infof("thread %s still waits on interrupt %s", threadID, is.TaskID)
			to = thread.StatusInterrupted
			in = &thread.Interrupt{Value: is.Value, ID: is.TaskID}
		}
	}
	if in != nil {
		if err := r.threads.SetInterrupts(threadID, map[string][]thread.Interrupt{in.ID: {*in}}); err != nil {
			log.Warnf("thread %s interrupts not recorded: %v", threadID, err)
		}
	}
	if _, err := r.threads.Transition(threadID, to, thread.StatusBusy); err != nil && !errors.Is(err, thread.ErrThreadNotFound) {
		log.Errorf("thread %s left busy: %v", threadID, err)
	}
	run.setStatus(status)
	return status
}

// pendingInterrupt returns the interrupt of the thread's latest top-level
// checkpoint, if it has one.
func (r *Runner) pendingInterrupt(g *builder.Graph, threadID string) *graph.InterruptState {
	saver := g.CheckpointSaver()
	if saver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	tuple, err := saver.GetTuple(ctx, graph.CreateCheckpointConfig(threadID, "", ""))
	if err != nil {
		log.Warnf("thread %s: latest checkpoint not loaded: %v", threadID, err)
		return nil
	}
	if tuple == nil || !tuple.Checkpoint.IsInterrupted() {
		return nil
	}
	return tuple.Checkpoint.InterruptState
}

// revert undoes the busy transition of a run that never started.
func (r *Runner) revert(prev *thread.Thread) {
	if _, err := r.threads.Transition(prev.ThreadID, prev.Status, thread.StatusBusy); err != nil {
		log.Warnf("thread %s not reverted to %s: %v", prev.ThreadID, prev.Status, err)
		return
	}
	if prev.Status == thread.StatusInterrupted {
		_ = r.threads.SetInterrupts(prev.ThreadID, prev.Interrupts)
	}
}

// validateResume checks the resume command against the interrupt recorded
// in the thread's latest top-level checkpoint.
func (r *Runner) validateResume(ctx context.Context, g *builder.Graph, req Request) error {
	saver := g.CheckpointSaver()
	if saver == nil {
		return errs.Validation("assistant %s cannot resume runs", req.AssistantID)
	}
	tuple, err := saver.GetTuple(ctx, graph.CreateCheckpointConfig(req.ThreadID, req.CheckpointID, ""))
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if tuple == nil || !tuple.Checkpoint.IsInterrupted() {
		return &errs.ValidationError{Msg: "resume " + req.ThreadID, Cause: graph.ErrNotInterrupted}
	}
	return ValidateResume(tuple.Checkpoint.InterruptState, req.Resume)
}

// ValidateResume checks cmd against the pending interrupt is. A resume map
// may only name the pending interrupt. When the interrupt came from a
// reviewed tool call, the answer must be a decision its config allows.
func ValidateResume(is *graph.InterruptState, cmd *graph.ResumeCommand) error {
	if is == nil {
		return &errs.ValidationError{Msg: "resume", Cause: graph.ErrNotInterrupted}
	}
	if cmd == nil {
		return errs.Validation("resume command is empty")
	}
	for id := range cmd.ResumeMap {
		if id != is.TaskID {
			return errs.Validation("resume names interrupt %s but %s is pending", id, is.TaskID)
		}
	}
	answer, ok := cmd.ResumeMap[is.TaskID]
	if !ok {
		answer = cmd.Resume
	}
	if is.Value == nil {
		// Static breakpoints take any answer.
		return nil
	}
	if answer == nil {
		return errs.Validation("resume carries no answer for interrupt %s", is.TaskID)
	}
	hi, err := hitl.ParseInterrupt(is.Value)
	if err != nil || hi.ActionRequest.Action == "" {
		return nil
	}
	d, err := hitl.ParseDecision(answer)
	if err != nil {
		return err
	}
	return hitl.ValidateDecision(d, hi.Config)
}

// Cancel stops the active run runID on threadID.
func (r *Runner) Cancel(threadID, runID string) error {
	r.mu.Lock()
	a, ok := r.active[threadID]
	r.mu.Unlock()
	if !ok || (runID != "" && a.run.ID != runID) {
		return errs.NotFound("run", runID)
	}
	log.Infof("cancelling run %s on thread %s", a.run.ID, threadID)
	a.cancel()
	return nil
}

// Active returns the run in flight on threadID, if any.
func (r *Runner) Active(threadID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[threadID]
	if !ok {
		return nil, false
	}
	return a.run, true
}

// Shutdown cancels every active run and waits for them to settle or for
// ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, a := range r.active {
		a.cancel()
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRun(threadID, assistantID string) *Run {
	return &Run{
		ID:          uuid.NewString(),
		ThreadID:    threadID,
		AssistantID: assistantID,
		CreatedAt:   time.Now(),
		status:      StatusCreated,
	}
}
