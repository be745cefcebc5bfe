//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/event"
	itelemetry "trpc.group/trpc-go/trpc-agent-studio/internal/telemetry"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/trace"
)

const (
	defaultChannelBufferSize = 1
	defaultMaxSteps          = 100
)

// Executor runs a compiled graph. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	graph             *Graph
	saver             CheckpointSaver
	channelBufferSize int
	maxSteps          int
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// CheckpointSaver persists a checkpoint after every step. A graph without
	// one inherits the saver of the graph that runs it as a subgraph.
	CheckpointSaver CheckpointSaver
	// ChannelBufferSize is the buffer size of the Execute channel (default: 1).
	ChannelBufferSize int
	// MaxSteps is the maximum number of node executions per run.
	MaxSteps int
}

// WithCheckpointSaver binds the executor to a saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.CheckpointSaver = saver }
}

// WithChannelBufferSize sets the buffer size for event channels.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.ChannelBufferSize = size }
}

// WithMaxSteps sets the maximum number of steps for graph execution.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(opts *ExecutorOptions) { opts.MaxSteps = maxSteps }
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, errors.New("graph is nil")
	}
	if err := graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	options := ExecutorOptions{
		ChannelBufferSize: defaultChannelBufferSize,
		MaxSteps:          defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.ChannelBufferSize < 0 {
		options.ChannelBufferSize = 0
	}
	return &Executor{
		graph:             graph,
		saver:             options.CheckpointSaver,
		channelBufferSize: options.ChannelBufferSize,
		maxSteps:          options.MaxSteps,
	}, nil
}

// Graph returns the compiled graph.
func (e *Executor) Graph() *Graph { return e.graph }

// CheckpointSaver returns the bound saver, or nil.
func (e *Executor) CheckpointSaver() CheckpointSaver { return e.saver }

// Invocation describes one run of the graph.
type Invocation struct {
	// LineageID binds checkpoints to a conversation, usually the thread id.
	LineageID string
	// Namespace separates nested graphs inside one lineage.
	Namespace string
	// CheckpointID starts from a historical checkpoint instead of the
	// latest one. New checkpoints branch from it.
	CheckpointID string
	// Input is appended to the state before the entry node runs.
	Input []model.Message
	// Fresh ignores earlier checkpoints and starts from Input alone.
	Fresh bool
	// Resume continues an interrupted checkpoint instead of taking input.
	Resume *ResumeCommand
	// InterruptBefore and InterruptAfter are static breakpoints by node id.
	InterruptBefore []string
	InterruptAfter  []string
}

// Execute runs the graph in a goroutine. The channel yields message and
// values events, then an interrupt or error event if the run did not
// complete, and is closed when the run ends. Cancellation closes it
// without an error event.
func (e *Executor) Execute(ctx context.Context, inv *Invocation) (<-chan *event.Event, error) {
	if inv == nil {
		return nil, errors.New("invocation is nil")
	}
	if inv.LineageID == "" && e.saver != nil {
		return nil, ErrLineageIDRequired
	}
	ch := make(chan *event.Event, e.channelBufferSize)
	go func() {
		defer close(ch)
		ctx, span := trace.Tracer.Start(ctx, "execute_graph")
		defer span.End()
		span.SetAttributes(
			attribute.String(itelemetry.KeyThreadID, inv.LineageID),
			attribute.String(itelemetry.KeyNamespace, inv.Namespace),
		)

		emit := func(ev *event.Event) error {
			select {
			case ch <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		_, err := e.run(ctx, inv, emit, e.saver, nil)
		if err == nil {
			return
		}
		if ie, ok := GetInterruptError(err); ok {
			_ = emit(event.NewInterruptEvent(ie.TaskID, ie.NodeID, ie.Value,
				event.WithAuthor(ie.NodeID), event.WithNamespace(inv.Namespace)))
			return
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Debugf("graph run on %s stopped: %v", inv.LineageID, err)
			return
		}
		itelemetry.RecordError(span, err)
		_ = emit(event.NewErrorEvent(errs.Kind(err), err.Error(), event.WithNamespace(inv.Namespace)))
	}()
	return ch, nil
}

// Run executes the graph synchronously, handing events to emit, and returns
// the final state. A suspended run returns an *InterruptError.
func (e *Executor) Run(ctx context.Context, inv *Invocation, emit func(*event.Event) error) (State, error) {
	if inv == nil {
		return State{}, errors.New("invocation is nil")
	}
	return e.run(ctx, inv, emit, e.saver, nil)
}

func (e *Executor) run(
	ctx context.Context,
	inv *Invocation,
	emit func(*event.Event) error,
	saver CheckpointSaver,
	resume map[string]any,
) (State, error) {
	ec := &ExecutionContext{
		LineageID: inv.LineageID,
		Namespace: inv.Namespace,
		saver:     saver,
		emit:      emit,
		resume:    resume,
		streamed:  make(map[string]bool),
	}
	if ec.resume == nil {
		ec.resume = make(map[string]any)
	}
	ctx = withExecutionContext(ctx, ec)

	r := &runState{executor: e, ec: ec, inv: inv}
	if err := r.prepare(ctx); err != nil {
		return r.state, err
	}
	return r.loop(ctx)
}

// runState is the bookkeeping of one run.
type runState struct {
	executor *Executor
	ec       *ExecutionContext
	inv      *Invocation

	state    State
	node     string
	step     int
	parentID string
}

func (r *runState) prepare(ctx context.Context) error {
	ec, inv := r.ec, r.inv
	var tuple *CheckpointTuple
	if ec.saver != nil && (!inv.Fresh || inv.Resume != nil) {
		var err error
		tuple, err = ec.saver.GetTuple(ctx, CreateCheckpointConfig(inv.LineageID, inv.CheckpointID, inv.Namespace))
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if tuple == nil && inv.CheckpointID != "" {
			return errs.NotFound("checkpoint", inv.CheckpointID)
		}
	}

	if inv.Resume != nil {
		if tuple == nil {
			return fmt.Errorf("resume %s: %w", inv.LineageID, ErrCheckpointNotFound)
		}
		ckpt := tuple.Checkpoint
		if !ckpt.IsInterrupted() {
			return &errs.ValidationError{Msg: "resume " + inv.LineageID, Cause: ErrNotInterrupted}
		}
		for k, v := range inv.Resume.ResumeMap {
			ec.resume[k] = v
		}
		if inv.Resume.Resume != nil {
			if _, ok := ec.resume[ckpt.InterruptState.TaskID]; !ok {
				ec.resume[ckpt.InterruptState.TaskID] = inv.Resume.Resume
			}
		}
		ec.completed = make(map[string]model.Message, len(ckpt.PendingWrites))
		for _, w := range ckpt.PendingWrites {
			ec.completed[w.TaskID] = w.Value
		}
		r.state = ckpt.Values.Clone()
		r.parentID = ckpt.ID
		r.step = tuple.Metadata.Step
		r.node = End
		if len(ckpt.NextNodes) > 0 {
			r.node = ckpt.NextNodes[0]
		}
		ec.resumeNode = r.node
		ec.subgraphs = ckpt.InterruptState.Subgraphs
		log.Debugf("resuming %s/%s at node %s", inv.LineageID, inv.Namespace, r.node)
		return nil
	}

	if tuple != nil {
		if tuple.Checkpoint.IsInterrupted() && inv.CheckpointID == "" {
			return &errs.ValidationError{Msg: "lineage " + inv.LineageID, Cause: ErrPendingInterrupt}
		}
		r.state = tuple.Checkpoint.Values.Clone()
		r.parentID = tuple.Checkpoint.ID
		r.step = tuple.Metadata.Step + 1
	}
	r.state = r.state.Apply(Update{Messages: inv.Input})
	r.node = r.executor.graph.EntryPoint()
	return r.save(ctx, SourceInput, []string{r.node}, nil, nil)
}

func (r *runState) loop(ctx context.Context) (State, error) {
	g := r.executor.graph
	executed := 0
	for r.node != End {
		if err := ctx.Err(); err != nil {
			return r.state, err
		}
		executed++
		if r.executor.maxSteps > 0 && executed > r.executor.maxSteps {
			return r.state, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, r.executor.maxSteps)
		}
		node, ok := g.Node(r.node)
		if !ok {
			return r.state, fmt.Errorf("node %s not found", r.node)
		}
		resumingHere := r.ec.resumeNode == node.ID
		if !resumingHere && slices.Contains(r.inv.InterruptBefore, node.ID) {
			return r.state, r.breakpoint(ctx, node.ID, node.ID)
		}

		r.ec.enterNode(node.ID)
		update, err := r.executeNode(ctx, node)
		r.ec.leaveNode()
		if ie, ok := GetInterruptError(err); ok {
			return r.state, r.suspend(ctx, node.ID, ie)
		}
		if err != nil {
			return r.state, fmt.Errorf("node %s: %w", node.ID, err)
		}

		r.state = r.state.Apply(update)
		for _, msg := range update.Messages {
			if msg.ID != "" && r.ec.wasStreamed(msg.ID) {
				continue
			}
			if err := r.emit(event.NewMessageEvent(msg, false, event.WithAuthor(node.ID))); err != nil {
				return r.state, err
			}
		}

		next, err := r.nextNode(ctx, node.ID, update.Goto)
		if err != nil {
			return r.state, err
		}
		var nextNodes []string
		if next != End {
			nextNodes = []string{next}
		}
		r.step++
		var is *InterruptState
		if next != End && slices.Contains(r.inv.InterruptAfter, node.ID) {
			is = &InterruptState{NodeID: next, TaskID: node.ID, Step: r.step}
		}
		if err := r.save(ctx, SourceLoop, nextNodes, is, nil); err != nil {
			return r.state, err
		}
		if is != nil {
			return r.state, &InterruptError{
				NodeID: next, TaskID: node.ID, Namespace: r.ec.Namespace, Step: r.step,
				Checkpoints: map[string]string{r.ec.Namespace: r.parentID},
			}
		}
		r.node = next
	}
	return r.state, nil
}

func (r *runState) executeNode(ctx context.Context, node *Node) (Update, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteNodeSpanName(node.ID))
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyNodeID, node.ID),
		attribute.String(itelemetry.KeyNamespace, r.ec.Namespace),
		attribute.String(itelemetry.KeyThreadID, r.ec.LineageID),
	)
	if node.Function == nil {
		return Update{}, nil
	}
	update, err := node.Function(ctx, r.state.Clone())
	if err != nil && !IsInterruptError(err) {
		itelemetry.RecordError(span, err)
	}
	return update, err
}

func (r *runState) nextNode(ctx context.Context, from, gotoNode string) (string, error) {
	g := r.executor.graph
	if gotoNode != "" {
		if _, ok := g.Node(gotoNode); !ok && gotoNode != End {
			return "", fmt.Errorf("node %s routed to unknown node %s", from, gotoNode)
		}
		return gotoNode, nil
	}
	if ce, ok := g.ConditionalEdge(from); ok {
		result, err := ce.Condition(ctx, r.state)
		if err != nil {
			return "", fmt.Errorf("conditional edge evaluation failed: %w", err)
		}
		if ce.PathMap == nil {
			return result, nil
		}
		next, ok := ce.PathMap[result]
		if !ok {
			return "", fmt.Errorf("condition result %s not found in path map", result)
		}
		return next, nil
	}
	if edges := g.Edges(from); len(edges) > 0 {
		return edges[0].To, nil
	}
	return End, nil
}

// suspend records the interrupt raised by node. A nested graph has already
// stored its own checkpoint; this level stores the node to re-enter.
func (r *runState) suspend(ctx context.Context, nodeID string, ie *InterruptError) error {
	out := &InterruptError{
		Value:     ie.Value,
		NodeID:    nodeID,
		TaskID:    ie.TaskID,
		Namespace: r.ec.Namespace,
		Step:      r.step,
		Timestamp: ie.Timestamp,
	}
	is := &InterruptState{NodeID: nodeID, TaskID: ie.TaskID, Value: ie.Value, Step: r.step}
	if len(ie.Checkpoints) > 0 {
		is.Subgraphs = maps.Clone(ie.Checkpoints)
	}
	if err := r.save(ctx, SourceInterrupt, []string{nodeID}, is, r.ec.takeWrites()); err != nil {
		return err
	}
	out.Checkpoints = maps.Clone(ie.Checkpoints)
	if out.Checkpoints == nil {
		out.Checkpoints = make(map[string]string, 1)
	}
	out.Checkpoints[r.ec.Namespace] = r.parentID
	log.Debugf("run %s/%s interrupted at %s (task %s)", r.ec.LineageID, r.ec.Namespace, nodeID, ie.TaskID)
	return out
}

func (r *runState) breakpoint(ctx context.Context, nodeID, taskID string) error {
	is := &InterruptState{NodeID: nodeID, TaskID: taskID, Step: r.step}
	if err := r.save(ctx, SourceInterrupt, []string{nodeID}, is, nil); err != nil {
		return err
	}
	return &InterruptError{
		NodeID: nodeID, TaskID: taskID, Namespace: r.ec.Namespace, Step: r.step,
		Checkpoints: map[string]string{r.ec.Namespace: r.parentID},
	}
}

// save writes a checkpoint and emits the state snapshot. Nothing is written
// once ctx is done.
func (r *runState) save(
	ctx context.Context,
	source string,
	next []string,
	is *InterruptState,
	writes []PendingWrite,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ec.saver != nil {
		ckpt := NewCheckpoint(r.state, r.parentID, next)
		ckpt.InterruptState = is
		ckpt.PendingWrites = writes
		meta := NewCheckpointMetadata(source, r.step)
		if r.parentID != "" {
			meta.Parents[r.ec.Namespace] = r.parentID
		}
		if _, err := r.ec.saver.Put(ctx, PutRequest{
			Config:     CreateCheckpointConfig(r.ec.LineageID, "", r.ec.Namespace),
			Checkpoint: ckpt,
			Metadata:   meta,
		}); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		r.parentID = ckpt.ID
	}
	return r.emit(event.NewValuesEvent(r.state.Messages))
}

func (r *runState) emit(e *event.Event) error {
	if r.ec.emit == nil {
		return nil
	}
	if e.Namespace == "" {
		e.Namespace = r.ec.Namespace
	}
	return r.ec.emit(e)
}
