//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage implementation
// for graph execution state persistence and recovery.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
)

// Saver provides an in-memory implementation of CheckpointSaver.
// This is suitable for testing and debugging but not for production use.
type Saver struct {
	mu      sync.RWMutex
	storage map[string]map[string]map[string]*graph.CheckpointTuple // lineageID -> namespace -> checkpointID -> tuple
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		storage: make(map[string]map[string]map[string]*graph.CheckpointTuple),
	}
}

// Get retrieves a checkpoint by configuration.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil || tuple == nil {
		return nil, err
	}
	return tuple.Checkpoint, nil
}

// GetTuple retrieves a checkpoint tuple by configuration.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)
	checkpointID := graph.GetCheckpointID(config)

	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoints := s.storage[lineageID][namespace]
	if checkpointID != "" {
		if t, ok := checkpoints[checkpointID]; ok {
			return copyTuple(t), nil
		}
		return nil, nil
	}
	var latest *graph.CheckpointTuple
	for _, t := range checkpoints {
		if latest == nil || graph.Newer(t.Checkpoint, latest.Checkpoint) {
			latest = t
		}
	}
	return copyTuple(latest), nil
}

// List retrieves checkpoints of one lineage and namespace, newest first.
func (s *Saver) List(ctx context.Context, config map[string]any, filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	namespace := graph.GetNamespace(config)

	s.mu.RLock()
	tuples := make([]*graph.CheckpointTuple, 0, len(s.storage[lineageID][namespace]))
	for _, t := range s.storage[lineageID][namespace] {
		tuples = append(tuples, copyTuple(t))
	}
	s.mu.RUnlock()
	return graph.ApplyFilter(tuples, filter), nil
}

// Put stores a checkpoint.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	lineageID := graph.GetLineageID(req.Config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(req.Config)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage[lineageID] == nil {
		s.storage[lineageID] = make(map[string]map[string]*graph.CheckpointTuple)
	}
	for _, byID := range s.storage[lineageID] {
		if _, ok := byID[req.Checkpoint.ID]; ok {
			return nil, fmt.Errorf("checkpoint %s: %w", req.Checkpoint.ID, graph.ErrCheckpointExists)
		}
	}
	checkpoints := s.storage[lineageID][namespace]
	if checkpoints == nil {
		checkpoints = make(map[string]*graph.CheckpointTuple)
		s.storage[lineageID][namespace] = checkpoints
	}
	if parentID := req.Checkpoint.ParentID; parentID != "" {
		if _, ok := checkpoints[parentID]; !ok {
			return nil, fmt.Errorf("checkpoint %s: %w: %s", req.Checkpoint.ID, graph.ErrParentNotFound, parentID)
		}
	}
	meta := req.Metadata
	if meta == nil {
		meta = graph.NewCheckpointMetadata(graph.SourceUpdate, 0)
	}
	tuple := graph.NewTuple(lineageID, namespace, req.Checkpoint.Copy(), copyMetadata(meta))
	checkpoints[req.Checkpoint.ID] = tuple
	return graph.CreateCheckpointConfig(lineageID, req.Checkpoint.ID, namespace), nil
}

// DeleteLineage removes all checkpoints for a lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, lineageID)
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = make(map[string]map[string]map[string]*graph.CheckpointTuple)
	return nil
}

func copyTuple(t *graph.CheckpointTuple) *graph.CheckpointTuple {
	if t == nil {
		return nil
	}
	ckpt := t.Checkpoint.Copy()
	lineageID := graph.GetLineageID(t.Config)
	namespace := graph.GetNamespace(t.Config)
	return graph.NewTuple(lineageID, namespace, ckpt, copyMetadata(t.Metadata))
}

func copyMetadata(m *graph.CheckpointMetadata) *graph.CheckpointMetadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Parents = make(map[string]string, len(m.Parents))
	for k, v := range m.Parents {
		out.Parents[k] = v
	}
	out.Extra = make(map[string]any, len(m.Extra))
	for k, v := range m.Extra {
		out.Extra[k] = v
	}
	return &out
}
