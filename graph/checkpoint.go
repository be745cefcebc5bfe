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
	"fmt"
	"maps"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-studio/model"
)

const (
	// CheckpointVersion is the current version of the checkpoint format.
	CheckpointVersion = 1
	// DefaultCheckpointNamespace is the namespace of the top-level graph.
	DefaultCheckpointNamespace = ""
)

// Checkpoint is a snapshot of graph state. Checkpoints of one lineage and
// namespace form a tree through ParentID.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is a UUIDv7, so ids sort in creation order.
	ID string `json:"id"`
	// ParentID is empty for a root.
	ParentID  string    `json:"parent_checkpoint_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Values    State     `json:"channel_values"`
	// NextNodes lists the nodes that run next. It is empty once the graph
	// reached End.
	NextNodes []string `json:"next_nodes,omitempty"`
	// InterruptState is set when execution suspended at this checkpoint.
	InterruptState *InterruptState `json:"interrupt_state,omitempty"`
	// PendingWrites holds results already produced by the suspended step.
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`
}

// InterruptState represents the state of an interrupted execution.
type InterruptState struct {
	// NodeID is the ID of the node where execution was interrupted.
	NodeID string `json:"node_id"`
	// TaskID keys the resume value.
	TaskID string `json:"task_id"`
	// Value is the value that was passed to Interrupt.
	Value any `json:"interrupt_value"`
	// Step is the step number when the interrupt occurred.
	Step int `json:"step"`
	// Subgraphs maps the namespaces of nested graphs suspended with this
	// interrupt to their interrupted checkpoint IDs.
	Subgraphs map[string]string `json:"subgraphs,omitempty"`
}

// PendingWrite is a completed result of a step that did not finish.
type PendingWrite struct {
	TaskID  string        `json:"task_id"`
	Channel string        `json:"channel"`
	Value   model.Message `json:"value"`
}

// CheckpointMetadata contains metadata about a checkpoint.
type CheckpointMetadata struct {
	// Source indicates how the checkpoint was created.
	Source string `json:"source"`
	// Step counts steps within the lineage and namespace.
	Step int `json:"step"`
	// Parents maps checkpoint namespaces to parent checkpoint IDs.
	Parents map[string]string `json:"parents"`
	Extra   map[string]any    `json:"extra,omitempty"`
}

// CheckpointTuple wraps a checkpoint with its configuration and metadata.
type CheckpointTuple struct {
	Config       map[string]any      `json:"config"`
	Checkpoint   *Checkpoint         `json:"checkpoint"`
	Metadata     *CheckpointMetadata `json:"metadata"`
	ParentConfig map[string]any      `json:"parent_config,omitempty"`
}

// PutRequest contains all data needed to store a checkpoint.
type PutRequest struct {
	Config     map[string]any
	Checkpoint *Checkpoint
	Metadata   *CheckpointMetadata
}

// CheckpointFilter narrows List.
type CheckpointFilter struct {
	// Before keeps only checkpoints older than this checkpoint id.
	Before string `json:"before,omitempty"`
	// Limit caps the result size. Zero means no limit.
	Limit int `json:"limit,omitempty"`
	// Metadata keeps checkpoints whose Extra contains every pair.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CheckpointSaver stores checkpoint trees. Implementations serialize writes
// per lineage and validate that a parent exists in the same lineage and
// namespace.
type CheckpointSaver interface {
	// Get retrieves a checkpoint by configuration.
	Get(ctx context.Context, config map[string]any) (*Checkpoint, error)
	// GetTuple returns the checkpoint named by config, or the latest one
	// of the lineage and namespace when no id is given. A miss is (nil, nil).
	GetTuple(ctx context.Context, config map[string]any) (*CheckpointTuple, error)
	// List returns checkpoints newest first.
	List(ctx context.Context, config map[string]any, filter *CheckpointFilter) ([]*CheckpointTuple, error)
	// Put stores a checkpoint and returns its config.
	Put(ctx context.Context, req PutRequest) (map[string]any, error)
	// DeleteLineage removes every checkpoint of a lineage in all namespaces.
	DeleteLineage(ctx context.Context, lineageID string) error
	// Close releases resources held by the saver.
	Close() error
}

// NewCheckpoint creates a checkpoint with a fresh time-ordered id.
func NewCheckpoint(values State, parentID string, next []string) *Checkpoint {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Checkpoint{
		Version:   CheckpointVersion,
		ID:        id.String(),
		ParentID:  parentID,
		Timestamp: time.Now().UTC(),
		Values:    values.Clone(),
		NextNodes: append([]string(nil), next...),
	}
}

// NewCheckpointMetadata creates new checkpoint metadata.
func NewCheckpointMetadata(source string, step int) *CheckpointMetadata {
	return &CheckpointMetadata{
		Source:  source,
		Step:    step,
		Parents: make(map[string]string),
		Extra:   make(map[string]any),
	}
}

// IsInterrupted reports whether execution suspended at c.
func (c *Checkpoint) IsInterrupted() bool {
	return c != nil && c.InterruptState != nil
}

// Copy returns a deep copy of c.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Values = c.Values.Clone()
	out.NextNodes = append([]string(nil), c.NextNodes...)
	out.PendingWrites = append([]PendingWrite(nil), c.PendingWrites...)
	if c.InterruptState != nil {
		is := *c.InterruptState
		is.Subgraphs = maps.Clone(is.Subgraphs)
		out.InterruptState = &is
	}
	return &out
}

// CreateCheckpointConfig builds the config map naming one checkpoint.
func CreateCheckpointConfig(lineageID, checkpointID, namespace string) map[string]any {
	configurable := map[string]any{
		CfgKeyLineageID:    lineageID,
		CfgKeyCheckpointNS: namespace,
	}
	if checkpointID != "" {
		configurable[CfgKeyCheckpointID] = checkpointID
	}
	return map[string]any{CfgKeyConfigurable: configurable}
}

func configurable(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	c, _ := config[CfgKeyConfigurable].(map[string]any)
	return c
}

func configString(config map[string]any, key string) string {
	s, _ := configurable(config)[key].(string)
	return s
}

// GetLineageID extracts the lineage id from config.
func GetLineageID(config map[string]any) string { return configString(config, CfgKeyLineageID) }

// GetCheckpointID extracts the checkpoint id from config.
func GetCheckpointID(config map[string]any) string { return configString(config, CfgKeyCheckpointID) }

// GetNamespace extracts the checkpoint namespace from config.
func GetNamespace(config map[string]any) string { return configString(config, CfgKeyCheckpointNS) }

// NewTuple assembles the tuple savers return for a stored checkpoint.
func NewTuple(lineageID, namespace string, ckpt *Checkpoint, meta *CheckpointMetadata) *CheckpointTuple {
	t := &CheckpointTuple{
		Config:     CreateCheckpointConfig(lineageID, ckpt.ID, namespace),
		Checkpoint: ckpt,
		Metadata:   meta,
	}
	if ckpt.ParentID != "" {
		t.ParentConfig = CreateCheckpointConfig(lineageID, ckpt.ParentID, namespace)
	}
	return t
}

// Newer reports whether a sorts before b in newest-first order: by
// timestamp, then by id.
func Newer(a, b *Checkpoint) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// SortTuples orders tuples newest first.
func SortTuples(tuples []*CheckpointTuple) {
	sort.SliceStable(tuples, func(i, j int) bool {
		return Newer(tuples[i].Checkpoint, tuples[j].Checkpoint)
	})
}

// ApplyFilter sorts tuples newest first and applies filter.
func ApplyFilter(tuples []*CheckpointTuple, filter *CheckpointFilter) []*CheckpointTuple {
	SortTuples(tuples)
	if filter == nil {
		return tuples
	}
	var before *Checkpoint
	if filter.Before != "" {
		for _, t := range tuples {
			if t.Checkpoint.ID == filter.Before {
				before = t.Checkpoint
				break
			}
		}
	}
	out := make([]*CheckpointTuple, 0, len(tuples))
	for _, t := range tuples {
		if filter.Before != "" && (before == nil || !Newer(before, t.Checkpoint)) {
			continue
		}
		if !MatchMetadata(t.Metadata, filter.Metadata) {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// MatchMetadata reports whether meta carries every pair in want. The keys
// "source" and "step" match the typed fields.
func MatchMetadata(meta *CheckpointMetadata, want map[string]any) bool {
	for k, v := range want {
		if meta == nil {
			return false
		}
		switch k {
		case "source":
			if meta.Source != fmt.Sprint(v) {
				return false
			}
		case "step":
			if fmt.Sprint(meta.Step) != fmt.Sprint(v) {
				return false
			}
		default:
			if !reflect.DeepEqual(meta.Extra[k], v) {
				return false
			}
		}
	}
	return true
}
