//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint storage implementation
// for graph execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"lineage_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT NOT NULL DEFAULT '', " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"PRIMARY KEY (lineage_id, checkpoint_ns, checkpoint_id)" +
		")"

	sqliteCreateIndex = "CREATE INDEX IF NOT EXISTS idx_checkpoints_ts " +
		"ON checkpoints (lineage_id, checkpoint_ns, ts DESC, checkpoint_id DESC)"

	sqliteInsertCheckpoint = "INSERT INTO checkpoints (" +
		"lineage_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, " +
		"checkpoint_json, metadata_json) VALUES (?, ?, ?, ?, ?, ?, ?)"

	sqliteSelectExists = "SELECT 1 FROM checkpoints " +
		"WHERE lineage_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	sqliteSelectUsedID = "SELECT 1 FROM checkpoints WHERE lineage_id = ? AND checkpoint_id = ? LIMIT 1"

	sqliteSelectLatest = "SELECT checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE lineage_id = ? AND checkpoint_ns = ? " +
		"ORDER BY ts DESC, checkpoint_id DESC LIMIT 1"

	sqliteSelectByID = "SELECT checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE lineage_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	sqliteSelectAll = "SELECT checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE lineage_id = ? AND checkpoint_ns = ? " +
		"ORDER BY ts DESC, checkpoint_id DESC"

	sqliteDeleteLineage = "DELETE FROM checkpoints WHERE lineage_id = ?"
)

// Saver is a SQLite-backed implementation of CheckpointSaver.
// It expects an initialized *sql.DB and will create the required schema.
// Checkpoints and metadata are stored as JSON blobs.
type Saver struct {
	db *sql.DB
}

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateIndex); err != nil {
		return nil, fmt.Errorf("create checkpoints index: %w", err)
	}
	return &Saver{db: db}, nil
}

// Get returns the checkpoint for the given config.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	t, err := s.GetTuple(ctx, config)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Checkpoint, nil
}

// GetTuple returns the checkpoint tuple for the given config, or the latest
// one of the namespace when the config names no checkpoint.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	ns := graph.GetNamespace(config)
	checkpointID := graph.GetCheckpointID(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, sqliteSelectLatest, lineageID, ns)
	} else {
		row = s.db.QueryRowContext(ctx, sqliteSelectByID, lineageID, ns, checkpointID)
	}
	var ckptJSON, metaJSON []byte
	if err := row.Scan(&ckptJSON, &metaJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return buildTuple(lineageID, ns, ckptJSON, metaJSON)
}

// List returns checkpoints of the lineage and namespace, newest first.
func (s *Saver) List(
	ctx context.Context,
	config map[string]any,
	filter *graph.CheckpointFilter,
) ([]*graph.CheckpointTuple, error) {
	lineageID := graph.GetLineageID(config)
	ns := graph.GetNamespace(config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectAll, lineageID, ns)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var tuples []*graph.CheckpointTuple
	for rows.Next() {
		var ckptJSON, metaJSON []byte
		if err := rows.Scan(&ckptJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		t, err := buildTuple(lineageID, ns, ckptJSON, metaJSON)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter checkpoints: %w", err)
	}
	return graph.ApplyFilter(tuples, filter), nil
}

// Put stores a checkpoint. The parent check and the insert run in one
// transaction.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	lineageID := graph.GetLineageID(req.Config)
	ns := graph.GetNamespace(req.Config)
	if lineageID == "" {
		return nil, graph.ErrLineageIDRequired
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	meta := req.Metadata
	if meta == nil {
		meta = graph.NewCheckpointMetadata(graph.SourceUpdate, -1)
	}
	ckptJSON, err := json.Marshal(req.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var used int
	err = tx.QueryRowContext(ctx, sqliteSelectUsedID, lineageID, req.Checkpoint.ID).Scan(&used)
	switch {
	case err == nil:
		return nil, fmt.Errorf("checkpoint %s: %w", req.Checkpoint.ID, graph.ErrCheckpointExists)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("select checkpoint id: %w", err)
	}
	if parentID := req.Checkpoint.ParentID; parentID != "" {
		var one int
		err := tx.QueryRowContext(ctx, sqliteSelectExists, lineageID, ns, parentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %s: %w: %s", req.Checkpoint.ID, graph.ErrParentNotFound, parentID)
		}
		if err != nil {
			return nil, fmt.Errorf("select parent: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertCheckpoint,
		lineageID, ns, req.Checkpoint.ID, req.Checkpoint.ParentID,
		req.Checkpoint.Timestamp.UnixNano(), ckptJSON, metaJSON,
	); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkpoint: %w", err)
	}
	return graph.CreateCheckpointConfig(lineageID, req.Checkpoint.ID, ns), nil
}

// DeleteLineage removes every checkpoint of the lineage.
func (s *Saver) DeleteLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return graph.ErrLineageIDRequired
	}
	if _, err := s.db.ExecContext(ctx, sqliteDeleteLineage, lineageID); err != nil {
		return fmt.Errorf("delete lineage: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Saver) Close() error {
	return s.db.Close()
}

func buildTuple(lineageID, ns string, ckptJSON, metaJSON []byte) (*graph.CheckpointTuple, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(ckptJSON, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var meta graph.CheckpointMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if meta.Parents == nil {
		meta.Parents = make(map[string]string)
	}
	if meta.Extra == nil {
		meta.Extra = make(map[string]any)
	}
	return graph.NewTuple(lineageID, ns, &ckpt, &meta), nil
}
