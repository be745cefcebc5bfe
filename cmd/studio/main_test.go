//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/config"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
)

func TestOpenSaver(t *testing.T) {
	mr := miniredis.RunT(t)
	cases := map[string]config.CheckpointConfig{
		"memory": {Backend: config.BackendMemory},
		"sqlite": {Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "checkpoints.db")},
		"redis":  {Backend: config.BackendRedis, URL: "redis://" + mr.Addr(), KeyPrefix: "test"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			saver, err := openSaver(cfg)
			require.NoError(t, err)
			defer saver.Close()

			ctx := context.Background()
			ckpt := graph.NewCheckpoint(graph.State{}, "", nil)
			_, err = saver.Put(ctx, graph.PutRequest{
				Config:     graph.CreateCheckpointConfig("t1", "", ""),
				Checkpoint: ckpt,
				Metadata:   graph.NewCheckpointMetadata(graph.SourceInput, -1),
			})
			require.NoError(t, err)
			tuple, err := saver.GetTuple(ctx, graph.CreateCheckpointConfig("t1", "", ""))
			require.NoError(t, err)
			require.NotNil(t, tuple)
			assert.Equal(t, ckpt.ID, tuple.Checkpoint.ID)
		})
	}

	_, err := openSaver(config.CheckpointConfig{Backend: "etcd"})
	assert.Error(t, err)
}
