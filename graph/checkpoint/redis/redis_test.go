//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/checkpointtest"
)

func buildRedisClientURL(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)
	return "redis://" + mr.Addr()
}

func newTestSaver(t *testing.T) *Saver {
	t.Helper()
	saver, err := NewSaver(WithRedisClientURL(buildRedisClientURL(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = saver.Close() })
	return saver
}

func TestContract(t *testing.T) {
	checkpointtest.Run(t, func(t *testing.T) graph.CheckpointSaver { return newTestSaver(t) })
}

func TestNewSaverErrors(t *testing.T) {
	_, err := NewSaver()
	assert.Error(t, err)
	_, err = NewSaver(WithRedisClientURL("://bad"))
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	saver, err := NewSaver(WithRedisClientURL("redis://"+mr.Addr()), WithKeyPrefix("x:"))
	require.NoError(t, err)
	defer saver.Close()

	checkpointtest.Put(t, saver, "l1", "", "", "a")
	assert.True(t, mr.Exists("x:ckpt:{l1}:"))
	assert.True(t, mr.Exists("x:ckpt:{l1}#ns"))

	require.NoError(t, saver.DeleteLineage(context.Background(), "l1"))
	assert.False(t, mr.Exists("x:ckpt:{l1}:"))
	assert.False(t, mr.Exists("x:ckpt:{l1}#ns"))
}
