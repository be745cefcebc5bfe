//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanNameHelpers(t *testing.T) {
	assert.Equal(t, "execute_tool add", NewExecuteToolSpanName("add"))
	assert.Equal(t, "execute_node agent", NewExecuteNodeSpanName("agent"))
}

func TestNewGRPCConn(t *testing.T) {
	conn, err := NewGRPCConn("localhost:4317")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.NoError(t, conn.Close())
}
