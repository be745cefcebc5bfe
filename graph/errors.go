//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

// Errors.
var (
	ErrLineageIDRequired  = errors.New("lineage_id is required")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrParentNotFound     = errors.New("parent checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint id already used in lineage")
	ErrNotInterrupted     = errors.New("checkpoint has no pending interrupt")
	ErrPendingInterrupt   = errors.New("checkpoint has a pending interrupt")
	ErrEntryPointNotSet   = errors.New("entry point is not set")
	ErrMaxStepsExceeded   = errors.New("maximum execution steps exceeded")
	ErrNoExecutionContext = errors.New("called outside graph execution")
)
