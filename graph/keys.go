//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

// Keys of a checkpoint config. Everything sits under the configurable map,
// the shape the chat UI echoes back in run requests.
const (
	CfgKeyConfigurable = "configurable"
	CfgKeyLineageID    = "lineage_id"
	CfgKeyCheckpointID = "checkpoint_id"
	CfgKeyCheckpointNS = "checkpoint_ns"
)

// Sources recorded in checkpoint metadata: the input checkpoint of a run,
// one per completed step, one per suspension, and one for direct writes.
const (
	SourceInput     = "input"
	SourceLoop      = "loop"
	SourceInterrupt = "interrupt"
	SourceUpdate    = "update"
)

// ChannelMessages is the only state channel; pending writes carry messages.
const ChannelMessages = "messages"

// Virtual routing endpoints.
const (
	Start = "__start__"
	End   = "__end__"
)

// NamespaceSeparator joins the node names of nested graphs into a
// checkpoint namespace, e.g. "Team|Math_Agent".
const NamespaceSeparator = "|"
