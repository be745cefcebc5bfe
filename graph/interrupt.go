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
	"time"
)

// InterruptError represents an interrupt in graph execution that can be resumed.
type InterruptError struct {
	// Value is the value that was passed to Interrupt.
	Value any
	// NodeID is the ID of the node where the interrupt occurred.
	NodeID string
	// TaskID keys the resume value.
	TaskID string
	// Namespace is the checkpoint namespace of the interrupted graph.
	Namespace string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
	// Checkpoints maps each namespace the interrupt passed through to the
	// checkpoint stored there.
	Checkpoints map[string]string
}

// Error returns the error message for the interrupt.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (task %s)", e.NodeID, e.TaskID)
}

// ResumeCommand carries human decisions into a suspended run.
type ResumeCommand struct {
	// Resume answers the pending interrupt, whatever its id.
	Resume any
	// ResumeMap answers interrupts by id.
	ResumeMap map[string]any
}

// NewInterruptError creates an interrupt keyed by taskID.
func NewInterruptError(taskID string, value any) *InterruptError {
	return &InterruptError{
		Value:     value,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	}
}

// IsInterruptError reports whether err is or wraps an InterruptError.
func IsInterruptError(err error) bool {
	_, ok := GetInterruptError(err)
	return ok
}

// GetInterruptError extracts the InterruptError from err.
func GetInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// Interrupt suspends the running node until a human answers. The first call
// for key returns an *InterruptError carrying value; once the run is resumed
// with a value for key, the re-executed node receives it instead.
func Interrupt(ctx context.Context, key string, value any) (any, error) {
	ec, ok := ExecutionContextFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("interrupt %s: %w", key, ErrNoExecutionContext)
	}
	if v, ok := ec.takeResume(key); ok {
		return v, nil
	}
	return nil, NewInterruptError(key, value)
}
