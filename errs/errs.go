//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package errs defines the error categories surfaced to clients. Component
// packages declare their own errors and make them match one of the
// category sentinels below through errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrExecution  = errors.New("execution failed")
	ErrCancelled  = errors.New("cancelled")
)

// NotFoundError reports a missing thread, agent, checkpoint or entity.
type NotFoundError struct {
	Kind string
	ID   string
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a malformed request payload.
type ValidationError struct {
	Msg   string
	Cause error
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Cause }

// ConflictError reports a request that clashes with current state, such
// as a second run on a busy thread.
type ConflictError struct {
	Msg string
}

// Conflict builds a ConflictError from a format string.
func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string { return e.Msg }

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ExecutionError wraps a model or tool failure not otherwise classified.
type ExecutionError struct {
	Cause error
}

// Execution wraps cause. A nil cause yields nil.
func Execution(cause error) error {
	if cause == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(cause, &ee) {
		return cause
	}
	return &ExecutionError{Cause: cause}
}

func (e *ExecutionError) Error() string { return e.Cause.Error() }

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Kind returns the category name of err: "not_found", "validation",
// "conflict", "cancelled" or "execution" for anything else.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "execution"
	}
}
