//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package model defines the model-invocation capability the execution graph
// is bound to, and the message types flowing through it.
package model

import "context"

// Model generates content for a request. The returned channel yields zero
// or more partial responses followed by one final response and is closed
// by the implementation. Failures after the call starts are delivered as a
// response with Error set.
type Model interface {
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)
	Info() Info
}

// Info identifies a model.
type Info struct {
	Name     string
	Provider string
}
