//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package hitl puts a human reviewer in front of a tool. A wrapped tool
// suspends the run on every call and acts on the reviewer's decision once
// the run is resumed.
package hitl

import (
	"context"
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// Decision types.
const (
	DecisionAccept   = "accept"
	DecisionEdit     = "edit"
	DecisionResponse = "response"
	DecisionIgnore   = "ignore"
)

const (
	// DefaultDescription is shown to the reviewer.
	DefaultDescription = "Please review the tool call"
	// IgnoredResult is the tool result of an ignored call.
	IgnoredResult = "Tool is not available for use."
)

// Config lists the decisions a reviewer may take.
type Config struct {
	AllowAccept  bool `json:"allow_accept"`
	AllowEdit    bool `json:"allow_edit"`
	AllowRespond bool `json:"allow_respond"`
	AllowIgnore  bool `json:"allow_ignore"`
}

// DefaultConfig allows every decision.
var DefaultConfig = Config{AllowAccept: true, AllowEdit: true, AllowRespond: true, AllowIgnore: true}

// ActionRequest is the tool call under review.
type ActionRequest struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

// HumanInterrupt is the payload shown to the reviewer.
type HumanInterrupt struct {
	ActionRequest ActionRequest `json:"action_request"`
	Config        Config        `json:"config"`
	Description   string        `json:"description"`
}

// Decision is the reviewer's answer.
type Decision struct {
	Type string `json:"type"`
	Args any    `json:"args,omitempty"`
}

// UnsupportedDecisionError reports a decision type that is unknown or not
// allowed for the interrupt.
type UnsupportedDecisionError struct {
	Type string
}

func (e *UnsupportedDecisionError) Error() string {
	return fmt.Sprintf("unsupported interrupt response type: %s", e.Type)
}

// Is matches errs.ErrValidation.
func (e *UnsupportedDecisionError) Is(target error) bool { return target == errs.ErrValidation }

// Option configures the wrapper.
type Option func(*options)

type options struct {
	config      Config
	description string
}

// WithConfig sets the allowed decisions (default: all).
func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithDescription sets the text shown to the reviewer.
func WithDescription(description string) Option {
	return func(o *options) { o.description = description }
}

type reviewedTool struct {
	inner tool.CallableTool
	opts  options
}

// Wrap decorates t so that every call waits for a human decision. The
// wrapper keeps t's declaration. It must run inside a graph node with the
// tool call id set through tool.WithCallID.
func Wrap(t tool.CallableTool, opts ...Option) tool.CallableTool {
	o := options{config: DefaultConfig, description: DefaultDescription}
	for _, opt := range opts {
		opt(&o)
	}
	return &reviewedTool{inner: t, opts: o}
}

// Declaration implements tool.Tool.
func (r *reviewedTool) Declaration() *tool.Declaration { return r.inner.Declaration() }

// Call implements tool.CallableTool.
func (r *reviewedTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	callID, ok := tool.CallIDFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("tool %s: reviewed call without a call id", r.inner.Declaration().Name)
	}
	args := map[string]any{}
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return nil, fmt.Errorf("tool %s: decode arguments: %w", r.inner.Declaration().Name, err)
		}
	}
	request := []HumanInterrupt{{
		ActionRequest: ActionRequest{Action: r.inner.Declaration().Name, Args: args},
		Config:        r.opts.config,
		Description:   r.opts.description,
	}}
	answer, err := graph.Interrupt(ctx, callID, request)
	if err != nil {
		return nil, err
	}
	d, err := ParseDecision(answer)
	if err != nil {
		return nil, err
	}
	if err := ValidateDecision(d, r.opts.config); err != nil {
		return nil, err
	}
	log.Debugf("tool %s call %s reviewed: %s", r.inner.Declaration().Name, callID, d.Type)

	switch d.Type {
	case DecisionAccept:
		return r.inner.Call(ctx, jsonArgs)
	case DecisionEdit:
		edited, err := json.Marshal(EditedArgs(d))
		if err != nil {
			return nil, fmt.Errorf("encode edited arguments: %w", err)
		}
		return r.inner.Call(ctx, edited)
	case DecisionResponse:
		return ResponseText(d), nil
	default:
		return IgnoredResult, nil
	}
}

// ParseDecision decodes a resume value. A list yields its first element.
func ParseDecision(v any) (Decision, error) {
	switch d := v.(type) {
	case Decision:
		return d, nil
	case *Decision:
		if d != nil {
			return *d, nil
		}
	}
	raw, err := toJSON(v)
	if err != nil {
		return Decision{}, &errs.ValidationError{Msg: "decode resume payload", Cause: err}
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		if len(list) == 0 {
			return Decision{}, errs.Validation("resume payload is an empty list")
		}
		raw = list[0]
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, &errs.ValidationError{Msg: "decode resume payload", Cause: err}
	}
	if d.Type == "" {
		return Decision{}, errs.Validation("resume payload has no type")
	}
	return d, nil
}

// ValidateDecision checks d against what the interrupt allows: the type
// must be known and enabled, edit needs an args object and response needs
// text.
func ValidateDecision(d Decision, cfg Config) error {
	var allowed bool
	switch d.Type {
	case DecisionAccept:
		allowed = cfg.AllowAccept
	case DecisionEdit:
		allowed = cfg.AllowEdit
	case DecisionResponse:
		allowed = cfg.AllowRespond
	case DecisionIgnore:
		allowed = cfg.AllowIgnore
	}
	if !allowed {
		return &UnsupportedDecisionError{Type: d.Type}
	}
	switch d.Type {
	case DecisionEdit:
		args, ok := d.Args.(map[string]any)
		if !ok {
			return errs.Validation("edit decision needs an args object")
		}
		if inner, isRequest := args["args"]; isRequest {
			if _, ok := inner.(map[string]any); !ok {
				return errs.Validation("edit decision needs an args object")
			}
		}
	case DecisionResponse:
		if s, ok := d.Args.(string); !ok || s == "" {
			return errs.Validation("response decision needs text")
		}
	}
	return nil
}

// EditedArgs returns the arguments an edit decision calls the tool with:
// args.args when args is an action request, args itself otherwise.
func EditedArgs(d Decision) map[string]any {
	args, _ := d.Args.(map[string]any)
	if inner, ok := args["args"].(map[string]any); ok {
		return inner
	}
	return args
}

// ResponseText returns the reviewer's reply of a response decision.
func ResponseText(d Decision) string {
	if s, ok := d.Args.(string); ok {
		return s
	}
	raw, _ := json.Marshal(d.Args)
	return string(raw)
}

// ParseInterrupt decodes the payload recorded by a reviewed call.
func ParseInterrupt(v any) (HumanInterrupt, error) {
	raw, err := toJSON(v)
	if err != nil {
		return HumanInterrupt{}, err
	}
	var list []HumanInterrupt
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return HumanInterrupt{}, fmt.Errorf("empty interrupt payload")
		}
		return list[0], nil
	}
	var hi HumanInterrupt
	if err := json.Unmarshal(raw, &hi); err != nil {
		return HumanInterrupt{}, fmt.Errorf("decode interrupt payload: %w", err)
	}
	return hi, nil
}

func toJSON(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	}
	return json.Marshal(v)
}
