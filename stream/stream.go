//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package stream turns a run's internal events into server-sent event
// frames for the chat UI.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/log"
)

// Frame kinds.
const (
	KindMetadata = "metadata"
	KindMessages = "messages"
	KindValues   = "values"
	KindCustom   = "custom"
	KindError    = "error"
)

// Stream modes a client may request.
const (
	ModeValues        = "values"
	ModeMessages      = "messages"
	ModeMessagesTuple = "messages-tuple"
	ModeCustom        = "custom"
)

// DefaultModes are used when a request names none.
var DefaultModes = []string{ModeValues, ModeMessagesTuple, ModeCustom}

// DefaultInterval is the default minimum spacing of frames.
const DefaultInterval = 10 * time.Millisecond

// InterruptKey carries pending interrupts in a values frame.
const InterruptKey = "__interrupt__"

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithInterval sets the minimum spacing of frames; 0 disables pacing.
func WithInterval(d time.Duration) WriterOption {
	return func(w *Writer) { w.interval = d }
}

// Writer writes numbered SSE frames. Ids start at 0 and have no gaps.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	flusher  http.Flusher
	interval time.Duration
	limiter  *rate.Limiter
	next     int
}

// NewWriter wraps w. If w is an http.Flusher every frame is flushed.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	sw := &Writer{w: w, interval: DefaultInterval}
	for _, opt := range opts {
		opt(sw)
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	if sw.interval > 0 {
		sw.limiter = rate.NewLimiter(rate.Every(sw.interval), 1)
	}
	return sw
}

// SetHeaders sets the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// WriteFrame encodes data as JSON and writes one frame. It waits for the
// pacing limiter first.
func (w *Writer) WriteFrame(ctx context.Context, kind string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\nid: %d\n\n", kind, payload, w.next); err != nil {
		return err
	}
	w.next++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Session describes the run being streamed.
type Session struct {
	RunID string
	Modes []string
	// Subgraphs also streams the state of nested graphs.
	Subgraphs bool
	// Envelope is the metadata attached to message frames.
	Envelope map[string]any
}

func (s Session) wants(modes ...string) bool {
	for _, m := range modes {
		if slices.Contains(s.Modes, m) {
			return true
		}
	}
	return false
}

// Pump writes the metadata frame and then one frame per event the session's
// modes select. Interrupt and error events are always written. When a write
// fails the remaining events are discarded until the channel closes or ctx
// ends.
func Pump(ctx context.Context, w *Writer, s Session, events <-chan *event.Event) error {
	if len(s.Modes) == 0 {
		s.Modes = DefaultModes
	}
	err := w.WriteFrame(ctx, KindMetadata, map[string]any{"run_id": s.RunID, "attempt": 1})
	if err == nil {
		for e := range events {
			if err = writeEvent(ctx, w, s, e); err != nil {
				break
			}
		}
	}
	if err != nil {
		log.Debugf("stream of run %s stopped: %v", s.RunID, err)
		discard(ctx, events)
	}
	return err
}

func writeEvent(ctx context.Context, w *Writer, s Session, e *event.Event) error {
	switch e.Kind {
	case event.KindMessage:
		if e.Message == nil || !s.wants(ModeMessagesTuple, ModeMessages) {
			return nil
		}
		return w.WriteFrame(ctx, KindMessages, []any{
			SerializeMessage(*e.Message, e.IsPartial),
			withNode(s.Envelope, e.Author, e.Namespace),
		})
	case event.KindValues:
		if !s.wants(ModeValues) {
			return nil
		}
		if e.Namespace == "" {
			return w.WriteFrame(ctx, KindValues, SerializeState(e.Values))
		}
		if s.Subgraphs {
			return w.WriteFrame(ctx, KindValues+"|"+e.Namespace, SerializeState(e.Values))
		}
		return nil
	case event.KindCustom:
		if !s.wants(ModeCustom) {
			return nil
		}
		return w.WriteFrame(ctx, KindCustom, e.Custom)
	case event.KindInterrupt:
		return w.WriteFrame(ctx, KindValues, map[string]any{
			InterruptKey: []map[string]any{{"value": e.Interrupt.Value, "id": e.Interrupt.ID}},
		})
	case event.KindError:
		return w.WriteFrame(ctx, KindError, e.Error)
	}
	return nil
}

func discard(ctx context.Context, events <-chan *event.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
