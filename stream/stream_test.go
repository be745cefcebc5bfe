//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package stream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"trpc.group/trpc-go/trpc-agent-studio/event"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
)

type frame struct {
	kind string
	data json.RawMessage
	id   int
}

func parse(t interface{ Fatalf(string, ...any) }, raw string) []frame {
	var out []frame
	for _, block := range strings.Split(strings.TrimSuffix(raw, "\n\n"), "\n\n") {
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) != 3 {
			t.Fatalf("malformed frame %q", block)
		}
		id, err := strconv.Atoi(strings.TrimPrefix(lines[2], "id: "))
		if err != nil {
			t.Fatalf("bad id in %q", block)
		}
		out = append(out, frame{
			kind: strings.TrimPrefix(lines[0], "event: "),
			data: json.RawMessage(strings.TrimPrefix(lines[1], "data: ")),
			id:   id,
		})
	}
	return out
}

func feed(events ...*event.Event) <-chan *event.Event {
	ch := make(chan *event.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func session(modes ...string) stream.Session {
	return stream.Session{
		RunID:    "run-1",
		Modes:    modes,
		Envelope: stream.BuildEnvelope(stream.EnvelopeParams{RunID: "run-1", ThreadID: "t1", AssistantID: "a1"}),
	}
}

func sample() []*event.Event {
	user := model.NewUserMessage("2+2?")
	answer := model.Message{ID: "m2", Role: model.RoleAssistant, Content: "4"}
	return []*event.Event{
		event.NewValuesEvent([]model.Message{user}),
		event.NewMessageEvent(model.Message{ID: "m2", Role: model.RoleAssistant, Content: "4"}, true, event.WithAuthor("Math_Agent")),
		event.NewMessageEvent(answer, false, event.WithAuthor("Math_Agent")),
		event.NewValuesEvent([]model.Message{user, answer}),
		event.NewCustomEvent(map[string]any{"progress": 1}),
	}
}

func TestPumpDefaultModes(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf, stream.WithInterval(0))
	require.NoError(t, stream.Pump(context.Background(), w, session(), feed(sample()...)))

	frames := parse(t, buf.String())
	kinds := make([]string, len(frames))
	for i, f := range frames {
		kinds[i] = f.kind
		assert.Equal(t, i, f.id)
	}
	assert.Equal(t, []string{"metadata", "values", "messages", "messages", "values", "custom"}, kinds)
	assert.Equal(t, len(frames), w.Frames())

	var meta map[string]any
	require.NoError(t, json.Unmarshal(frames[0].data, &meta))
	assert.Equal(t, "run-1", meta["run_id"])
	assert.EqualValues(t, 1, meta["attempt"])

	var tuple []map[string]any
	require.NoError(t, json.Unmarshal(frames[2].data, &tuple))
	require.Len(t, tuple, 2)
	assert.Equal(t, "AIMessageChunk", tuple[0]["type"])
	assert.Equal(t, "Math_Agent", tuple[1]["langgraph_node"])
	assert.Equal(t, "t1", tuple[1]["thread_id"])

	var values map[string][]map[string]any
	require.NoError(t, json.Unmarshal(frames[4].data, &values))
	require.Len(t, values["messages"], 2)
	assert.Equal(t, "human", values["messages"][0]["type"])
	assert.Equal(t, "ai", values["messages"][1]["type"])
}

func TestPumpModeFiltering(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf, stream.WithInterval(0))
	require.NoError(t, stream.Pump(context.Background(), w, session(stream.ModeValues, "debug"), feed(sample()...)))
	var kinds []string
	for _, f := range parse(t, buf.String()) {
		kinds = append(kinds, f.kind)
	}
	assert.Equal(t, []string{"metadata", "values", "values"}, kinds)
}

func TestPumpTerminalEventsAlwaysSent(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf, stream.WithInterval(0))
	payload := []map[string]any{{"action_request": map[string]any{"action": "add"}}}
	require.NoError(t, stream.Pump(context.Background(), w, session(stream.ModeMessages),
		feed(event.NewInterruptEvent("call_1", "tools", payload))))
	frames := parse(t, buf.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "values", frames[1].kind)
	var v map[string][]map[string]any
	require.NoError(t, json.Unmarshal(frames[1].data, &v))
	require.Len(t, v[stream.InterruptKey], 1)
	assert.Equal(t, "call_1", v[stream.InterruptKey][0]["id"])

	buf.Reset()
	w = stream.NewWriter(&buf, stream.WithInterval(0))
	require.NoError(t, stream.Pump(context.Background(), w, session(stream.ModeValues),
		feed(event.NewErrorEvent("execution", "model unavailable"))))
	frames = parse(t, buf.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "error", frames[1].kind)
	assert.JSONEq(t, `{"error":"execution","message":"model unavailable"}`, string(frames[1].data))
}

func TestPumpSubgraphValues(t *testing.T) {
	sub := event.NewValuesEvent([]model.Message{model.NewUserMessage("hi")}, event.WithNamespace("Math_Agent"))
	var buf bytes.Buffer
	require.NoError(t, stream.Pump(context.Background(), stream.NewWriter(&buf, stream.WithInterval(0)),
		session(stream.ModeValues), feed(sub)))
	assert.Len(t, parse(t, buf.String()), 1)

	buf.Reset()
	s := session(stream.ModeValues)
	s.Subgraphs = true
	require.NoError(t, stream.Pump(context.Background(), stream.NewWriter(&buf, stream.WithInterval(0)), s, feed(sub)))
	frames := parse(t, buf.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "values|Math_Agent", frames[1].kind)
}

type failing struct{ after int }

func (f *failing) Write(p []byte) (int, error) {
	if f.after == 0 {
		return 0, errors.New("broken pipe")
	}
	f.after--
	return len(p), nil
}

func TestPumpDrainsAfterWriteFailure(t *testing.T) {
	events := make(chan *event.Event)
	done := make(chan error)
	go func() {
		done <- stream.Pump(context.Background(), stream.NewWriter(&failing{after: 1}, stream.WithInterval(0)), session(), events)
	}()
	for _, e := range sample() {
		events <- e
	}
	close(events)
	assert.Error(t, <-done)
}

func TestWriterPacing(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewWriter(&buf, stream.WithInterval(20*time.Millisecond))
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteFrame(context.Background(), "values", i))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, w.WriteFrame(ctx, "values", 4))
	assert.Equal(t, 3, w.Frames())
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	stream.SetHeaders(h)
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
}

func TestFrameIDsAreDense(t *testing.T) {
	kinds := []event.Kind{event.KindMessage, event.KindValues, event.KindCustom}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "events")
		var events []*event.Event
		for i := 0; i < n; i++ {
			switch rapid.SampledFrom(kinds).Draw(rt, "kind") {
			case event.KindMessage:
				partial := rapid.Bool().Draw(rt, "partial")
				events = append(events, event.NewMessageEvent(model.NewAssistantMessage("x"), partial))
			case event.KindValues:
				events = append(events, event.NewValuesEvent(nil))
			default:
				events = append(events, event.NewCustomEvent(i))
			}
		}
		if rapid.Bool().Draw(rt, "interrupted") {
			events = append(events, event.NewInterruptEvent("call_1", "tools", nil))
		}
		modes := rapid.SliceOfDistinct(rapid.SampledFrom([]string{
			stream.ModeValues, stream.ModeMessagesTuple, stream.ModeCustom, "updates",
		}), rapid.ID[string]).Draw(rt, "modes")

		var buf bytes.Buffer
		if err := stream.Pump(context.Background(), stream.NewWriter(&buf, stream.WithInterval(0)),
			stream.Session{RunID: "r", Modes: modes}, feed(events...)); err != nil {
			rt.Fatalf("pump: %v", err)
		}
		frames := parse(rt, buf.String())
		if len(frames) == 0 || frames[0].kind != stream.KindMetadata {
			rt.Fatalf("first frame is not metadata")
		}
		for i, f := range frames {
			if f.id != i {
				rt.Fatalf("frame %d has id %d", i, f.id)
			}
		}
	})
}
